package contentapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"movieapp/searchservice/internal/domain"
)

func TestSearchBuildsRequestAndNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "heat" || q.Get("page") != "1" || q.Get("limit") != "25" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[
			{"_id":"65a1","title":"Heat","type":"movie","year":1995,"duration":170,"genres":["Crime"," "],
			 "imdbID":"tt0113277","director":"Michael Mann","actors":["Al Pacino"],"imdbRating":8.3,
			 "viewCount":1200,"averageUserRating":4.5,"description":"A heist."},
			{"_id":"65a2","title":"Heat Wave","type":"series","year":0},
			{"title":"missing ids"}
		],"pagination":{"currentPage":1,"totalPages":1,"totalItems":3,"itemsPerPage":25}}`))
	}))
	defer server.Close()

	client := NewClient(Config{SearchURL: server.URL + "/api/contents/search", PageSize: 25, Client: server.Client()})
	items, err := client.Search(context.Background(), " heat ", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	heat := items[0]
	if heat.ID != "tt0113277" {
		t.Fatalf("expected imdb id to be preferred, got %q", heat.ID)
	}
	if heat.SourceOrigin != domain.SourceOriginPrimary || heat.Kind != domain.ItemKindMovie {
		t.Fatalf("unexpected origin/kind %+v", heat)
	}
	if heat.RuntimeMinutes == nil || *heat.RuntimeMinutes != 170 || heat.Plot != "A heist." {
		t.Fatalf("unexpected field mapping %+v", heat)
	}
	if len(heat.Genres) != 1 {
		t.Fatalf("expected blank genre dropped, got %v", heat.Genres)
	}
	wave := items[1]
	if wave.ID != "65a2" || wave.Year != nil || wave.Kind != domain.ItemKindSeries {
		t.Fatalf("unexpected fallback item %+v", wave)
	}
	if wave.Genres == nil || wave.Actors == nil {
		t.Fatalf("missing lists must normalize to empty slices")
	}
}

func TestSearchServerErrorFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{SearchURL: server.URL, Client: server.Client()})
	if _, err := client.Search(context.Background(), "heat", 1); err == nil {
		t.Fatal("expected error on HTTP 502")
	}
}

func TestGetByID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/contents/movie/tt0113277":
			_, _ = w.Write([]byte(`{"success":true,"data":{"imdbID":"tt0113277","Title":"Heat","Year":"1995",
				"Type":"movie","Runtime":"170 min","Genre":"Crime, Drama","Director":"Michael Mann",
				"Plot":"A heist.","Actors":"Al Pacino, Robert De Niro","imdbRating":"8.3",
				"averageUserRating":0,"viewCount":1201}}`))
		default:
			http.Error(w, `{"success":false}`, http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(Config{ItemURL: server.URL + "/api/contents/movie/", Client: server.Client()})
	item, err := client.Get(context.Background(), "tt0113277")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Title != "Heat" || item.Year == nil || *item.Year != 1995 || item.Kind != domain.ItemKindMovie {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.RuntimeMinutes == nil || *item.RuntimeMinutes != 170 || item.Plot != "A heist." {
		t.Fatalf("unexpected detail mapping %+v", item)
	}
	if len(item.Genres) != 2 || len(item.Actors) != 2 || item.Actors[1] != "Robert De Niro" {
		t.Fatalf("expected comma separated lists split, got %v %v", item.Genres, item.Actors)
	}
	if item.ExternalRating == nil || *item.ExternalRating != 8.3 || item.ViewCount != 1201 {
		t.Fatalf("unexpected ratings %+v", item)
	}

	_, err = client.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchToleratesMixedFieldTypes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[
			{"_id":"65a1","title":"The Matrix","year":"1999","imdbRating":"8.7","duration":"136 min","viewCount":"42"},
			{"_id":"65a2","title":"Heat","year":1995,"imdbRating":{"value":8.3},"genres":"Crime, Drama","actors":[1,"Al Pacino"]},
			{"_id":"65a3","title":42,"year":true,"imdbRating":"N/A","averageUserRating":null},
			"not an object",
			{"_id":"65a4","title":"Ronin","year":1998}
		]}`))
	}))
	defer server.Close()

	client := NewClient(Config{SearchURL: server.URL, Client: server.Client()})
	items, err := client.Search(context.Background(), "matrix", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}

	matrix := items[0]
	if matrix.Year == nil || *matrix.Year != 1999 {
		t.Fatalf("expected string year parsed, got %v", matrix.Year)
	}
	if matrix.ExternalRating == nil || *matrix.ExternalRating != 8.7 {
		t.Fatalf("expected string rating parsed, got %v", matrix.ExternalRating)
	}
	if matrix.RuntimeMinutes == nil || *matrix.RuntimeMinutes != 136 || matrix.ViewCount != 42 {
		t.Fatalf("unexpected numeric strings %+v", matrix)
	}

	heat := items[1]
	if heat.Year == nil || *heat.Year != 1995 || heat.ExternalRating != nil {
		t.Fatalf("expected bad rating to become null, got %+v", heat)
	}
	if len(heat.Genres) != 2 || len(heat.Actors) != 1 || heat.Actors[0] != "Al Pacino" {
		t.Fatalf("unexpected lists %v %v", heat.Genres, heat.Actors)
	}

	odd := items[2]
	if odd.ID != "65a3" || odd.Title != "42" || odd.Year != nil || odd.ExternalRating != nil || odd.UserRating != nil {
		t.Fatalf("unexpected lenient item %+v", odd)
	}
	if items[3].ID != "65a4" {
		t.Fatalf("items after a malformed entry must survive, got %+v", items[3])
	}
}

func TestNewClientDefaultsToContentRoutes(t *testing.T) {
	client := NewClient(Config{})
	if client.searchURL != DefaultSearchURL || client.itemURL != DefaultItemURL {
		t.Fatalf("unexpected defaults %q %q", client.searchURL, client.itemURL)
	}
}
