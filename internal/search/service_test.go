package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"movieapp/searchservice/internal/cache"
	"movieapp/searchservice/internal/domain"
	"movieapp/searchservice/internal/ranking"
	"movieapp/searchservice/internal/sources"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeGateway struct {
	fetch   sources.Fetch
	err     error
	delay   time.Duration
	item    *domain.CandidateItem
	itemErr error

	fetchCalls atomic.Int32
	getCalls   atomic.Int32
}

func (g *fakeGateway) FetchCandidates(ctx context.Context, query string, _ int) (sources.Fetch, error) {
	if err := sources.ValidateQuery(query); err != nil {
		return sources.Fetch{}, err
	}
	g.fetchCalls.Add(1)
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return sources.Fetch{}, ctx.Err()
		case <-time.After(g.delay):
		}
	}
	return g.fetch, g.err
}

func (g *fakeGateway) FetchOne(_ context.Context, _ string) (domain.CandidateItem, error) {
	g.getCalls.Add(1)
	if g.itemErr != nil {
		return domain.CandidateItem{}, g.itemErr
	}
	if g.item == nil {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	return *g.item, nil
}

func (g *fakeGateway) Diagnostics() []domain.SourceDiagnostics {
	return []domain.SourceDiagnostics{{Name: "fake", Role: "primary", Enabled: true}}
}

type recordingCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	gets    int
	sets    int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *recordingCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	value, ok := c.entries[key]
	return value, ok
}

func (c *recordingCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = append([]byte(nil), value...)
	c.ttls[key] = ttl
}

func (c *recordingCache) snapshot() (gets, sets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets, c.sets
}

func (c *recordingCache) ttl(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ttl, ok := c.ttls[key]
	return ttl, ok
}

type failingRanker struct{}

func (failingRanker) Rank([]domain.CandidateItem, ranking.Params) ([]domain.RankedItem, int, error) {
	return nil, 0, errors.New("boom")
}

func (failingRanker) Suggest([]domain.CandidateItem, string, int) []ranking.Suggestion {
	return nil
}

type stubSource struct {
	name  string
	items []domain.CandidateItem
	delay time.Duration
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Search(ctx context.Context, _ string, _ int) ([]domain.CandidateItem, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.items, nil
}

func (s *stubSource) Get(context.Context, string) (domain.CandidateItem, error) {
	return domain.CandidateItem{}, domain.ErrNotFound
}

func intPtr(v int) *int { return &v }

func titled(origin domain.SourceOrigin, prefix string, titles ...string) []domain.CandidateItem {
	items := make([]domain.CandidateItem, 0, len(titles))
	for i, title := range titles {
		items = append(items, domain.CandidateItem{
			ID:           fmt.Sprintf("%s%d", prefix, i),
			Title:        title,
			Kind:         domain.ItemKindMovie,
			SourceOrigin: origin,
		})
	}
	return items
}

func primaryFetch(items []domain.CandidateItem) sources.Fetch {
	return sources.Fetch{
		Primary:   sources.Result{Name: "content-service", Queried: true, Available: true, Items: items},
		Secondary: sources.Result{Name: "omdb"},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearchRejectsShortQueryWithoutSideEffects(t *testing.T) {
	gw := &fakeGateway{}
	c := newRecordingCache()
	svc := NewService(gw, ranking.New(), c)

	_, err := svc.Search(context.Background(), domain.SearchRequest{Query: " a "})
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if gets, sets := c.snapshot(); gets != 0 || sets != 0 {
		t.Fatalf("expected no cache traffic, got %d gets %d sets", gets, sets)
	}
	if gw.fetchCalls.Load() != 0 {
		t.Fatal("expected no source calls")
	}
}

func TestSearchCacheHitSkipsSources(t *testing.T) {
	gw := &fakeGateway{fetch: primaryFetch(titled(domain.SourceOriginPrimary, "p", "Heat", "Heat Wave"))}
	c := newRecordingCache()
	svc := NewService(gw, ranking.New(), c)
	request := domain.SearchRequest{Query: "heat"}

	first, err := svc.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	if first.Cached || len(first.Data) != 2 {
		t.Fatalf("unexpected first result %+v", first)
	}
	if ttl, _ := c.ttl(buildSearchCacheKey(normalizeRequest(request))); ttl != DefaultCacheTTL {
		t.Fatalf("expected %s ttl, got %s", DefaultCacheTTL, ttl)
	}

	second, err := svc.Search(context.Background(), domain.SearchRequest{Query: " Heat "})
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if !second.Cached {
		t.Fatal("expected cached result")
	}
	if second.Query != "Heat" {
		t.Fatalf("expected echoed query, got %q", second.Query)
	}
	if len(second.Data) != 2 || second.Data[0].ID != first.Data[0].ID {
		t.Fatalf("cached data differs: %+v", second.Data)
	}
	if gw.fetchCalls.Load() != 1 {
		t.Fatalf("expected 1 source fetch, got %d", gw.fetchCalls.Load())
	}
}

func TestSearchEmptyResultIsCachedBriefly(t *testing.T) {
	gw := &fakeGateway{fetch: sources.Fetch{
		Primary:   sources.Result{Name: "content-service", Queried: true, Err: errors.New("down")},
		Secondary: sources.Result{Name: "omdb", Queried: true, Err: errors.New("down")},
	}}
	c := newRecordingCache()
	svc := NewService(gw, ranking.New(), c)
	request := domain.SearchRequest{Query: "nothing here"}

	result, err := svc.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("expected empty success, got %v", err)
	}
	if result.Data == nil || len(result.Data) != 0 || result.Pagination.TotalItems != 0 {
		t.Fatalf("expected empty data, got %+v", result)
	}
	if result.Sources.ContentService || result.Sources.OMDb {
		t.Fatalf("expected both flags false, got %+v", result.Sources)
	}
	ttl, ok := c.ttl(buildSearchCacheKey(normalizeRequest(request)))
	if !ok || ttl != DefaultEmptyCacheTTL {
		t.Fatalf("expected empty result cached for %s, got %s (%v)", DefaultEmptyCacheTTL, ttl, ok)
	}
}

func TestSearchYearTokenIsPartOfCacheIdentity(t *testing.T) {
	gw := &fakeGateway{fetch: primaryFetch([]domain.CandidateItem{
		{ID: "new", Title: "Batman", Year: intPtr(2021), Kind: domain.ItemKindMovie},
		{ID: "old", Title: "Batman", Year: intPtr(2008), Kind: domain.ItemKindMovie},
	})}
	svc := NewService(gw, ranking.New(), newRecordingCache())

	if _, err := svc.Search(context.Background(), domain.SearchRequest{Query: "batman2008"}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	result, err := svc.Search(context.Background(), domain.SearchRequest{Query: "batman:2008"})
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if result.Cached {
		t.Fatal("year query must not reuse the yearless ranking")
	}
	if len(result.Data) != 2 || result.Data[0].ID != "old" {
		t.Fatalf("expected the 2008 film first, got %+v", result.Data)
	}
	if gw.fetchCalls.Load() != 2 {
		t.Fatalf("expected 2 fetches, got %d", gw.fetchCalls.Load())
	}
}

func TestSearchRankingFailureSkipsCacheWrite(t *testing.T) {
	gw := &fakeGateway{fetch: primaryFetch(titled(domain.SourceOriginPrimary, "p", "Heat"))}
	c := newRecordingCache()
	svc := NewService(gw, failingRanker{}, c)

	_, err := svc.Search(context.Background(), domain.SearchRequest{Query: "heat"})
	if !errors.Is(err, domain.ErrRankingFailed) {
		t.Fatalf("expected ErrRankingFailed, got %v", err)
	}
	if _, sets := c.snapshot(); sets != 0 {
		t.Fatalf("expected no cache write, got %d", sets)
	}
}

func TestSearchNoCacheSkipsLookupButStores(t *testing.T) {
	gw := &fakeGateway{fetch: primaryFetch(titled(domain.SourceOriginPrimary, "p", "Heat"))}
	c := newRecordingCache()
	svc := NewService(gw, ranking.New(), c)

	for i := 0; i < 2; i++ {
		result, err := svc.Search(context.Background(), domain.SearchRequest{Query: "heat", NoCache: true})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if result.Cached {
			t.Fatal("noCache must never return a cached result")
		}
	}
	gets, sets := c.snapshot()
	if gets != 0 || sets != 2 {
		t.Fatalf("expected 0 gets and 2 sets, got %d and %d", gets, sets)
	}
	if gw.fetchCalls.Load() != 2 {
		t.Fatalf("expected 2 fetches, got %d", gw.fetchCalls.Load())
	}
}

func TestSearchDisabledCacheNeverTouchesStore(t *testing.T) {
	gw := &fakeGateway{fetch: primaryFetch(titled(domain.SourceOriginPrimary, "p", "Heat"))}
	c := newRecordingCache()
	svc := NewService(gw, ranking.New(), c, WithCacheDisabled(true))

	if _, err := svc.Search(context.Background(), domain.SearchRequest{Query: "heat"}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if gets, sets := c.snapshot(); gets != 0 || sets != 0 {
		t.Fatalf("expected no cache traffic, got %d gets %d sets", gets, sets)
	}
}

func TestSearchClientDisconnectStillWarmsCache(t *testing.T) {
	gw := &fakeGateway{
		fetch: primaryFetch(titled(domain.SourceOriginPrimary, "p", "Heat")),
		delay: 100 * time.Millisecond,
	}
	c := newRecordingCache()
	svc := NewService(gw, ranking.New(), c)
	request := domain.SearchRequest{Query: "heat"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := svc.Search(ctx, request); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}

	key := buildSearchCacheKey(normalizeRequest(request))
	waitFor(t, 2*time.Second, func() bool {
		_, ok := c.ttl(key)
		return ok
	})

	result, err := svc.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !result.Cached || gw.fetchCalls.Load() != 1 {
		t.Fatalf("expected cached result from detached fetch, cached=%v fetches=%d", result.Cached, gw.fetchCalls.Load())
	}
}

func TestSearchPrimaryTimeoutEndToEnd(t *testing.T) {
	primary := &stubSource{name: "content-service", items: titled(domain.SourceOriginPrimary, "p", "Heat"), delay: time.Second}
	secondary := &stubSource{name: "omdb", items: titled(domain.SourceOriginSecondary, "tt",
		"Heat", "Heat Wave", "The Heat", "Heatwave", "Heat and Dust")}
	gw := sources.NewGateway(primary, secondary,
		sources.WithTimeout(50*time.Millisecond),
		sources.WithHedgeDelay(10*time.Millisecond),
	)
	layer := cache.New(nil)
	defer layer.Close()
	svc := NewService(gw, ranking.New(), layer)

	result, err := svc.Search(context.Background(), domain.SearchRequest{Query: "heat"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Sources.ContentService || !result.Sources.OMDb {
		t.Fatalf("expected primary down and secondary up, got %+v", result.Sources)
	}
	if result.Pagination.TotalItems != 5 {
		t.Fatalf("expected 5 items, got %d", result.Pagination.TotalItems)
	}
	for _, item := range result.Data {
		if item.SourceOrigin != domain.SourceOriginSecondary {
			t.Fatalf("expected secondary origin, got %q", item.SourceOrigin)
		}
	}
	if result.Data[0].Title != "Heat" {
		t.Fatalf("expected exact match first, got %q", result.Data[0].Title)
	}

	again, err := svc.Search(context.Background(), domain.SearchRequest{Query: "heat"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !again.Cached || len(again.Data) != len(result.Data) {
		t.Fatalf("expected cached replay, got %+v", again)
	}
}

// ---------------------------------------------------------------------------
// Detail and Suggest
// ---------------------------------------------------------------------------

func TestDetailCachesItem(t *testing.T) {
	gw := &fakeGateway{item: &domain.CandidateItem{ID: "tt0113277", Title: "Heat"}}
	svc := NewService(gw, ranking.New(), newRecordingCache())

	for i := 0; i < 2; i++ {
		item, err := svc.Detail(context.Background(), "tt0113277")
		if err != nil {
			t.Fatalf("detail: %v", err)
		}
		if item.Title != "Heat" {
			t.Fatalf("unexpected item %+v", item)
		}
	}
	if gw.getCalls.Load() != 1 {
		t.Fatalf("expected one source lookup, got %d", gw.getCalls.Load())
	}
}

func TestDetailNotFound(t *testing.T) {
	svc := NewService(&fakeGateway{}, ranking.New(), newRecordingCache())
	for _, id := range []string{"", "tt404"} {
		if _, err := svc.Detail(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("id %q: expected ErrNotFound, got %v", id, err)
		}
	}

	svc = NewService(&fakeGateway{itemErr: errors.New("io")}, ranking.New(), nil)
	if _, err := svc.Detail(context.Background(), "tt1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound wrapping source error, got %v", err)
	}
}

func TestSuggestUsesFreshCandidates(t *testing.T) {
	gw := &fakeGateway{fetch: primaryFetch(titled(domain.SourceOriginPrimary, "p", "Heat", "Heat Wave", "Alien"))}
	c := newRecordingCache()
	svc := NewService(gw, ranking.New(), c)

	suggestions, err := svc.Suggest(context.Background(), "hea", 0)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %+v", suggestions)
	}
	if gets, _ := c.snapshot(); gets != 0 {
		t.Fatal("suggest must not read cached search payloads")
	}

	if _, err := svc.Suggest(context.Background(), "h", 5); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// warmer
// ---------------------------------------------------------------------------

func TestWarmCycleRefreshesPopularQueries(t *testing.T) {
	gw := &fakeGateway{fetch: primaryFetch(titled(domain.SourceOriginPrimary, "p", "Heat"))}
	c := newRecordingCache()
	svc := NewService(gw, ranking.New(), c)

	if _, err := svc.Search(context.Background(), domain.SearchRequest{Query: "heat"}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, err := svc.Search(context.Background(), domain.SearchRequest{Query: "heat", Page: 2}); err != nil {
		t.Fatalf("search: %v", err)
	}

	svc.runWarmCycle(context.Background())
	if gw.fetchCalls.Load() != 3 {
		t.Fatalf("expected one warm refresh, got %d fetches", gw.fetchCalls.Load())
	}

	// refreshed within the last half interval
	svc.runWarmCycle(context.Background())
	if gw.fetchCalls.Load() != 3 {
		t.Fatalf("expected no second refresh, got %d fetches", gw.fetchCalls.Load())
	}
}

func TestMarkPopularEvictsLeastRequested(t *testing.T) {
	svc := NewService(&fakeGateway{}, ranking.New(), newRecordingCache())
	svc.warmerCfg.popularMaxEntries = 2
	now := time.Now()

	svc.markPopular("a", domain.SearchRequest{Query: "aa"}, now)
	svc.markPopular("a", domain.SearchRequest{Query: "aa"}, now)
	svc.markPopular("b", domain.SearchRequest{Query: "bb"}, now)
	svc.markPopular("c", domain.SearchRequest{Query: "cc"}, now.Add(time.Second))

	if len(svc.popular) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(svc.popular))
	}
	if _, ok := svc.popular["b"]; ok {
		t.Fatal("expected least requested oldest entry to be evicted")
	}
}
