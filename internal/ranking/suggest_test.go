package ranking

import (
	"testing"

	"movieapp/searchservice/internal/domain"
)

func TestSuggestPrefersContainedTitles(t *testing.T) {
	candidates := []domain.CandidateItem{
		{ID: "tt1375666", Title: "Inception", ExternalRating: floatPtr(8.8)},
		{ID: "tt5295894", Title: "Inception: The Cobol Job", Kind: domain.ItemKindEpisode},
		{ID: "tt0133093", Title: "The Matrix"},
		{ID: "dup", Title: "Inception"},
	}
	got := New().Suggest(candidates, "incep", 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %#v", got)
	}
	if got[0].Title != "Inception" {
		t.Fatalf("expected rated title first, got %q", got[0].Title)
	}
	if got[0].ID != "tt1375666" {
		t.Fatalf("expected first occurrence to win, got %q", got[0].ID)
	}
	if got[1].Kind != domain.ItemKindEpisode {
		t.Fatalf("expected kind carried through, got %q", got[1].Kind)
	}
}

func TestSuggestIncludesCloseMisspellings(t *testing.T) {
	candidates := []domain.CandidateItem{
		{ID: "1", Title: "Gladiator"},
	}
	got := New().Suggest(candidates, "gladiatr", 5)
	if len(got) != 1 {
		t.Fatalf("expected misspelled query to suggest Gladiator, got %#v", got)
	}
	if got[0].Kind != domain.ItemKindMovie {
		t.Fatalf("expected default kind movie, got %q", got[0].Kind)
	}
}

func TestSuggestShortQueryAndLimit(t *testing.T) {
	candidates := []domain.CandidateItem{
		{ID: "1", Title: "Up"},
		{ID: "2", Title: "Up in the Air"},
		{ID: "3", Title: "Upgrade"},
	}
	if got := New().Suggest(candidates, "u", 10); len(got) != 0 {
		t.Fatalf("expected no suggestions for 1-char query, got %#v", got)
	}
	if got := New().Suggest(candidates, "up", 2); len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}
}
