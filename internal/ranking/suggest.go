package ranking

import (
	"slices"
	"strings"

	"movieapp/searchservice/internal/domain"
)

const DefaultSuggestLimit = 10

type Suggestion struct {
	Title     string          `json:"title"`
	Kind      domain.ItemKind `json:"kind"`
	Year      *int            `json:"year,omitempty"`
	ID        string          `json:"id,omitempty"`
	Relevance float64         `json:"relevance"`
}

// Suggest proposes titles related to a partial query. Titles containing the
// query, or contained in it, are scored by relevance; close misspellings are
// scored by similarity.
func (e *Engine) Suggest(candidates []domain.CandidateItem, raw string, limit int) []Suggestion {
	if len([]rune(strings.TrimSpace(raw))) < 2 {
		return []Suggestion{}
	}
	if limit < 1 {
		limit = DefaultSuggestLimit
	}
	q := parseQuery(raw)
	if q.normalized == "" {
		return []Suggestion{}
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]Suggestion, 0, limit)
	for _, item := range candidates {
		if item.Title == "" {
			continue
		}
		if _, ok := seen[item.Title]; ok {
			continue
		}
		title := Normalize(item.Title)
		if title == "" {
			continue
		}

		var relevance float64
		switch {
		case strings.Contains(title, q.normalized) || strings.Contains(q.normalized, title):
			relevance = e.weights.score(item, q, domain.RankingModeFuzzy).total()
		default:
			similarity := similarityNormalized(q.normalized, title)
			if similarity <= 0.6 {
				continue
			}
			relevance = similarity * 5
		}

		seen[item.Title] = struct{}{}
		kind := item.Kind
		if kind == "" {
			kind = domain.ItemKindMovie
		}
		out = append(out, Suggestion{
			Title:     item.Title,
			Kind:      kind,
			Year:      item.Year,
			ID:        item.ID,
			Relevance: roundScore(relevance),
		})
	}

	slices.SortStableFunc(out, func(a, b Suggestion) int {
		return compareFloat64(b.Relevance, a.Relevance)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
