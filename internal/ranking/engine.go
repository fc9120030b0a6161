// Package ranking scores, filters, orders and paginates candidate items for a
// free-text query. Everything here is pure: the same input always produces the
// same ordering and scores.
package ranking

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"movieapp/searchservice/internal/domain"
)

var ErrMalformedCandidate = errors.New("malformed candidate")

const (
	DefaultFuzzyThreshold = 0.4
	DefaultPageSize       = 20
)

type Engine struct {
	weights        Weights
	fuzzyThreshold float64
	pageSize       int
}

type Option func(*Engine)

func WithWeights(weights Weights) Option {
	return func(e *Engine) {
		e.weights = weights
	}
}

func WithFuzzyThreshold(threshold float64) Option {
	return func(e *Engine) {
		if threshold > 0 && threshold <= 1 {
			e.fuzzyThreshold = threshold
		}
	}
}

func WithDefaultPageSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.pageSize = size
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		weights:        DefaultWeights(),
		fuzzyThreshold: DefaultFuzzyThreshold,
		pageSize:       DefaultPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) FuzzyThreshold() float64 {
	return e.fuzzyThreshold
}

type Params struct {
	Query    string
	Filters  domain.SearchFilters
	SortBy   domain.SearchSortBy
	Mode     domain.RankingMode
	Page     int
	PageSize int
}

type scored struct {
	item  domain.CandidateItem
	score float64
}

// Rank returns one page of ranked items and the total number of items that
// survived scoring and filtering.
func (e *Engine) Rank(candidates []domain.CandidateItem, params Params) ([]domain.RankedItem, int, error) {
	for i, item := range candidates {
		if !validateCandidate(item) {
			return nil, 0, fmt.Errorf("%w: index %d id %q", ErrMalformedCandidate, i, item.ID)
		}
	}

	mode := params.Mode
	if mode != domain.RankingModeStrict {
		mode = domain.RankingModeFuzzy
	}
	sortBy := domain.NormalizeSortBy(string(params.SortBy))
	q := parseQuery(params.Query)

	pool := make([]scored, 0, len(candidates))
	for _, item := range candidates {
		b := e.weights.score(item, q, mode)
		entry := scored{item: item, score: b.total()}
		if !q.empty() && b.keyword == 0 {
			if mode == domain.RankingModeFuzzy && b.similarity >= e.fuzzyThreshold {
				entry.score = b.similarity + b.boost
			} else if sortBy == domain.SearchSortByRelevance {
				continue
			} else {
				// Kept for single-key sorts, but without a text match there is no relevance.
				entry.score = 0
			}
		}
		if !matchesFilters(item, params.Filters) {
			continue
		}
		pool = append(pool, entry)
	}

	sortScored(pool, sortBy)

	total := len(pool)
	page, pageSize := params.Page, params.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = e.pageSize
	}
	offset := (page - 1) * pageSize
	if offset >= total {
		return []domain.RankedItem{}, total, nil
	}
	end := min(offset+pageSize, total)

	out := make([]domain.RankedItem, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, domain.RankedItem{
			CandidateItem:  pool[i].item,
			RelevanceScore: roundScore(pool[i].score),
			Position:       i + 1,
		})
	}
	return out, total, nil
}

func sortScored(pool []scored, sortBy domain.SearchSortBy) {
	slices.SortStableFunc(pool, func(a, b scored) int {
		switch sortBy {
		case domain.SearchSortByRating:
			ra, _ := a.item.FilterRating()
			rb, _ := b.item.FilterRating()
			return compareFloat64(rb, ra)
		case domain.SearchSortByYear:
			return compareInt(yearOf(b.item), yearOf(a.item))
		case domain.SearchSortByPopularity:
			return compareInt64(b.item.ViewCount, a.item.ViewCount)
		case domain.SearchSortByTitle:
			return strings.Compare(strings.ToLower(a.item.Title), strings.ToLower(b.item.Title))
		default:
			return compareRelevance(a, b)
		}
	})
}

func compareRelevance(a, b scored) int {
	if cmp := compareFloat64(b.score, a.score); cmp != 0 {
		return cmp
	}
	if cmp := compareFloat64(b.item.RatingValue(), a.item.RatingValue()); cmp != 0 {
		return cmp
	}
	return compareInt64(b.item.ViewCount, a.item.ViewCount)
}

func matchesFilters(item domain.CandidateItem, filters domain.SearchFilters) bool {
	if filters.Kind != "" {
		kind := item.Kind
		if kind == "" {
			kind = domain.ItemKindMovie
		}
		if kind != filters.Kind {
			return false
		}
	}
	if genre := Normalize(filters.Genre); genre != "" {
		found := false
		for _, g := range item.Genres {
			if strings.Contains(Normalize(g), genre) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filters.YearFrom > 0 || filters.YearTo > 0 {
		year := yearOf(item)
		if filters.YearFrom > 0 && year < filters.YearFrom {
			return false
		}
		if filters.YearTo > 0 && year > filters.YearTo {
			return false
		}
	}
	if filters.MinRating != nil || filters.MaxRating != nil {
		rating, _ := item.FilterRating()
		if filters.MinRating != nil && rating < *filters.MinRating {
			return false
		}
		if filters.MaxRating != nil && rating > *filters.MaxRating {
			return false
		}
	}
	return true
}

func yearOf(item domain.CandidateItem) int {
	if item.Year == nil {
		return 0
	}
	return *item.Year
}

func roundScore(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

func compareInt(left, right int) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

func compareInt64(left, right int64) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

func compareFloat64(left, right float64) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}
