package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"movieapp/searchservice/internal/domain"
	"movieapp/searchservice/internal/ranking"
)

const (
	DefaultMergeCap = 50

	searchKeyPrefix = "search:"
	itemKeyPrefix   = "item:"
)

// mergeCandidates puts primary items first, then secondary items whose id was
// not seen yet. When both sources return the same id the primary copy keeps
// its values and only its empty fields are filled from the secondary one.
// Items without an id are dropped; the merged set is cut at limit.
func mergeCandidates(primary, secondary []domain.CandidateItem, limit int) []domain.CandidateItem {
	if limit <= 0 {
		limit = DefaultMergeCap
	}
	merged := make([]domain.CandidateItem, 0, min(len(primary)+len(secondary), limit))
	index := make(map[string]int, len(primary)+len(secondary))

	for _, item := range primary {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		if pos, ok := index[id]; ok {
			merged[pos].FillFrom(item)
			continue
		}
		item.ID = id
		index[id] = len(merged)
		merged = append(merged, item)
	}
	for _, item := range secondary {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		if pos, ok := index[id]; ok {
			merged[pos].FillFrom(item)
			continue
		}
		item.ID = id
		index[id] = len(merged)
		merged = append(merged, item)
	}

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

type cacheKeyInput struct {
	Query   string               `json:"q"`
	Year    int                  `json:"year,omitempty"`
	Page    int                  `json:"page"`
	Limit   int                  `json:"limit"`
	SortBy  domain.SearchSortBy  `json:"sortBy"`
	Mode    domain.RankingMode   `json:"mode"`
	Filters domain.SearchFilters `json:"filters"`
}

// buildSearchCacheKey hashes every input that changes the ranked page, so
// equivalent requests share an entry regardless of spelling of the query.
func buildSearchCacheKey(request domain.SearchRequest) string {
	filters := request.Filters
	filters.Genre = strings.ToLower(strings.TrimSpace(filters.Genre))

	year, _ := ranking.QueryYear(request.Query)
	payload, _ := json.Marshal(cacheKeyInput{
		Query:   ranking.Normalize(request.Query),
		Year:    year,
		Page:    request.Page,
		Limit:   request.Limit,
		SortBy:  request.SortBy,
		Mode:    request.Mode,
		Filters: filters,
	})
	sum := sha256.Sum256(payload)
	return searchKeyPrefix + hex.EncodeToString(sum[:])
}

func buildItemCacheKey(id string) string {
	return itemKeyPrefix + strings.TrimSpace(id)
}
