package domain

import (
	"strings"
	"time"
)

type ItemKind string

const (
	ItemKindMovie   ItemKind = "movie"
	ItemKindSeries  ItemKind = "series"
	ItemKindEpisode ItemKind = "episode"
)

type SourceOrigin string

const (
	SourceOriginPrimary   SourceOrigin = "primary"
	SourceOriginSecondary SourceOrigin = "secondary"
)

type SearchSortBy string

const (
	SearchSortByRelevance  SearchSortBy = "relevance"
	SearchSortByRating     SearchSortBy = "rating"
	SearchSortByYear       SearchSortBy = "year"
	SearchSortByPopularity SearchSortBy = "popularity"
	SearchSortByTitle      SearchSortBy = "title"
)

// RankingMode selects whether edit-distance similarity takes part in scoring
// and inclusion. It is chosen once per request.
type RankingMode string

const (
	RankingModeStrict RankingMode = "strict"
	RankingModeFuzzy  RankingMode = "fuzzy"
)

// CandidateItem is a content record normalized from either source.
type CandidateItem struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Year           *int         `json:"year"`
	Kind           ItemKind     `json:"kind,omitempty"`
	PosterURL      string       `json:"posterUrl,omitempty"`
	RuntimeMinutes *int         `json:"runtimeMinutes"`
	Genres         []string     `json:"genres"`
	Director       string       `json:"director,omitempty"`
	Writer         string       `json:"writer,omitempty"`
	Actors         []string     `json:"actors"`
	Plot           string       `json:"plot,omitempty"`
	ExternalRating *float64     `json:"externalRating"`
	UserRating     *float64     `json:"userRating"`
	ViewCount      int64        `json:"viewCount"`
	SourceOrigin   SourceOrigin `json:"sourceOrigin"`
}

type RankedItem struct {
	CandidateItem
	RelevanceScore float64 `json:"relevanceScore"`
	Position       int     `json:"position"`
}

type SearchFilters struct {
	Kind      ItemKind `json:"kind,omitempty"`
	Genre     string   `json:"genre,omitempty"`
	YearFrom  int      `json:"yearFrom,omitempty"`
	YearTo    int      `json:"yearTo,omitempty"`
	MinRating *float64 `json:"minRating,omitempty"`
	MaxRating *float64 `json:"maxRating,omitempty"`
}

func (f SearchFilters) Active() bool {
	return f.Kind != "" || strings.TrimSpace(f.Genre) != "" || f.YearFrom > 0 || f.YearTo > 0 ||
		f.MinRating != nil || f.MaxRating != nil
}

type SearchRequest struct {
	Query   string
	Page    int
	Limit   int
	Filters SearchFilters
	SortBy  SearchSortBy
	Mode    RankingMode
	NoCache bool
}

type Pagination struct {
	CurrentPage     int  `json:"currentPage"`
	TotalPages      int  `json:"totalPages"`
	TotalItems      int  `json:"totalItems"`
	ItemsPerPage    int  `json:"itemsPerPage"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

func NewPagination(page, perPage, total int) Pagination {
	if perPage < 1 {
		perPage = 1
	}
	if page < 1 {
		page = 1
	}
	totalPages := (total + perPage - 1) / perPage
	return Pagination{
		CurrentPage:     page,
		TotalPages:      totalPages,
		TotalItems:      total,
		ItemsPerPage:    perPage,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

type SourceStatus struct {
	Name      string `json:"name"`
	Queried   bool   `json:"queried"`
	OK        bool   `json:"ok"`
	Count     int    `json:"count"`
	ElapsedMS int64  `json:"elapsedMs,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SourcesReport tells which backends contributed to a result. A flag is true
// only when that source was queried and answered.
type SourcesReport struct {
	ContentService bool           `json:"contentService"`
	OMDb           bool           `json:"omdb"`
	Details        []SourceStatus `json:"details,omitempty"`
}

type SearchResult struct {
	Query      string        `json:"query"`
	Data       []RankedItem  `json:"data"`
	Pagination Pagination    `json:"pagination"`
	Sources    SourcesReport `json:"sources"`
	SortBy     SearchSortBy  `json:"sortBy"`
	Mode       RankingMode   `json:"mode"`
	Cached     bool          `json:"cached"`
	ElapsedMS  int64         `json:"elapsedMs"`
}

type SourceDiagnostics struct {
	Name                string     `json:"name"`
	Role                string     `json:"role"`
	Enabled             bool       `json:"enabled"`
	BreakerState        string     `json:"breakerState"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	TimeoutCount        int64      `json:"timeoutCount"`
}

func NormalizeSortBy(raw string) SearchSortBy {
	switch SearchSortBy(strings.ToLower(strings.TrimSpace(raw))) {
	case SearchSortByRating:
		return SearchSortByRating
	case SearchSortByYear:
		return SearchSortByYear
	case SearchSortByPopularity:
		return SearchSortByPopularity
	case SearchSortByTitle:
		return SearchSortByTitle
	default:
		return SearchSortByRelevance
	}
}

func NormalizeKind(raw string) ItemKind {
	switch ItemKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ItemKindMovie:
		return ItemKindMovie
	case ItemKindSeries:
		return ItemKindSeries
	case ItemKindEpisode:
		return ItemKindEpisode
	default:
		return ""
	}
}

// RatingValue prefers the user rating when it is set and non-zero.
func (c CandidateItem) RatingValue() float64 {
	if c.UserRating != nil && *c.UserRating > 0 {
		return *c.UserRating
	}
	if c.ExternalRating != nil {
		return *c.ExternalRating
	}
	return 0
}

// FilterRating prefers the external rating; it is the value rating filters
// and the rating sort compare against.
func (c CandidateItem) FilterRating() (float64, bool) {
	if c.ExternalRating != nil {
		return *c.ExternalRating, true
	}
	if c.UserRating != nil {
		return *c.UserRating, true
	}
	return 0, false
}

// FillFrom copies fields that are empty on c from other. Values already set on
// c are never overwritten.
func (c *CandidateItem) FillFrom(other CandidateItem) {
	if c.Title == "" {
		c.Title = other.Title
	}
	if c.Year == nil && other.Year != nil {
		c.Year = other.Year
	}
	if c.Kind == "" {
		c.Kind = other.Kind
	}
	if c.PosterURL == "" {
		c.PosterURL = other.PosterURL
	}
	if c.RuntimeMinutes == nil && other.RuntimeMinutes != nil {
		c.RuntimeMinutes = other.RuntimeMinutes
	}
	if len(c.Genres) == 0 && len(other.Genres) > 0 {
		c.Genres = append([]string(nil), other.Genres...)
	}
	if c.Director == "" {
		c.Director = other.Director
	}
	if c.Writer == "" {
		c.Writer = other.Writer
	}
	if len(c.Actors) == 0 && len(other.Actors) > 0 {
		c.Actors = append([]string(nil), other.Actors...)
	}
	if c.Plot == "" {
		c.Plot = other.Plot
	}
	if c.ExternalRating == nil && other.ExternalRating != nil {
		c.ExternalRating = other.ExternalRating
	}
	if c.UserRating == nil && other.UserRating != nil {
		c.UserRating = other.UserRating
	}
	if c.ViewCount == 0 {
		c.ViewCount = other.ViewCount
	}
}
