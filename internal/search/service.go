// Package search coordinates a search request: cache lookup, source fetch,
// merge, ranking and cache write.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"movieapp/searchservice/internal/domain"
	"movieapp/searchservice/internal/metrics"
	"movieapp/searchservice/internal/ranking"
	"movieapp/searchservice/internal/sources"
)

const (
	DefaultLimit         = 20
	MaxLimit             = 100
	DefaultCacheTTL      = 5 * time.Minute
	DefaultEmptyCacheTTL = 30 * time.Second
	DefaultSuggestLimit  = 10
	MaxSuggestLimit      = 20

	defaultFlightTimeout = 15 * time.Second
)

type Gateway interface {
	FetchCandidates(ctx context.Context, query string, page int) (sources.Fetch, error)
	FetchOne(ctx context.Context, id string) (domain.CandidateItem, error)
	Diagnostics() []domain.SourceDiagnostics
}

type Ranker interface {
	Rank(candidates []domain.CandidateItem, params ranking.Params) ([]domain.RankedItem, int, error)
	Suggest(candidates []domain.CandidateItem, raw string, limit int) []ranking.Suggestion
}

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

type Service struct {
	gateway Gateway
	ranker  Ranker
	cache   Cache
	logger  *slog.Logger

	cacheDisabled bool
	cacheTTL      time.Duration
	emptyCacheTTL time.Duration
	mergeCap      int
	flightTimeout time.Duration

	flights singleflight.Group

	warmerCfg warmerConfig
	popularMu sync.Mutex
	popular   map[string]*popularEntry
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCacheTTL(ttl, emptyTTL time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
		if emptyTTL > 0 {
			s.emptyCacheTTL = emptyTTL
		}
	}
}

func WithCacheDisabled(disabled bool) Option {
	return func(s *Service) {
		s.cacheDisabled = disabled
	}
}

func WithMergeCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.mergeCap = n
		}
	}
}

// WithFlightTimeout bounds source work that outlives the caller.
func WithFlightTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.flightTimeout = timeout
		}
	}
}

func WithWarmInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.warmerCfg.interval = interval
		}
	}
}

// NewService wires the orchestrator. cache may be nil, which disables caching.
func NewService(gateway Gateway, ranker Ranker, cache Cache, opts ...Option) *Service {
	s := &Service{
		gateway:       gateway,
		ranker:        ranker,
		cache:         cache,
		logger:        slog.Default(),
		cacheTTL:      DefaultCacheTTL,
		emptyCacheTTL: DefaultEmptyCacheTTL,
		mergeCap:      DefaultMergeCap,
		flightTimeout: defaultFlightTimeout,
		warmerCfg:     defaultWarmerConfig(),
		popular:       make(map[string]*popularEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cacheDisabled = true
	}
	return s
}

func normalizeRequest(request domain.SearchRequest) domain.SearchRequest {
	request.Query = strings.TrimSpace(request.Query)
	if request.Page < 1 {
		request.Page = 1
	}
	if request.Limit < 1 {
		request.Limit = DefaultLimit
	}
	if request.Limit > MaxLimit {
		request.Limit = MaxLimit
	}
	request.SortBy = domain.NormalizeSortBy(string(request.SortBy))
	if request.Mode != domain.RankingModeStrict {
		request.Mode = domain.RankingModeFuzzy
	}
	request.Filters.Genre = strings.TrimSpace(request.Filters.Genre)
	return request
}

// Search answers from the cache when it can and otherwise fetches, merges and
// ranks candidates. Concurrent misses for the same key share one fetch, and
// that fetch keeps running when the caller goes away so the result still
// lands in the cache.
func (s *Service) Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResult, error) {
	startedAt := time.Now()
	if err := sources.ValidateQuery(request.Query); err != nil {
		return domain.SearchResult{}, err
	}
	request = normalizeRequest(request)
	key := buildSearchCacheKey(request)

	if !s.cacheDisabled && !request.NoCache {
		if cached, ok := s.cacheLookup(ctx, key); ok {
			s.markPopular(key, request, startedAt)
			metrics.SearchResultsTotal.WithLabelValues("hit").Inc()
			cached.Query = request.Query
			cached.Cached = true
			cached.ElapsedMS = time.Since(startedAt).Milliseconds()
			return cached, nil
		}
	}

	ch := s.flights.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTimeout)
		defer cancel()
		return s.execute(flightCtx, key, request)
	})

	select {
	case <-ctx.Done():
		return domain.SearchResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.SearchResultsTotal.WithLabelValues("error").Inc()
			return domain.SearchResult{}, res.Err
		}
		result := res.Val.(domain.SearchResult)
		if len(result.Data) == 0 {
			metrics.SearchResultsTotal.WithLabelValues("empty").Inc()
		} else {
			metrics.SearchResultsTotal.WithLabelValues("miss").Inc()
		}
		s.markPopular(key, request, startedAt)
		result.Query = request.Query
		result.ElapsedMS = time.Since(startedAt).Milliseconds()
		return result, nil
	}
}

// execute runs the miss path and stores the ranked page.
func (s *Service) execute(ctx context.Context, key string, request domain.SearchRequest) (domain.SearchResult, error) {
	startedAt := time.Now()
	fetch, err := s.gateway.FetchCandidates(ctx, request.Query, 1)
	if err != nil {
		return domain.SearchResult{}, err
	}

	candidates := mergeCandidates(fetch.Primary.Items, fetch.Secondary.Items, s.mergeCap)
	ranked, total, err := s.ranker.Rank(candidates, ranking.Params{
		Query:    request.Query,
		Filters:  request.Filters,
		SortBy:   request.SortBy,
		Mode:     request.Mode,
		Page:     request.Page,
		PageSize: request.Limit,
	})
	if err != nil {
		s.logger.Error("ranking failed",
			slog.String("query", request.Query),
			slog.Int("candidates", len(candidates)),
			slog.String("error", err.Error()),
		)
		return domain.SearchResult{}, fmt.Errorf("%w: %w", domain.ErrRankingFailed, err)
	}
	if ranked == nil {
		ranked = []domain.RankedItem{}
	}

	result := domain.SearchResult{
		Query:      request.Query,
		Data:       ranked,
		Pagination: domain.NewPagination(request.Page, request.Limit, total),
		Sources:    buildSourcesReport(fetch),
		SortBy:     request.SortBy,
		Mode:       request.Mode,
		ElapsedMS:  time.Since(startedAt).Milliseconds(),
	}

	if !s.cacheDisabled {
		ttl := s.cacheTTL
		if total == 0 {
			ttl = s.emptyCacheTTL
		}
		s.cacheStore(ctx, key, result, ttl)
	}

	s.logger.Debug("search executed",
		slog.String("query", request.Query),
		slog.Int("candidates", len(candidates)),
		slog.Int("total", total),
		slog.Bool("primary", result.Sources.ContentService),
		slog.Bool("secondary", result.Sources.OMDb),
		slog.Int64("elapsedMs", result.ElapsedMS),
	)
	return result, nil
}

func buildSourcesReport(fetch sources.Fetch) domain.SourcesReport {
	report := domain.SourcesReport{
		ContentService: fetch.Primary.Queried && fetch.Primary.Available,
		OMDb:           fetch.Secondary.Queried && fetch.Secondary.Available,
	}
	for _, res := range []sources.Result{fetch.Primary, fetch.Secondary} {
		if res.Name == "" {
			continue
		}
		report.Details = append(report.Details, res.Status())
	}
	return report
}

func (s *Service) cacheLookup(ctx context.Context, key string) (domain.SearchResult, bool) {
	payload, ok := s.cache.Get(ctx, key)
	if !ok {
		return domain.SearchResult{}, false
	}
	var result domain.SearchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		s.logger.Warn("discarding undecodable cache entry", slog.String("key", key), slog.String("error", err.Error()))
		return domain.SearchResult{}, false
	}
	if result.Data == nil {
		result.Data = []domain.RankedItem{}
	}
	return result, true
}

func (s *Service) cacheStore(ctx context.Context, key string, result domain.SearchResult, ttl time.Duration) {
	result.Cached = false
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("search result not cacheable", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	s.cache.Set(ctx, key, payload, ttl)
}

// Detail returns one item by id, cached under its own key.
func (s *Service) Detail(ctx context.Context, id string) (domain.CandidateItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	key := buildItemCacheKey(id)
	if !s.cacheDisabled {
		if payload, ok := s.cache.Get(ctx, key); ok {
			var item domain.CandidateItem
			if err := json.Unmarshal(payload, &item); err == nil {
				return item, nil
			}
		}
	}

	item, err := s.gateway.FetchOne(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		}
		return domain.CandidateItem{}, err
	}
	if !s.cacheDisabled {
		if payload, err := json.Marshal(item); err == nil {
			s.cache.Set(ctx, key, payload, s.cacheTTL)
		}
	}
	return item, nil
}

// Suggest proposes titles for a partial query from a fresh candidate fetch.
func (s *Service) Suggest(ctx context.Context, query string, limit int) ([]ranking.Suggestion, error) {
	if err := sources.ValidateQuery(query); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = DefaultSuggestLimit
	}
	if limit > MaxSuggestLimit {
		limit = MaxSuggestLimit
	}
	query = strings.TrimSpace(query)

	fetch, err := s.gateway.FetchCandidates(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	candidates := mergeCandidates(fetch.Primary.Items, fetch.Secondary.Items, s.mergeCap)
	return s.ranker.Suggest(candidates, query, limit), nil
}

func (s *Service) SourceDiagnostics() []domain.SourceDiagnostics {
	return s.gateway.Diagnostics()
}
