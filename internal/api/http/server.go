package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"movieapp/searchservice/internal/cache"
	"movieapp/searchservice/internal/domain"
	"movieapp/searchservice/internal/ranking"
)

type SearchService interface {
	Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResult, error)
	Detail(ctx context.Context, id string) (domain.CandidateItem, error)
	Suggest(ctx context.Context, query string, limit int) ([]ranking.Suggestion, error)
	SourceDiagnostics() []domain.SourceDiagnostics
}

type CacheHealthReporter interface {
	HealthCheck(ctx context.Context) cache.Health
}

type CacheStatsReporter interface {
	Stats(ctx context.Context) cache.Stats
}

type Server struct {
	search     SearchService
	cache      CacheHealthReporter
	cacheStats CacheStatsReporter
	logger     *slog.Logger

	rateLimitRPS   float64
	rateLimitBurst int
}

const (
	maxQueryLength = 500
	maxRating      = 10
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithCacheHealth(reporter CacheHealthReporter) ServerOption {
	return func(s *Server) {
		s.cache = reporter
	}
}

func WithCacheStats(reporter CacheStatsReporter) ServerOption {
	return func(s *Server) {
		s.cacheStats = reporter
	}
}

// WithRateLimit sets the global request budget. A non-positive rps disables
// limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimitRPS = rps
		s.rateLimitBurst = burst
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:         searchService,
		logger:         slog.Default(),
		rateLimitRPS:   50,
		rateLimitBurst: 100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search/sources/health", s.handleSourcesHealth)
	mux.HandleFunc("/search/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/search/suggest", s.handleSearchSuggest)
	mux.HandleFunc("/search/items/{id}", s.handleItem)
	mux.HandleFunc("/search/poster", s.handlePosterProxy)
	mux.HandleFunc("/search", s.handleSearch)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "catalog-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	var handler http.Handler = metricsMiddleware(traced)
	if s.rateLimitRPS > 0 {
		handler = rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst, handler)
	}
	return recoveryMiddleware(s.logger, requestIDMiddleware(handler))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		payload["cache"] = s.cache.HealthCheck(ctx)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.cacheStats == nil {
		writeError(w, http.StatusNotFound, "not_found", "cache stats are not available")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, s.cacheStats.Stats(ctx))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	page, err := parsePositiveInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid page")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	filters, err := parseSearchFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	mode := domain.RankingModeFuzzy
	if raw := r.URL.Query().Get("fuzzy"); strings.TrimSpace(raw) != "" && !parseOptionalBool(raw) {
		mode = domain.RankingModeStrict
	}
	noCache := parseOptionalBool(r.URL.Query().Get("nocache")) || parseOptionalBool(r.URL.Query().Get("noCache"))

	result, err := s.search.Search(r.Context(), domain.SearchRequest{
		Query:   query,
		Page:    page,
		Limit:   limit,
		Filters: filters,
		SortBy:  domain.NormalizeSortBy(r.URL.Query().Get("sortBy")),
		Mode:    mode,
		NoCache: noCache,
	})
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(query, 80)),
			slog.String("requestId", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearchSuggest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/suggest" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}

	suggestions, err := s.search.Suggest(r.Context(), query, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []ranking.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":       query,
		"suggestions": suggestions,
	})
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	item, err := s.search.Detail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": item})
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	items := s.search.SourceDiagnostics()
	if items == nil {
		items = []domain.SourceDiagnostics{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "item not found")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// client went away; nobody reads the body
		w.WriteHeader(499)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "search timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
	}
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseOptionalFloat(r *http.Request, key string) (*float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 || value > maxRating {
		return nil, fmt.Errorf("invalid %s", key)
	}
	return &value, nil
}

func parseSearchFilters(r *http.Request) (domain.SearchFilters, error) {
	q := r.URL.Query()
	var filters domain.SearchFilters

	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		filters.Kind = domain.NormalizeKind(raw)
		if filters.Kind == "" {
			return filters, errors.New("invalid type")
		}
	}
	filters.Genre = strings.TrimSpace(q.Get("genre"))

	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		from, to, err := parseYearRange(raw)
		if err != nil {
			return filters, err
		}
		filters.YearFrom, filters.YearTo = from, to
	}

	var err error
	if filters.MinRating, err = parseOptionalFloat(r, "minRating"); err != nil {
		return filters, err
	}
	if filters.MaxRating, err = parseOptionalFloat(r, "maxRating"); err != nil {
		return filters, err
	}
	if filters.MinRating != nil && filters.MaxRating != nil && *filters.MinRating > *filters.MaxRating {
		return filters, errors.New("minRating exceeds maxRating")
	}
	return filters, nil
}

// parseYearRange accepts "2008" or "2000-2010".
func parseYearRange(raw string) (int, int, error) {
	fromRaw, toRaw, isRange := strings.Cut(raw, "-")
	from, err := strconv.Atoi(strings.TrimSpace(fromRaw))
	if err != nil || from <= 0 {
		return 0, 0, errors.New("invalid year")
	}
	if !isRange {
		return from, from, nil
	}
	to, err := strconv.Atoi(strings.TrimSpace(toRaw))
	if err != nil || to <= 0 || to < from {
		return 0, 0, errors.New("invalid year")
	}
	return from, to, nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
