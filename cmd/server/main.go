package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "movieapp/searchservice/internal/api/http"
	"movieapp/searchservice/internal/app"
	"movieapp/searchservice/internal/cache"
	"movieapp/searchservice/internal/metrics"
	"movieapp/searchservice/internal/ranking"
	"movieapp/searchservice/internal/search"
	"movieapp/searchservice/internal/sources"
	"movieapp/searchservice/internal/sources/contentapi"
	"movieapp/searchservice/internal/sources/contentdb"
	"movieapp/searchservice/internal/sources/omdb"
	"movieapp/searchservice/internal/telemetry"
)

const (
	serviceName    = "catalog-search"
	serviceVersion = "1.0.0"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, serviceVersion)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("sourceTimeout", cfg.SourceTimeout),
		slog.Duration("hedgeDelay", cfg.SourceHedgeDelay),
		slog.String("contentSearchURL", cfg.ContentSearchURL),
		slog.Bool("hasMongo", cfg.ContentMongoURI != ""),
		slog.Bool("hasOMDbKey", cfg.OMDbAPIKey != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("cacheTTL", cfg.CacheTTL),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.SourceTimeout + time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}

	primary, mongoClient := buildPrimarySource(rootCtx, cfg, httpClient, logger)
	if mongoClient != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(ctx)
		}()
	}

	var secondary sources.Source
	omdbClient := omdb.NewClient(omdb.Config{
		APIKey:            cfg.OMDbAPIKey,
		BaseURL:           cfg.OMDbBaseURL,
		RequestsPerMinute: cfg.OMDbRequestsPerMinute,
		Client:            httpClient,
	})
	if omdbClient.Enabled() {
		secondary = omdbClient
	} else {
		logger.Info("omdb api key not configured, secondary source disabled")
	}

	gateway := sources.NewGateway(primary, secondary,
		sources.WithLogger(logger),
		sources.WithTimeout(cfg.SourceTimeout),
		sources.WithHedgeDelay(cfg.SourceHedgeDelay),
		sources.WithSecondaryThreshold(cfg.SecondaryMinResults),
	)
	engine := ranking.New(ranking.WithFuzzyThreshold(cfg.FuzzyThreshold))

	cacheLayer := buildCacheLayer(cfg, logger)
	cacheLayer.Start(rootCtx)
	defer cacheLayer.Close()
	if cfg.CacheClearOnStart {
		removed := cacheLayer.Clear(rootCtx)
		logger.Info("search cache cleared", slog.Int("entries", removed))
	}

	searchService := search.NewService(gateway, engine, cacheLayer,
		search.WithLogger(logger),
		search.WithCacheDisabled(cfg.CacheDisabled),
		search.WithCacheTTL(cfg.CacheTTL, cfg.EmptyCacheTTL),
		search.WithMergeCap(cfg.MergeCap),
		search.WithFlightTimeout(2*cfg.SourceTimeout+5*time.Second),
		search.WithWarmInterval(cfg.WarmInterval),
	)
	searchService.StartBackground(rootCtx)

	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithCacheHealth(cacheLayer),
		apihttp.WithCacheStats(cacheLayer),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("catalog search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("primary", primary.Name()),
		slog.Bool("secondary", secondary != nil),
		slog.String("cacheMode", cacheLayer.Mode().String()),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("catalog search service stopped")
}

// buildPrimarySource reads the catalog straight from MongoDB when a URI is
// configured and reachable, and goes through the content service API
// otherwise.
func buildPrimarySource(ctx context.Context, cfg app.Config, client *http.Client, logger *slog.Logger) (sources.Source, *mongo.Client) {
	apiSource := contentapi.NewClient(contentapi.Config{
		SearchURL: cfg.ContentSearchURL,
		ItemURL:   cfg.ContentItemURL,
		PageSize:  cfg.ContentPageSize,
		UserAgent: cfg.UserAgent,
		Client:    client,
	})
	if cfg.ContentMongoURI == "" {
		return apiSource, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	mongoClient, err := contentdb.Connect(connectCtx, cfg.ContentMongoURI,
		options.Client().SetMonitor(otelmongo.NewMonitor()).SetTimeout(cfg.SourceTimeout))
	if err == nil {
		err = mongoClient.Ping(connectCtx, nil)
	}
	if err != nil {
		logger.Warn("content mongo unavailable, using content service api", slog.String("error", err.Error()))
		if mongoClient != nil {
			_ = mongoClient.Disconnect(context.Background())
		}
		return apiSource, nil
	}
	logger.Info("content mongo connected", slog.String("database", cfg.ContentMongoDB))
	return contentdb.NewRepository(mongoClient, cfg.ContentMongoDB, "", cfg.ContentPageSize), mongoClient
}

// buildCacheLayer never fails: a missing or broken Redis URL leaves the
// layer on its local store.
func buildCacheLayer(cfg app.Config, logger *slog.Logger) *cache.Layer {
	opts := []cache.Option{
		cache.WithLogger(logger),
		cache.WithOperationTimeout(cfg.CacheOpTimeout),
		cache.WithReconnectPolicy(time.Second, cfg.CacheReconnectTries),
	}
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" || cfg.CacheDisabled {
		return cache.New(nil, opts...)
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using local cache only", slog.String("error", err.Error()))
		return cache.New(nil, opts...)
	}
	return cache.New(cache.NewRedisStore(redis.NewClient(redisOpts), cfg.CacheKeyPrefix), opts...)
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
