package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"movieapp/searchservice/internal/sources/contentapi"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
	UserAgent string

	ContentSearchURL string
	ContentItemURL   string
	ContentMongoURI  string
	ContentMongoDB   string
	ContentPageSize  int

	OMDbAPIKey            string
	OMDbBaseURL           string
	OMDbRequestsPerMinute int

	SourceTimeout       time.Duration
	SourceHedgeDelay    time.Duration
	SecondaryMinResults int
	MergeCap            int

	RedisURL            string
	CacheKeyPrefix      string
	CacheTTL            time.Duration
	EmptyCacheTTL       time.Duration
	CacheOpTimeout      time.Duration
	CacheReconnectTries int
	CacheDisabled       bool
	CacheClearOnStart   bool
	WarmInterval        time.Duration

	FuzzyThreshold float64

	RateLimitRPS   float64
	RateLimitBurst int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":6005"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent: getEnv("SEARCH_USER_AGENT", "movieapp-search/1.0"),

		ContentSearchURL: getEnv("CONTENT_SERVICE_SEARCH_URL", contentapi.DefaultSearchURL),
		ContentItemURL:   getEnv("CONTENT_SERVICE_ITEM_URL", contentapi.DefaultItemURL),
		ContentMongoURI:  getEnv("CONTENT_MONGO_URI", ""),
		ContentMongoDB:   getEnv("CONTENT_MONGO_DATABASE", "movieapp"),
		ContentPageSize:  getEnvInt("CONTENT_PAGE_SIZE", 50),

		OMDbAPIKey:            strings.TrimSpace(os.Getenv("OMDB_API_KEY")),
		OMDbBaseURL:           getEnv("OMDB_BASE_URL", "https://www.omdbapi.com/"),
		OMDbRequestsPerMinute: getEnvInt("OMDB_RATE_LIMIT_PER_MINUTE", 40),

		SourceTimeout:       time.Duration(getEnvInt("SOURCE_TIMEOUT_SECONDS", 5)) * time.Second,
		SourceHedgeDelay:    time.Duration(getEnvNonNegativeInt("SOURCE_HEDGE_DELAY_MS", 1000)) * time.Millisecond,
		SecondaryMinResults: getEnvNonNegativeInt("SECONDARY_MIN_RESULTS", 10),
		MergeCap:            getEnvInt("MERGE_CAP", 50),

		RedisURL:            getEnv("REDIS_URL", ""),
		CacheKeyPrefix:      getEnv("CACHE_KEY_PREFIX", "movieapp:"),
		CacheTTL:            time.Duration(getEnvInt("SEARCH_CACHE_TTL_SECONDS", 300)) * time.Second,
		EmptyCacheTTL:       time.Duration(getEnvInt("SEARCH_EMPTY_CACHE_TTL_SECONDS", 30)) * time.Second,
		CacheOpTimeout:      time.Duration(getEnvInt("CACHE_OP_TIMEOUT_MS", 500)) * time.Millisecond,
		CacheReconnectTries: getEnvInt("CACHE_RECONNECT_ATTEMPTS", 5),
		CacheDisabled:       getEnvBool("SEARCH_CACHE_DISABLED", false),
		CacheClearOnStart:   getEnvBool("SEARCH_CACHE_CLEAR_ON_START", false),
		WarmInterval:        time.Duration(getEnvInt("WARM_INTERVAL_SECONDS", 240)) * time.Second,

		FuzzyThreshold: getEnvFloat("FUZZY_THRESHOLD", 0.4),

		RateLimitRPS:   getEnvFloat("HTTP_RATE_LIMIT_RPS", 50),
		RateLimitBurst: getEnvInt("HTTP_RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvNonNegativeInt is getEnvInt for settings where zero switches a
// feature off.
func getEnvNonNegativeInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
