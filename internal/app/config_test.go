package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDR", "SOURCE_TIMEOUT_SECONDS", "SOURCE_HEDGE_DELAY_MS", "SECONDARY_MIN_RESULTS",
		"SEARCH_CACHE_TTL_SECONDS", "SEARCH_EMPTY_CACHE_TTL_SECONDS", "CACHE_KEY_PREFIX",
		"FUZZY_THRESHOLD", "MERGE_CAP", "OMDB_RATE_LIMIT_PER_MINUTE",
		"CONTENT_SERVICE_SEARCH_URL", "CONTENT_SERVICE_ITEM_URL",
	} {
		t.Setenv(key, "")
	}
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":6005" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.SourceTimeout != 5*time.Second || cfg.SourceHedgeDelay != time.Second {
		t.Fatalf("unexpected source timings %s %s", cfg.SourceTimeout, cfg.SourceHedgeDelay)
	}
	if cfg.SecondaryMinResults != 10 || cfg.MergeCap != 50 {
		t.Fatalf("unexpected source limits %d %d", cfg.SecondaryMinResults, cfg.MergeCap)
	}
	if cfg.CacheTTL != 5*time.Minute || cfg.EmptyCacheTTL != 30*time.Second {
		t.Fatalf("unexpected cache ttls %s %s", cfg.CacheTTL, cfg.EmptyCacheTTL)
	}
	if cfg.CacheKeyPrefix != "movieapp:" || cfg.FuzzyThreshold != 0.4 || cfg.OMDbRequestsPerMinute != 40 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ContentSearchURL != "http://content-service:6003/api/contents/search" {
		t.Fatalf("unexpected content search url %q", cfg.ContentSearchURL)
	}
	if cfg.ContentItemURL != "http://content-service:6003/api/contents/movie" {
		t.Fatalf("unexpected content item url %q", cfg.ContentItemURL)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SOURCE_HEDGE_DELAY_MS", "0")
	t.Setenv("SEARCH_CACHE_DISABLED", "yes")
	t.Setenv("SEARCH_CACHE_CLEAR_ON_START", "true")
	t.Setenv("FUZZY_THRESHOLD", "0.55")
	t.Setenv("SOURCE_TIMEOUT_SECONDS", "-3")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := LoadConfig()
	if cfg.SourceHedgeDelay != 0 {
		t.Fatalf("expected hedging disabled, got %s", cfg.SourceHedgeDelay)
	}
	if !cfg.CacheDisabled || !cfg.CacheClearOnStart || cfg.FuzzyThreshold != 0.55 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.SourceTimeout != 5*time.Second {
		t.Fatalf("invalid timeout must fall back, got %s", cfg.SourceTimeout)
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{"1": true, "on": true, "off": false, "no": false, "maybe": true}
	for raw, want := range cases {
		t.Setenv("FLAG", raw)
		if got := getEnvBool("FLAG", true); got != want {
			t.Fatalf("getEnvBool(%q) = %v, want %v", raw, got, want)
		}
	}
}
