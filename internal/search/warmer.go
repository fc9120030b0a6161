package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"movieapp/searchservice/internal/domain"
)

const (
	defaultWarmInterval      = 4 * time.Minute
	defaultWarmTopQueries    = 12
	defaultPopularMaxEntries = 200

	maxConcurrentWarmRefreshes = 3
)

type warmerConfig struct {
	interval          time.Duration
	topQueries        int
	popularMaxEntries int
}

func defaultWarmerConfig() warmerConfig {
	return warmerConfig{
		interval:          defaultWarmInterval,
		topQueries:        defaultWarmTopQueries,
		popularMaxEntries: defaultPopularMaxEntries,
	}
}

type popularEntry struct {
	request  domain.SearchRequest
	hits     int
	lastSeen time.Time
	lastWarm time.Time
}

type warmSpec struct {
	key     string
	request domain.SearchRequest
}

// StartBackground runs the popular-query warmer until ctx is done. It is a
// no-op when caching is disabled.
func (s *Service) StartBackground(ctx context.Context) {
	if s.cacheDisabled {
		return
	}
	go s.runWarmer(ctx)
}

func (s *Service) runWarmer(ctx context.Context) {
	ticker := time.NewTicker(s.warmerCfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runWarmCycle(ctx)
		}
	}
}

func (s *Service) runWarmCycle(ctx context.Context) {
	specs := s.collectWarmSpecs(time.Now())
	if len(specs) == 0 {
		return
	}

	sem := semaphore.NewWeighted(maxConcurrentWarmRefreshes)
	var wg sync.WaitGroup
	for _, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(spec warmSpec) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			refreshCtx, cancel := context.WithTimeout(ctx, s.flightTimeout)
			defer cancel()
			if _, err := s.execute(refreshCtx, spec.key, spec.request); err != nil {
				s.logger.Debug("cache warm failed",
					slog.String("query", spec.request.Query),
					slog.String("error", err.Error()),
				)
			}
		}(spec)
	}
	wg.Wait()
}

// collectWarmSpecs picks the most requested queries that were not refreshed
// during the last half interval.
func (s *Service) collectWarmSpecs(now time.Time) []warmSpec {
	s.popularMu.Lock()
	defer s.popularMu.Unlock()

	if len(s.popular) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.popular))
	for key := range s.popular {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		left, right := s.popular[keys[i]], s.popular[keys[j]]
		if left.hits != right.hits {
			return left.hits > right.hits
		}
		return left.lastSeen.After(right.lastSeen)
	})

	limit := min(s.warmerCfg.topQueries, len(keys))
	specs := make([]warmSpec, 0, limit)
	for _, key := range keys[:limit] {
		pop := s.popular[key]
		if !pop.lastWarm.IsZero() && now.Sub(pop.lastWarm) < s.warmerCfg.interval/2 {
			continue
		}
		pop.lastWarm = now
		specs = append(specs, warmSpec{key: key, request: pop.request})
	}
	return specs
}

// markPopular counts first-page requests; deeper pages are not warmed.
func (s *Service) markPopular(key string, request domain.SearchRequest, now time.Time) {
	if s.cacheDisabled || request.Page > 1 {
		return
	}
	request.NoCache = false

	s.popularMu.Lock()
	defer s.popularMu.Unlock()

	if pop, ok := s.popular[key]; ok {
		pop.hits++
		pop.lastSeen = now
		pop.request = request
		return
	}
	s.popular[key] = &popularEntry{request: request, hits: 1, lastSeen: now}

	if len(s.popular) <= s.warmerCfg.popularMaxEntries {
		return
	}
	// Drop the least requested, oldest entry.
	var (
		victim string
		worst  *popularEntry
	)
	for popKey, value := range s.popular {
		if popKey == key {
			continue
		}
		if worst == nil || value.hits < worst.hits ||
			(value.hits == worst.hits && value.lastSeen.Before(worst.lastSeen)) {
			victim, worst = popKey, value
		}
	}
	delete(s.popular, victim)
}
