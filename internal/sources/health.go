package sources

import (
	"context"
	"errors"
	"strings"
	"time"

	"movieapp/searchservice/internal/domain"
	"movieapp/searchservice/internal/metrics"
)

type sourceHealth struct {
	consecutiveFailures int
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	lastQuery           string
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

func (g *Gateway) recordResult(name, query string, err error, latency time.Duration) {
	now := g.now()

	g.healthMu.Lock()
	defer g.healthMu.Unlock()

	state := g.health[name]
	if state == nil {
		state = &sourceHealth{}
		g.health[name] = state
	}
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.SourceRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.SourceRequestsTotal.WithLabelValues(name, "ok").Inc()
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.SourceRequestsTotal.WithLabelValues(name, status).Inc()
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// Diagnostics reports per-source health, primary first.
func (g *Gateway) Diagnostics() []domain.SourceDiagnostics {
	g.healthMu.Lock()
	defer g.healthMu.Unlock()

	items := make([]domain.SourceDiagnostics, 0, 2)
	for _, entry := range []struct {
		src  Source
		role string
	}{
		{g.primary, "primary"},
		{g.secondary, "secondary"},
	} {
		if entry.src == nil {
			continue
		}
		name := entry.src.Name()
		item := domain.SourceDiagnostics{
			Name:    name,
			Role:    entry.role,
			Enabled: true,
		}
		if cb, ok := g.breakers[name]; ok {
			item.BreakerState = cb.State().String()
		}
		if state := g.health[name]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
		}
		items = append(items, item)
	}
	return items
}
