package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"movieapp/searchservice/internal/metrics"
)

const (
	defaultOperationTimeout = 500 * time.Millisecond
	defaultReconnectBase    = time.Second
	defaultReconnectMax     = 5
	defaultReconnectPause   = time.Minute
)

// Layer serves cache operations from Redis while it is reachable and from an
// in-process store otherwise. A failed remote call flips the layer to local
// mode at once and a background loop keeps trying to get back.
type Layer struct {
	remote RemoteStore
	local  *LocalStore
	state  *BackendState
	logger *slog.Logger
	now    func() time.Time

	opTimeout      time.Duration
	reconnectBase  time.Duration
	reconnectMax   int
	reconnectPause time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// lifeMu orders Close against reconnect goroutines being added to wg.
	lifeMu sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Layer)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Layer) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithBackendState shares an externally owned state record with the layer.
func WithBackendState(state *BackendState) Option {
	return func(l *Layer) {
		if state != nil {
			l.state = state
		}
	}
}

func WithLocalStore(store *LocalStore) Option {
	return func(l *Layer) {
		if store != nil {
			l.local = store
		}
	}
}

func WithOperationTimeout(timeout time.Duration) Option {
	return func(l *Layer) {
		if timeout > 0 {
			l.opTimeout = timeout
		}
	}
}

// WithReconnectPolicy sets the first reconnect delay and the number of
// attempts per cycle. Delays double after each failed attempt.
func WithReconnectPolicy(base time.Duration, attempts int) Option {
	return func(l *Layer) {
		if base > 0 {
			l.reconnectBase = base
		}
		if attempts > 0 {
			l.reconnectMax = attempts
		}
	}
}

// WithReconnectPause sets how long the layer waits after an exhausted
// reconnect cycle before it starts a new one.
func WithReconnectPause(pause time.Duration) Option {
	return func(l *Layer) {
		if pause > 0 {
			l.reconnectPause = pause
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(l *Layer) {
		l.now = now
	}
}

// New builds a layer. A nil remote keeps the layer in local mode for its
// whole life.
func New(remote RemoteStore, opts ...Option) *Layer {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Layer{
		remote:         remote,
		local:          NewLocalStore(),
		state:          NewBackendState(),
		logger:         slog.Default(),
		now:            time.Now,
		opTimeout:      defaultOperationTimeout,
		reconnectBase:  defaultReconnectBase,
		reconnectMax:   defaultReconnectMax,
		reconnectPause: defaultReconnectPause,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.remote == nil {
		l.state.forceLocal()
	}
	l.publishMode()
	return l
}

// Start probes the distributed backend once. It never fails: an unreachable
// backend only puts the layer into local mode.
func (l *Layer) Start(ctx context.Context) {
	if l.remote == nil {
		l.logger.Info("distributed cache not configured, using local store")
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	if err := l.remote.Ping(pingCtx); err != nil {
		l.fail(err)
		return
	}
	l.logger.Info("distributed cache connected")
}

func (l *Layer) Close() {
	l.lifeMu.Lock()
	if l.closed {
		l.lifeMu.Unlock()
		return
	}
	l.closed = true
	l.cancel()
	l.lifeMu.Unlock()

	l.wg.Wait()
	l.local.Clear()
}

func (l *Layer) Mode() Mode {
	return l.state.Mode()
}

func (l *Layer) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, backend := l.getRaw(ctx, key)
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues(backend).Inc()
		return nil, false
	}
	payload, fresh, err := decodeEnvelope(raw, l.now())
	if err != nil {
		l.logger.Warn("cache entry unreadable", slog.String("key", key), slog.String("error", err.Error()))
		metrics.CacheMissesTotal.WithLabelValues(backend).Inc()
		return nil, false
	}
	if !fresh {
		metrics.CacheMissesTotal.WithLabelValues(backend).Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.WithLabelValues(backend).Inc()
	return payload, true
}

func (l *Layer) getRaw(ctx context.Context, key string) ([]byte, bool, string) {
	if l.state.Mode() == ModeDistributed && l.remote != nil {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		raw, ok, err := l.remote.Get(opCtx, key)
		cancel()
		if err != nil {
			l.handleRemoteError(ctx, err)
			return nil, false, "redis"
		}
		return raw, ok, "redis"
	}
	raw, ok, _ := l.local.Get(ctx, key)
	return raw, ok, "memory"
}

func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	entry, err := encodeEnvelope(value, l.now(), ttl)
	if err != nil {
		l.logger.Warn("cache entry encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if l.state.Mode() == ModeDistributed && l.remote != nil {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		err := l.remote.Set(opCtx, key, entry, ttl)
		cancel()
		if err == nil {
			return
		}
		if !l.handleRemoteError(ctx, err) {
			return
		}
	}
	_ = l.local.Set(ctx, key, entry, ttl)
}

func (l *Layer) Delete(ctx context.Context, key string) {
	if l.state.Mode() == ModeDistributed && l.remote != nil {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		err := l.remote.Delete(opCtx, key)
		cancel()
		if err == nil {
			return
		}
		if !l.handleRemoteError(ctx, err) {
			return
		}
	}
	_ = l.local.Delete(ctx, key)
}

// Clear drops every entry the layer can reach: the distributed store while it
// is in use, and always the local store, whose entries may outlive an outage.
// It returns the number of entries removed.
func (l *Layer) Clear(ctx context.Context) int {
	removed := 0
	if l.state.Mode() == ModeDistributed && l.remote != nil {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		n, err := l.remote.Clear(opCtx)
		cancel()
		removed += n
		if err != nil {
			l.logger.Warn("distributed cache clear failed", slog.String("error", err.Error()))
			l.handleRemoteError(ctx, err)
		}
	}
	return removed + l.local.Clear()
}

type Stats struct {
	Backend      string `json:"backend"`
	Mode         string `json:"mode"`
	Entries      int    `json:"entries"`
	LocalEntries int    `json:"localEntries"`
}

// Stats counts the entries of the active backend.
func (l *Layer) Stats(ctx context.Context) Stats {
	localEntries := l.local.Len()
	if l.state.Mode() == ModeDistributed && l.remote != nil {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		n, err := l.remote.Count(opCtx)
		cancel()
		if err == nil {
			return Stats{Backend: "redis", Mode: ModeDistributed.String(), Entries: n, LocalEntries: localEntries}
		}
		l.handleRemoteError(ctx, err)
	}
	return Stats{Backend: "memory", Mode: l.state.Mode().String(), Entries: localEntries, LocalEntries: localEntries}
}

type Health struct {
	Mode                string     `json:"mode"`
	Backend             string     `json:"backend"`
	Status              string     `json:"status"`
	Fallback            bool       `json:"fallback"`
	RemoteConfigured    bool       `json:"remoteConfigured"`
	ConsecutiveFailures int        `json:"consecutiveFailures,omitempty"`
	NextRetryAt         *time.Time `json:"nextRetryAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LocalEntries        int        `json:"localEntries"`
}

// HealthCheck reports the current backend. In distributed mode it pings the
// remote store, so a dead connection is noticed even without traffic.
func (l *Layer) HealthCheck(ctx context.Context) Health {
	if l.state.Mode() == ModeDistributed && l.remote != nil {
		pingCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		err := l.remote.Ping(pingCtx)
		cancel()
		if err != nil {
			l.handleRemoteError(ctx, err)
		}
	}

	snap := l.state.Snapshot()
	health := Health{
		Mode:                snap.Mode.String(),
		Backend:             "redis",
		Status:              "ok",
		RemoteConfigured:    l.remote != nil,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastError:           snap.LastError,
		LocalEntries:        l.local.Len(),
	}
	if snap.Mode == ModeLocalFallback {
		health.Backend = "memory"
		health.Fallback = true
		if l.remote != nil {
			health.Status = "degraded"
		}
	}
	if !snap.NextRetryAt.IsZero() {
		next := snap.NextRetryAt
		health.NextRetryAt = &next
	}
	return health
}

// handleRemoteError reports whether err was the backend's fault. Errors caused
// by the caller giving up are not counted against the backend.
func (l *Layer) handleRemoteError(ctx context.Context, err error) bool {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return false
	}
	l.fail(err)
	return true
}

func (l *Layer) fail(err error) {
	if !l.state.toFallback(err) {
		return
	}
	metrics.CacheFallbacksTotal.Inc()
	l.publishMode()
	l.logger.Warn("distributed cache unavailable, switched to local store", slog.String("error", err.Error()))
	l.startReconnect()
}

func (l *Layer) startReconnect() {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	if l.closed || !l.state.beginReconnect() {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.state.endReconnect()
		l.reconnectLoop()
	}()
}

func (l *Layer) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = l.reconnectBase
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = l.reconnectBase << uint(l.reconnectMax)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(l.reconnectMax)), l.ctx)
}

func (l *Layer) reconnectLoop() {
	for {
		if l.reconnectCycle() {
			l.state.toDistributed()
			l.publishMode()
			l.logger.Info("distributed cache reconnected")
			return
		}
		if l.ctx.Err() != nil {
			return
		}
		resume := l.now().Add(l.reconnectPause)
		l.state.scheduleRetry(resume)
		l.logger.Warn("distributed cache reconnect attempts exhausted",
			slog.Int("attempts", l.reconnectMax),
			slog.Time("nextCycleAt", resume),
		)
		timer := time.NewTimer(l.reconnectPause)
		select {
		case <-l.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// reconnectCycle waits base, 2*base, 4*base... before each ping until one
// succeeds or the attempts run out.
func (l *Layer) reconnectCycle() bool {
	bo := l.newBackOff()
	for attempt := 1; ; attempt++ {
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return false
		}
		l.state.scheduleRetry(l.now().Add(wait))
		timer := time.NewTimer(wait)
		select {
		case <-l.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		pingCtx, cancel := context.WithTimeout(l.ctx, l.opTimeout)
		err := l.remote.Ping(pingCtx)
		cancel()
		if err == nil {
			metrics.CacheReconnectAttemptsTotal.WithLabelValues("success").Inc()
			return true
		}
		metrics.CacheReconnectAttemptsTotal.WithLabelValues("failure").Inc()
		l.state.recordFailure(err)
		l.logger.Debug("distributed cache reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Layer) publishMode() {
	if l.state.Mode() == ModeDistributed {
		metrics.CacheBackendMode.Set(1)
		return
	}
	metrics.CacheBackendMode.Set(0)
}
