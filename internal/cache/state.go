package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

type Mode int32

const (
	ModeDistributed Mode = iota
	ModeLocalFallback
)

func (m Mode) String() string {
	if m == ModeDistributed {
		return "distributed"
	}
	return "local-fallback"
}

// BackendState tracks which backend the layer serves from. The mode is a
// single atomic flag so every operation observes exactly one backend; the
// retry bookkeeping sits behind a mutex.
type BackendState struct {
	mode atomic.Int32

	mu                  sync.Mutex
	consecutiveFailures int
	nextRetryAt         time.Time
	lastError           string
	reconnecting        bool
}

func NewBackendState() *BackendState {
	return &BackendState{}
}

type StateSnapshot struct {
	Mode                Mode
	ConsecutiveFailures int
	NextRetryAt         time.Time
	LastError           string
	Reconnecting        bool
}

func (s *BackendState) Mode() Mode {
	return Mode(s.mode.Load())
}

// toFallback switches to local mode. It reports true only for the caller
// that performed the switch.
func (s *BackendState) toFallback(err error) bool {
	s.mu.Lock()
	s.consecutiveFailures++
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
	return s.mode.CompareAndSwap(int32(ModeDistributed), int32(ModeLocalFallback))
}

func (s *BackendState) toDistributed() {
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.nextRetryAt = time.Time{}
	s.lastError = ""
	s.reconnecting = false
	s.mu.Unlock()
	s.mode.Store(int32(ModeDistributed))
}

// forceLocal pins the layer to local mode without counting a failure.
func (s *BackendState) forceLocal() {
	s.mode.Store(int32(ModeLocalFallback))
}

func (s *BackendState) beginReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnecting {
		return false
	}
	s.reconnecting = true
	return true
}

func (s *BackendState) endReconnect() {
	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()
}

func (s *BackendState) scheduleRetry(at time.Time) {
	s.mu.Lock()
	s.nextRetryAt = at
	s.mu.Unlock()
}

func (s *BackendState) recordFailure(err error) {
	s.mu.Lock()
	s.consecutiveFailures++
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
}

func (s *BackendState) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		Mode:                s.Mode(),
		ConsecutiveFailures: s.consecutiveFailures,
		NextRetryAt:         s.nextRetryAt,
		LastError:           s.lastError,
		Reconnecting:        s.reconnecting,
	}
}
