// Package sources fetches candidates from the primary catalog and the
// secondary metadata provider and hides their differences behind
// domain.CandidateItem.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"movieapp/searchservice/internal/domain"
	"movieapp/searchservice/internal/metrics"
)

const (
	DefaultTimeout            = 5 * time.Second
	DefaultHedgeDelay         = time.Second
	DefaultSecondaryThreshold = 10
	MinQueryLength            = 2

	breakerFailureThreshold = 3
	breakerOpenTimeout      = 30 * time.Second
)

// Source is one upstream catalog. Implementations return items already
// converted to the shared candidate schema.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, page int) ([]domain.CandidateItem, error)
	Get(ctx context.Context, id string) (domain.CandidateItem, error)
}

// Result is the outcome of one source call within a fetch. Available is
// false when the call failed, timed out or was refused by the breaker.
type Result struct {
	Name      string
	Queried   bool
	Available bool
	Items     []domain.CandidateItem
	Err       error
	Elapsed   time.Duration
}

func (r Result) Status() domain.SourceStatus {
	status := domain.SourceStatus{
		Name:      r.Name,
		Queried:   r.Queried,
		OK:        r.Queried && r.Available,
		Count:     len(r.Items),
		ElapsedMS: r.Elapsed.Milliseconds(),
	}
	if r.Err != nil {
		status.Error = r.Err.Error()
	}
	return status
}

type Fetch struct {
	Primary   Result
	Secondary Result
}

type Gateway struct {
	primary   Source
	secondary Source
	logger    *slog.Logger
	now       func() time.Time

	timeout            time.Duration
	hedgeDelay         time.Duration
	secondaryThreshold int

	breakers map[string]*gobreaker.CircuitBreaker

	healthMu sync.Mutex
	health   map[string]*sourceHealth
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithHedgeDelay sets how long the primary may stay silent before the
// secondary is started alongside it. Zero disables hedging.
func WithHedgeDelay(delay time.Duration) Option {
	return func(g *Gateway) {
		if delay >= 0 {
			g.hedgeDelay = delay
		}
	}
}

// WithSecondaryThreshold sets the primary result count below which the
// secondary source is consulted.
func WithSecondaryThreshold(n int) Option {
	return func(g *Gateway) {
		if n >= 0 {
			g.secondaryThreshold = n
		}
	}
}

// NewGateway builds a gateway. secondary may be nil when no secondary source
// is configured.
func NewGateway(primary, secondary Source, opts ...Option) *Gateway {
	g := &Gateway{
		primary:            primary,
		secondary:          secondary,
		logger:             slog.Default(),
		now:                time.Now,
		timeout:            DefaultTimeout,
		hedgeDelay:         DefaultHedgeDelay,
		secondaryThreshold: DefaultSecondaryThreshold,
		breakers:           make(map[string]*gobreaker.CircuitBreaker),
		health:             make(map[string]*sourceHealth),
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, src := range []Source{primary, secondary} {
		if src == nil {
			continue
		}
		g.breakers[src.Name()] = g.newBreaker(src.Name())
		metrics.SourceAvailable.WithLabelValues(src.Name()).Set(1)
	}
	return g
}

func (g *Gateway) newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			available := 1.0
			if to == gobreaker.StateOpen {
				available = 0
			}
			metrics.SourceAvailable.WithLabelValues(name).Set(available)
			g.logger.Warn("source circuit state changed",
				slog.String("source", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

func ValidateQuery(query string) error {
	if utf8.RuneCountInString(strings.TrimSpace(query)) < MinQueryLength {
		return fmt.Errorf("%w: query must be at least %d characters", domain.ErrInvalidQuery, MinQueryLength)
	}
	return nil
}

// FetchCandidates asks the primary source first and the secondary only when
// the primary is unavailable or returned too few items. A primary that is
// slow to answer gets the secondary started next to it so the request waits
// for the slower call, not the sum. Source failures never surface as errors.
func (g *Gateway) FetchCandidates(ctx context.Context, query string, page int) (Fetch, error) {
	if err := ValidateQuery(query); err != nil {
		return Fetch{}, err
	}
	query = strings.TrimSpace(query)

	var (
		group            errgroup.Group
		primaryRes       Result
		secondaryRes     Result
		secondaryStarted bool
		primaryDone      = make(chan struct{})
	)
	startSecondary := func() {
		if secondaryStarted || g.secondary == nil {
			return
		}
		secondaryStarted = true
		group.Go(func() error {
			secondaryRes = g.search(ctx, g.secondary, domain.SourceOriginSecondary, query, page)
			return nil
		})
	}

	switch {
	case g.primary == nil:
		primaryRes = Result{Err: domain.ErrSourceUnavailable}
		close(primaryDone)
		startSecondary()
	case g.breakerOpen(g.primary):
		primaryRes = Result{Name: g.primary.Name(), Err: fmt.Errorf("%w: circuit open", domain.ErrSourceUnavailable)}
		close(primaryDone)
		startSecondary()
	default:
		group.Go(func() error {
			defer close(primaryDone)
			primaryRes = g.search(ctx, g.primary, domain.SourceOriginPrimary, query, page)
			return nil
		})
		if g.hedgeDelay > 0 && g.secondary != nil {
			hedge := time.NewTimer(g.hedgeDelay)
			select {
			case <-primaryDone:
			case <-hedge.C:
				startSecondary()
			}
			hedge.Stop()
		}
		<-primaryDone
	}

	fetch := Fetch{Primary: primaryRes}
	if g.secondary != nil {
		fetch.Secondary = Result{Name: g.secondary.Name()}
	}
	if !primaryRes.Available || len(primaryRes.Items) < g.secondaryThreshold {
		startSecondary()
		_ = group.Wait()
		if secondaryStarted {
			fetch.Secondary = secondaryRes
		}
	}

	if !fetch.Primary.Available && !fetch.Secondary.Available {
		g.logger.Warn("all sources unavailable",
			slog.String("query", query),
			slog.Any("primaryError", fetch.Primary.Err),
			slog.Any("secondaryError", fetch.Secondary.Err),
		)
	}
	return fetch, nil
}

// FetchOne looks an item up in the primary source and falls back to the
// secondary. It returns domain.ErrNotFound only when both fail.
func (g *Gateway) FetchOne(ctx context.Context, id string) (domain.CandidateItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CandidateItem{}, domain.ErrNotFound
	}

	var errs []error
	for _, candidate := range []struct {
		src    Source
		origin domain.SourceOrigin
	}{
		{g.primary, domain.SourceOriginPrimary},
		{g.secondary, domain.SourceOriginSecondary},
	} {
		if candidate.src == nil {
			continue
		}
		item, err := g.get(ctx, candidate.src, id)
		if err == nil {
			item.SourceOrigin = candidate.origin
			return item, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", candidate.src.Name(), err))
	}
	if len(errs) == 0 {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	return domain.CandidateItem{}, fmt.Errorf("%w: %w", domain.ErrNotFound, errors.Join(errs...))
}

func (g *Gateway) search(ctx context.Context, src Source, origin domain.SourceOrigin, query string, page int) Result {
	res := Result{Name: src.Name(), Queried: true}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := g.now()
	out, err := g.breakers[src.Name()].Execute(func() (interface{}, error) {
		return src.Search(callCtx, query, page)
	})
	res.Elapsed = g.now().Sub(start)
	g.recordResult(src.Name(), query, err, res.Elapsed)

	if err != nil {
		res.Err = err
		g.logger.Debug("source search failed",
			slog.String("source", src.Name()),
			slog.String("query", query),
			slog.Duration("elapsed", res.Elapsed),
			slog.String("error", err.Error()),
		)
		return res
	}
	items, _ := out.([]domain.CandidateItem)
	res.Items = make([]domain.CandidateItem, 0, len(items))
	for _, item := range items {
		item.SourceOrigin = origin
		res.Items = append(res.Items, item)
	}
	res.Available = true
	return res
}

func (g *Gateway) get(ctx context.Context, src Source, id string) (domain.CandidateItem, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := g.now()
	out, err := g.breakers[src.Name()].Execute(func() (interface{}, error) {
		return src.Get(callCtx, id)
	})
	g.recordResult(src.Name(), id, ignoreNotFound(err), g.now().Sub(start))
	if err != nil {
		return domain.CandidateItem{}, err
	}
	item, _ := out.(domain.CandidateItem)
	return item, nil
}

func (g *Gateway) breakerOpen(src Source) bool {
	cb, ok := g.breakers[src.Name()]
	return ok && cb.State() == gobreaker.StateOpen
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
