package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/swapmeet/swapmeet/internal/domain/tracking"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 10 * time.Second
	DefaultGrace    = 2 * time.Minute
)

// Sampler reads the local party's current position.
type Sampler interface {
	Sample(ctx context.Context) (domain.Point, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (domain.Point, error)

func (f SamplerFunc) Sample(ctx context.Context) (domain.Point, error) {
	return f(ctx)
}

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_authority.go -package=mocks . Authority

// Authority is the shared position store the loop talks to.
type Authority interface {
	PushPosition(ctx context.Context, u domain.Update) error
	CounterpartPosition(ctx context.Context, sessionID uuid.UUID) (*domain.LivePosition, error)
}

type Config struct {
	SessionID  uuid.UUID
	ProposalID string
	Interval   time.Duration
	Timeout    time.Duration
	Grace      time.Duration
}

// Loop periodically pushes the local position and fetches the counterpart's.
// At most one push and one fetch are in flight at any time; a slow or failing
// call is abandoned after Timeout and retried on the next tick.
type Loop struct {
	cfg       Config
	sampler   Sampler
	authority Authority
	logger    zerolog.Logger

	mu    sync.Mutex
	cur   *runState
	grace *time.Timer

	onCounterpart func(domain.LivePosition)
}

// runState is the state of one Start..Stop cycle. A Start racing a Stop gets a
// fresh run, so the stopping one cannot touch it.
type runState struct {
	cancel context.CancelFunc
	done   chan struct{}
	calls  sync.WaitGroup

	pushing     atomic.Bool
	fetching    atomic.Bool
	counterpart atomic.Pointer[domain.LivePosition]
}

func NewLoop(cfg Config, sampler Sampler, authority Authority, logger zerolog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &Loop{
		cfg:       cfg,
		sampler:   sampler,
		authority: authority,
		logger:    logger.With().Str("component", "tracking_loop").Str("session_id", cfg.SessionID.String()).Logger(),
	}
}

// OnCounterpart registers a callback for each fetched counterpart position.
// It must be set before Start.
func (l *Loop) OnCounterpart(fn func(domain.LivePosition)) {
	l.onCounterpart = fn
}

// Start begins the periodic loop. It reports false if the loop was already running.
func (l *Loop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur != nil {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &runState{cancel: cancel, done: make(chan struct{})}
	l.cur = r
	go l.run(runCtx, r)
	l.logger.Info().Dur("interval", l.cfg.Interval).Msg("tracking loop started")
	return true
}

// Stop cancels the loop, waits for it and its in-flight calls to finish, and
// forgets the counterpart's last known position. Stopping a stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	r := l.cur
	l.cur = nil
	if l.grace != nil {
		l.grace.Stop()
		l.grace = nil
	}
	l.mu.Unlock()

	if r == nil {
		return
	}
	r.cancel()
	<-r.done
	r.calls.Wait()
	r.counterpart.Store(nil)
	l.logger.Info().Msg("tracking loop stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur != nil
}

// Counterpart returns the last fetched counterpart position of the running
// loop, or nil.
func (l *Loop) Counterpart() *domain.LivePosition {
	l.mu.Lock()
	r := l.cur
	l.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.counterpart.Load()
}

// Background arms the grace timer; the loop stops unless Foreground is
// called before it fires.
func (l *Loop) Background() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil || l.grace != nil {
		return
	}
	l.grace = time.AfterFunc(l.cfg.Grace, func() {
		l.logger.Info().Dur("grace", l.cfg.Grace).Msg("backgrounded past grace period")
		l.Stop()
	})
}

func (l *Loop) Foreground() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.grace != nil {
		l.grace.Stop()
		l.grace = nil
	}
}

func (l *Loop) run(ctx context.Context, r *runState) {
	defer close(r.done)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.tick(ctx, r)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, r)
		}
	}
}

func (l *Loop) tick(ctx context.Context, r *runState) {
	if r.pushing.CompareAndSwap(false, true) {
		r.calls.Add(1)
		go func() {
			defer r.calls.Done()
			defer r.pushing.Store(false)
			l.push(ctx)
		}()
	} else {
		l.logger.Debug().Msg("push still in flight, skipping")
	}
	if r.fetching.CompareAndSwap(false, true) {
		r.calls.Add(1)
		go func() {
			defer r.calls.Done()
			defer r.fetching.Store(false)
			l.fetch(ctx, r)
		}()
	} else {
		l.logger.Debug().Msg("fetch still in flight, skipping")
	}
}

func (l *Loop) push(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	p, err := l.sampler.Sample(callCtx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("sample position")
		return
	}
	err = l.authority.PushPosition(callCtx, domain.Update{
		ProposalID: l.cfg.ProposalID,
		SessionID:  l.cfg.SessionID,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Warn().Err(err).Msg("push position")
	}
}

func (l *Loop) fetch(ctx context.Context, r *runState) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	pos, err := l.authority.CounterpartPosition(callCtx, l.cfg.SessionID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.logger.Warn().Err(err).Msg("fetch counterpart position")
		}
		return
	}
	if pos == nil || ctx.Err() != nil {
		return
	}
	r.counterpart.Store(pos)
	if l.onCounterpart != nil {
		l.onCounterpart(*pos)
	}
}
