package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domain "github.com/swapmeet/swapmeet/internal/domain/tracking"
	"github.com/swapmeet/swapmeet/internal/tracking/mocks"
)

var here = SamplerFunc(func(context.Context) (domain.Point, error) {
	return domain.Point{Latitude: 40.7580, Longitude: -73.9855}, nil
})

type fakeAuthority struct {
	pushes      atomic.Int32
	fetches     atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	pushDelay   time.Duration
	fetchErr    error
	pushErr     error

	mu   sync.Mutex
	last domain.Update
}

func (f *fakeAuthority) PushPosition(ctx context.Context, u domain.Update) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.pushDelay > 0 {
		select {
		case <-time.After(f.pushDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.pushes.Add(1)
	f.mu.Lock()
	f.last = u
	f.mu.Unlock()
	return f.pushErr
}

func (f *fakeAuthority) CounterpartPosition(_ context.Context, sessionID uuid.UUID) (*domain.LivePosition, error) {
	f.fetches.Add(1)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &domain.LivePosition{SessionID: sessionID, PartyID: "bob", Latitude: 40.7484, Longitude: -73.9857}, nil
}

func newLoop(auth Authority, cfg Config) *Loop {
	if cfg.SessionID == uuid.Nil {
		cfg.SessionID = uuid.New()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Millisecond
	}
	return NewLoop(cfg, here, auth, zerolog.Nop())
}

func TestLoop_StartStopIdempotent(t *testing.T) {
	auth := &fakeAuthority{}
	loop := newLoop(auth, Config{ProposalID: "01JEXAMPLE"})

	require.True(t, loop.Start(context.Background()))
	assert.False(t, loop.Start(context.Background()))
	assert.True(t, loop.Running())

	require.Eventually(t, func() bool { return auth.pushes.Load() >= 3 && loop.Counterpart() != nil }, time.Second, time.Millisecond)
	auth.mu.Lock()
	assert.Equal(t, "01JEXAMPLE", auth.last.ProposalID)
	assert.Equal(t, 40.7580, auth.last.Latitude)
	auth.mu.Unlock()

	loop.Stop()
	loop.Stop()
	assert.False(t, loop.Running())
	assert.Nil(t, loop.Counterpart())

	stopped := auth.pushes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, auth.pushes.Load())

	require.True(t, loop.Start(context.Background()))
	loop.Stop()
}

// gatedAuthority holds the first fetch until release is closed, ignoring
// cancellation, so a Stop stays blocked on it.
type gatedAuthority struct {
	fakeAuthority
	release chan struct{}
	gated   atomic.Bool
	entered chan struct{}
}

func (g *gatedAuthority) CounterpartPosition(ctx context.Context, sessionID uuid.UUID) (*domain.LivePosition, error) {
	if g.gated.CompareAndSwap(false, true) {
		close(g.entered)
		<-g.release
	}
	return g.fakeAuthority.CounterpartPosition(ctx, sessionID)
}

func TestLoop_RestartWhileStopping(t *testing.T) {
	auth := &gatedAuthority{release: make(chan struct{}), entered: make(chan struct{})}
	loop := newLoop(auth, Config{})

	require.True(t, loop.Start(context.Background()))
	<-auth.entered

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool { return !loop.Running() }, time.Second, time.Millisecond)

	require.True(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return loop.Counterpart() != nil }, time.Second, time.Millisecond)

	close(auth.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("first Stop did not return")
	}

	assert.True(t, loop.Running())
	assert.NotNil(t, loop.Counterpart(), "stopping the old run must not clear the new one")
	loop.Stop()
	assert.Nil(t, loop.Counterpart())
}

func TestLoop_FetchFailureDoesNotHaltPush(t *testing.T) {
	auth := &fakeAuthority{fetchErr: errors.New("counterpart offline")}
	loop := newLoop(auth, Config{})
	loop.Start(context.Background())
	defer loop.Stop()

	require.Eventually(t, func() bool { return auth.pushes.Load() >= 5 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, auth.fetches.Load(), int32(1))
	assert.Nil(t, loop.Counterpart())
}

func TestLoop_PushFailureDoesNotHaltFetch(t *testing.T) {
	auth := &fakeAuthority{pushErr: errors.New("authority unavailable")}
	loop := newLoop(auth, Config{})
	loop.Start(context.Background())
	defer loop.Stop()

	require.Eventually(t, func() bool { return auth.fetches.Load() >= 5 }, time.Second, time.Millisecond)
	assert.NotNil(t, loop.Counterpart())
}

func TestLoop_AtMostOnePushInFlight(t *testing.T) {
	auth := &fakeAuthority{pushDelay: time.Second}
	loop := newLoop(auth, Config{Interval: 2 * time.Millisecond, Timeout: 20 * time.Millisecond})
	loop.Start(context.Background())

	time.Sleep(100 * time.Millisecond)
	loop.Stop()

	assert.Equal(t, int32(1), auth.maxInFlight.Load())
	assert.Equal(t, int32(0), auth.pushes.Load())
	assert.Equal(t, int32(0), auth.inFlight.Load())
}

func TestLoop_StopsAfterGracePeriod(t *testing.T) {
	auth := &fakeAuthority{}
	loop := newLoop(auth, Config{Grace: 20 * time.Millisecond})
	loop.Start(context.Background())

	loop.Background()
	loop.Foreground()
	time.Sleep(40 * time.Millisecond)
	assert.True(t, loop.Running())

	loop.Background()
	require.Eventually(t, func() bool { return !loop.Running() }, time.Second, time.Millisecond)
	assert.Nil(t, loop.Counterpart())
}

func TestLoop_ParentCancelStopsTicking(t *testing.T) {
	ctrl := gomock.NewController(t)
	auth := mocks.NewMockAuthority(ctrl)
	sessionID := uuid.New()

	var pushes atomic.Int32
	auth.EXPECT().PushPosition(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u domain.Update) error {
		assert.Equal(t, sessionID, u.SessionID)
		pushes.Add(1)
		return nil
	}).MinTimes(1)
	auth.EXPECT().CounterpartPosition(gomock.Any(), sessionID).Return(nil, nil).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	loop := newLoop(auth, Config{SessionID: sessionID})
	loop.Start(ctx)
	require.Eventually(t, func() bool { return pushes.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	loop.Stop()

	after := pushes.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, pushes.Load())
	assert.Nil(t, loop.Counterpart())
}
