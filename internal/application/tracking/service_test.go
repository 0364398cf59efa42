package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapmeet/swapmeet/internal/domain/event"
	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	domain "github.com/swapmeet/swapmeet/internal/domain/tracking"
	"github.com/swapmeet/swapmeet/internal/infrastructure/memory"
)

type captured struct {
	events []event.Event
}

func (c *captured) Publish(_ context.Context, e event.Event) { c.events = append(c.events, e) }

type fixture struct {
	store    *Store
	pub      *captured
	svc      *Service
	session  *meeting.Session
	accepted string
}

func newFixture(t *testing.T, startTracking bool) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)

	n, err := negotiation.Open(negotiation.Opening{
		NegotiationID: uuid.New(),
		ListingID:     "listing-1",
		BuyerID:       "buyer",
		SellerID:      "seller",
		ProposedBy:    "buyer",
		ProposedTime:  now.Add(4 * time.Hour),
	}, now)
	require.NoError(t, err)
	require.NoError(t, n.Accept("seller", now, 24*time.Hour))
	_, err = n.MarkPaid("buyer", now)
	require.NoError(t, err)
	_, err = n.MarkPaid("seller", now)
	require.NoError(t, err)
	require.NoError(t, mem.Negotiations().Create(ctx, n))

	s := meeting.Open(n.NegotiationID, n.CurrentProposedTime, meeting.DefaultRadiusMeters, now)
	p := proposal.Proposal{
		ProposalID:    proposal.NewID(),
		NegotiationID: n.NegotiationID,
		Kind:          proposal.KindLocation,
		Location:      &proposal.Location{Latitude: 52.5200, Longitude: 13.4050, Label: "Alexanderplatz"},
		ProposedBy:    "seller",
		CreatedAt:     now,
	}
	require.NoError(t, s.AcceptLocation(p, now))
	if startTracking {
		_, err = s.StartTracking(now)
		require.NoError(t, err)
	}
	require.NoError(t, mem.Meetings().Create(ctx, s))

	f := &fixture{store: NewStore(), pub: &captured{}, session: s, accepted: p.ProposalID}
	f.svc = NewService(mem.Negotiations(), mem.Meetings(), f.store, f.pub, domain.UnitKilometers, zerolog.Nop())
	f.svc.SetClock(func() time.Time { return now })
	return f
}

func TestPushPositionRequiresActiveTracking(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.PushPosition(context.Background(), "buyer", domain.Update{
		SessionID: f.session.SessionID,
		Latitude:  52.52,
		Longitude: 13.40,
	})
	assert.ErrorIs(t, err, negotiation.ErrIllegalTransition)
	assert.Equal(t, 0, f.store.Sessions())
}

func TestPushPositionRejectsOutsiders(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.PushPosition(context.Background(), "mallory", domain.Update{
		SessionID: f.session.SessionID,
		Latitude:  52.52,
		Longitude: 13.40,
	})
	assert.ErrorIs(t, err, negotiation.ErrNotFound)
}

func TestPushPositionStaleMeetingPoint(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.PushPosition(context.Background(), "buyer", domain.Update{
		ProposalID: proposal.NewID(),
		SessionID:  f.session.SessionID,
		Latitude:   52.52,
		Longitude:  13.40,
	})
	assert.ErrorIs(t, err, negotiation.ErrStaleState)
}

func TestPushAndCounterpart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	cp, err := f.svc.CounterpartPosition(ctx, "seller", f.session.SessionID)
	require.NoError(t, err)
	assert.Nil(t, cp)

	_, err = f.svc.PushPosition(ctx, "buyer", domain.Update{
		ProposalID: f.accepted,
		SessionID:  f.session.SessionID,
		Latitude:   52.5,
		Longitude:  13.4,
	})
	require.NoError(t, err)
	pos, err := f.svc.PushPosition(ctx, "buyer", domain.Update{
		ProposalID: f.accepted,
		SessionID:  f.session.SessionID,
		Latitude:   52.52,
		Longitude:  13.41,
	})
	require.NoError(t, err)
	assert.Equal(t, "buyer", pos.PartyID)

	cp, err = f.svc.CounterpartPosition(ctx, "seller", f.session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 52.52, cp.Latitude)
	assert.Equal(t, 13.41, cp.Longitude)

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, event.TrackingPosition, f.pub.events[1].Type)
	assert.Equal(t, []string{"seller"}, f.pub.events[1].Recipients)

	f.store.Discard(f.session.SessionID)
	cp, err = f.svc.CounterpartPosition(ctx, "seller", f.session.SessionID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestDistances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	report, err := f.svc.Distances(ctx, "buyer", f.session.SessionID)
	require.NoError(t, err)
	assert.Nil(t, report.Self)

	_, err = f.svc.PushPosition(ctx, "buyer", domain.Update{SessionID: f.session.SessionID, Latitude: 52.5200, Longitude: 13.4060})
	require.NoError(t, err)
	_, err = f.svc.PushPosition(ctx, "seller", domain.Update{SessionID: f.session.SessionID, Latitude: 52.5600, Longitude: 13.4050})
	require.NoError(t, err)

	report, err = f.svc.Distances(ctx, "buyer", f.session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, report.ToCounterpart)
	require.NotNil(t, report.ToMeetingPoint)
	assert.Equal(t, "~4", report.ToCounterpart.Display)
	assert.Equal(t, "under 1", report.ToMeetingPoint.Display)
	assert.True(t, report.WithinRadius)

	report, err = f.svc.Distances(ctx, "seller", f.session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "~4", report.ToMeetingPoint.Display)
	assert.False(t, report.WithinRadius)
}
