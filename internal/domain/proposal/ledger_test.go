package proposal

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapmeet/swapmeet/internal/domain/validation"
)

var (
	negID = uuid.MustParse("7d1c1b8e-3a57-4b59-9a0e-2a3f7c8f2d10")
	t0    = time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
)

func locationProposal(label string, by string, respondsTo *string) Proposal {
	return Proposal{
		ProposalID:    NewID(),
		NegotiationID: negID,
		Kind:          KindLocation,
		Location:      &Location{Latitude: 40.78, Longitude: -73.96, Label: label},
		ProposedBy:    by,
		RespondsTo:    respondsTo,
		CreatedAt:     t0,
	}
}

func timeProposal(by string) Proposal {
	at := time.Date(2025, 12, 6, 14, 0, 0, 0, time.UTC)
	return Proposal{
		ProposalID:    NewID(),
		NegotiationID: negID,
		Kind:          KindTime,
		ProposedTime:  &at,
		ProposedBy:    by,
		CreatedAt:     t0,
	}
}

func TestOpenEnforcesSinglePendingPerKind(t *testing.T) {
	l := NewLedger(negID)
	require.NoError(t, l.Open(locationProposal("Central Park", "alice", nil)))
	assert.ErrorIs(t, l.Open(locationProposal("Times Square", "bob", nil)), ErrPendingExists)

	// A different kind has its own pending slot.
	require.NoError(t, l.Open(timeProposal("alice")))
	_, ok := l.Pending(KindTime)
	assert.True(t, ok)
}

func TestCounterSupersedesWithoutDeleting(t *testing.T) {
	l := NewLedger(negID)
	first := locationProposal("Central Park", "alice", nil)
	require.NoError(t, l.Open(first))

	second := locationProposal("Times Square", "bob", &first.ProposalID)
	rejection := Response{
		ResponseID:    NewID(),
		ProposalID:    first.ProposalID,
		NegotiationID: negID,
		Decision:      DecisionRejected,
		RespondedBy:   "bob",
		SupersededBy:  &second.ProposalID,
		CreatedAt:     t0.Add(time.Minute),
	}
	require.NoError(t, l.Counter(rejection, second))

	views := l.Views(KindLocation)
	require.Len(t, views, 2)
	assert.Equal(t, StatusRejected, views[0].Status)
	require.NotNil(t, views[0].SupersededBy)
	assert.Equal(t, second.ProposalID, *views[0].SupersededBy)
	assert.Equal(t, StatusPending, views[1].Status)

	pendingCount := 0
	for _, v := range views {
		if v.Status == StatusPending {
			pendingCount++
		}
	}
	assert.Equal(t, 1, pendingCount)

	last, ok := l.LastProposer(KindLocation)
	require.True(t, ok)
	assert.Equal(t, "bob", last)
}

func TestRespondRequiresPending(t *testing.T) {
	l := NewLedger(negID)
	p := timeProposal("alice")
	require.NoError(t, l.Open(p))

	accept := Response{ResponseID: NewID(), ProposalID: p.ProposalID, NegotiationID: negID, Decision: DecisionAccepted, RespondedBy: "bob", CreatedAt: t0}
	require.NoError(t, l.Respond(accept))
	assert.ErrorIs(t, l.Respond(accept), ErrNotPending)

	unknown := Response{ResponseID: NewID(), ProposalID: NewID(), NegotiationID: negID, Decision: DecisionRejected, RespondedBy: "bob"}
	assert.ErrorIs(t, l.Respond(unknown), ErrUnknownProposal)

	v, ok := l.Get(p.ProposalID)
	require.True(t, ok)
	assert.Equal(t, StatusAccepted, v.Status)
	_, pending := l.Pending(KindTime)
	assert.False(t, pending)
}

func TestCounterValidatesLinks(t *testing.T) {
	l := NewLedger(negID)
	first := locationProposal("Central Park", "alice", nil)
	require.NoError(t, l.Open(first))

	next := locationProposal("Times Square", "bob", nil)
	rejection := Response{ResponseID: NewID(), ProposalID: first.ProposalID, NegotiationID: negID, Decision: DecisionRejected, RespondedBy: "bob", SupersededBy: &next.ProposalID}
	assert.Error(t, l.Counter(rejection, next))

	// The failed counter leaves the ledger untouched.
	pending, ok := l.Pending(KindLocation)
	require.True(t, ok)
	assert.Equal(t, first.ProposalID, pending.ProposalID)
	assert.Len(t, l.Views(""), 1)
}

func TestRestoreRebuildsPendingIndex(t *testing.T) {
	first := locationProposal("Central Park", "alice", nil)
	second := locationProposal("Times Square", "bob", &first.ProposalID)
	rejection := Response{ResponseID: NewID(), ProposalID: first.ProposalID, NegotiationID: negID, Decision: DecisionRejected, RespondedBy: "bob", SupersededBy: &second.ProposalID}

	l, err := Restore(negID, []Proposal{second, first}, []Response{rejection})
	require.NoError(t, err)
	pending, ok := l.Pending(KindLocation)
	require.True(t, ok)
	assert.Equal(t, second.ProposalID, pending.ProposalID)
	assert.Equal(t, first.ProposalID, l.Views("")[0].ProposalID)

	_, err = Restore(negID, []Proposal{first, locationProposal("Other", "bob", nil)}, nil)
	assert.ErrorIs(t, err, ErrPendingExists)
}

func TestLocationValidate(t *testing.T) {
	assert.NoError(t, Location{Latitude: 1, Longitude: 2, Label: "x"}.Validate())
	assert.Error(t, Location{Latitude: 91, Longitude: 2, Label: "x"}.Validate())
	assert.Error(t, Location{Latitude: 1, Longitude: 181, Label: "x"}.Validate())
	assert.Error(t, Location{Latitude: 1, Longitude: 2, Label: " "}.Validate())
	assert.ErrorIs(t, Location{Latitude: math.NaN(), Longitude: 2, Label: "x"}.Validate(), validation.ErrInvalid)
	assert.ErrorIs(t, Location{Latitude: 1, Longitude: math.NaN(), Label: "x"}.Validate(), validation.ErrInvalid)
}
