package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

func newNegotiation(t *testing.T) *negotiation.Negotiation {
	t.Helper()
	n, err := negotiation.Open(negotiation.Opening{
		ListingID:    "listing-1",
		BuyerID:      "alice",
		SellerID:     "bob",
		ProposedBy:   "alice",
		ProposedTime: time.Date(2025, 12, 6, 14, 0, 0, 0, time.UTC),
	}, time.Now().UTC())
	require.NoError(t, err)
	return n
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := New()
	repo := store.Negotiations()
	ledger := store.Proposals()
	ctx := context.Background()
	n := newNegotiation(t)

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.Create(ctx, n))
		at := n.CurrentProposedTime
		require.NoError(t, ledger.AppendProposal(ctx, &proposal.Proposal{
			ProposalID:    proposal.NewID(),
			NegotiationID: n.NegotiationID,
			Kind:          proposal.KindTime,
			ProposedTime:  &at,
			ProposedBy:    "alice",
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Nil(t, got)
	l, err := ledger.Load(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Empty(t, l.Views(""))
}

func TestUpdateChecksVersion(t *testing.T) {
	store := New()
	repo := store.Negotiations()
	ctx := context.Background()
	n := newNegotiation(t)
	require.NoError(t, repo.Create(ctx, n))

	first, _ := repo.GetByID(ctx, n.NegotiationID)
	second, _ := repo.GetByID(ctx, n.NegotiationID)

	require.NoError(t, first.Accept("bob", time.Now().UTC(), time.Hour))
	require.NoError(t, repo.Update(ctx, first, 1))

	require.NoError(t, second.Reject("bob", time.Now().UTC()))
	err := repo.Update(ctx, second, 1)
	assert.ErrorIs(t, err, negotiation.ErrStaleState)

	stored, _ := repo.GetByID(ctx, n.NegotiationID)
	assert.Equal(t, negotiation.StatusAgreed, stored.Status)
}

func TestCreateRejectsSecondOpenNegotiation(t *testing.T) {
	store := New()
	repo := store.Negotiations()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newNegotiation(t)))
	err := repo.Create(ctx, newNegotiation(t))
	assert.ErrorIs(t, err, negotiation.ErrIllegalTransition)
}

func TestCreditConsume(t *testing.T) {
	store := New()
	ctx := context.Background()
	credits := store.Credits()
	credits.SetCredit("alice", payment.MustParseAmount("3.00"))

	require.NoError(t, credits.Consume(ctx, "alice", payment.MustParseAmount("2.00")))
	err := credits.Consume(ctx, "alice", payment.MustParseAmount("2.00"))
	assert.ErrorIs(t, err, negotiation.ErrStaleState)

	boom := errors.New("boom")
	err = store.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, credits.Consume(ctx, "alice", payment.MustParseAmount("1.00")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	left, err := credits.AvailableCredit(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "1.00", left.String())
}

func TestDuplicatePaymentIsStale(t *testing.T) {
	store := New()
	ctx := context.Background()
	n := newNegotiation(t)
	q := payment.NewQuote(n.NegotiationID, "alice", payment.MustParseAmount("2.00"), 0)

	require.NoError(t, store.Payments().Create(ctx, payment.NewRecord(q, nil, time.Now().UTC())))
	err := store.Payments().Create(ctx, payment.NewRecord(q, nil, time.Now().UTC()))
	assert.ErrorIs(t, err, negotiation.ErrStaleState)
}
