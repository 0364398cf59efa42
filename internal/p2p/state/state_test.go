package state

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	"github.com/swapmeet/swapmeet/internal/p2p/protocol"
)

func newTestMachine() *Machine {
	return NewMachine(Settings{
		PaymentWindow: time.Hour,
		RadiusMeters:  150,
		Fees:          payment.FeePolicy{Default: payment.MustParseAmount("2.00")},
	})
}

func TestMachineEndToEnd(t *testing.T) {
	m := newTestMachine()
	alice, bob := mustKey(t), mustKey(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	negID := uuid.New().String()
	sessionID := uuid.New().String()

	first := proposal.NewID()
	mustApply(t, m, signedTx(t, alice, "tx-001", negID, "alice", base,
		protocol.OpNegotiationPropose, protocol.NegotiationProposePayload{
			ListingID:    "listing-7",
			BuyerID:      "alice",
			SellerID:     "bob",
			ProposalID:   first,
			ProposedTime: base.Add(48 * time.Hour),
		}))
	second := proposal.NewID()
	mustApply(t, m, signedTx(t, bob, "tx-002", negID, "bob", base.Add(time.Minute),
		protocol.OpNegotiationCounter, protocol.NegotiationCounterPayload{
			Pin:          protocol.Pin{RespondingTo: ptr(first)},
			ProposalID:   second,
			ProposedTime: base.Add(50 * time.Hour),
		}))
	mustApply(t, m, signedTx(t, alice, "tx-003", negID, "alice", base.Add(2*time.Minute),
		protocol.OpNegotiationAccept, protocol.NegotiationAcceptPayload{
			Pin:       protocol.Pin{RespondingTo: ptr(second)},
			SessionID: sessionID,
		}))

	n, ok := m.GetNegotiation(negID)
	if !ok {
		t.Fatalf("negotiation not found")
	}
	if n.Status != negotiation.StatusAgreed || n.AgreementReachedAt == nil {
		t.Fatalf("expected agreed negotiation with agreement time, got %s", n.Status)
	}
	if !n.CurrentProposedTime.Equal(base.Add(50 * time.Hour)) {
		t.Fatalf("unexpected agreed time %s", n.CurrentProposedTime)
	}

	location := proposal.NewID()
	mustApply(t, m, signedTx(t, bob, "tx-004", negID, "bob", base.Add(3*time.Minute),
		protocol.OpLocationPropose, protocol.LocationProposePayload{
			ProposalID: location,
			Location:   proposal.Location{Latitude: 52.52, Longitude: 13.405, Label: "Alexanderplatz"},
		}))
	mustApply(t, m, signedTx(t, alice, "tx-005", negID, "alice", base.Add(4*time.Minute),
		protocol.OpLocationAccept, protocol.LocationRespondPayload{RespondingTo: location}))

	mustApply(t, m, signedTx(t, alice, "tx-006", negID, "alice", base.Add(5*time.Minute),
		protocol.OpPaymentRecord, protocol.PaymentRecordPayload{
			PaymentID:     uuid.New().String(),
			TransactionID: ptr("txn-alice-1"),
			Credit:        payment.MustParseAmount("0.75"),
		}))
	mustApply(t, m, signedTx(t, alice, "tx-007", negID, "alice", base.Add(6*time.Minute),
		protocol.OpPaymentRecord, protocol.PaymentRecordPayload{PaymentID: uuid.New().String()}))

	session, ok := m.GetMeeting(negID)
	if !ok {
		t.Fatalf("meeting not found")
	}
	if session.TrackingActive {
		t.Fatalf("tracking must stay off until both parties paid")
	}

	mustApply(t, m, signedTx(t, bob, "tx-008", negID, "bob", base.Add(7*time.Minute),
		protocol.OpPaymentRecord, protocol.PaymentRecordPayload{PaymentID: uuid.New().String(), Credit: payment.MustParseAmount("5.00")}))

	n, _ = m.GetNegotiation(negID)
	if n.Status != negotiation.StatusPaidComplete || !n.BothPaid() {
		t.Fatalf("expected paid_complete, got %s", n.Status)
	}
	session, _ = m.GetMeeting(negID)
	if !session.TrackingActive {
		t.Fatalf("expected tracking to start once both paid")
	}
	if session.SessionID.String() != sessionID {
		t.Fatalf("expected session id %s, got %s", sessionID, session.SessionID)
	}

	records := m.ListPayments(negID)
	if len(records) != 2 {
		t.Fatalf("expected one record per party, got %d", len(records))
	}
	if got := records[0].AmountCharged.String(); got != "1.25" {
		t.Fatalf("expected alice to be charged 1.25, got %s", got)
	}
	if records[0].TransactionID == nil || *records[0].TransactionID != "txn-alice-1" {
		t.Fatalf("expected alice's record to carry the processor transaction id")
	}
	if got := records[1].AmountCharged.String(); got != "0.00" {
		t.Fatalf("expected bob to be charged 0.00, got %s", got)
	}

	mustApply(t, m, signedTx(t, bob, "tx-009", negID, "bob", base.Add(8*time.Minute),
		protocol.OpMeetingComplete, protocol.MeetingCompletePayload{}))
	session, _ = m.GetMeeting(negID)
	if !session.IsClosed() || session.TrackingActive {
		t.Fatalf("expected closed session without tracking")
	}

	views, err := m.ListProposals(negID, proposal.KindTime)
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	if len(views) != 2 || views[0].Status != proposal.StatusRejected || views[1].Status != proposal.StatusAccepted {
		t.Fatalf("unexpected time ledger: %+v", views)
	}

	events := m.ListEvents(negID, 100, 0)
	if len(events) != 10 {
		t.Fatalf("expected 10 timeline events, got %d", len(events))
	}
	stats := m.StateStats()
	if stats.Negotiations != 1 || stats.Payments != 2 || stats.Parties != 2 || stats.AppliedTx != 9 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMachineRequiresTransactionForChargedPayment(t *testing.T) {
	m := newTestMachine()
	alice, bob := mustKey(t), mustKey(t)
	base := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	negID := uuid.New().String()

	mustApply(t, m, signedTx(t, alice, "tx-c1", negID, "alice", base,
		protocol.OpNegotiationPropose, protocol.NegotiationProposePayload{
			ListingID: "listing-9", BuyerID: "alice", SellerID: "bob", ProposalID: proposal.NewID(), ProposedTime: base.Add(24 * time.Hour),
		}))
	mustApply(t, m, signedTx(t, bob, "tx-c2", negID, "bob", base.Add(time.Minute),
		protocol.OpNegotiationAccept, protocol.NegotiationAcceptPayload{SessionID: uuid.New().String()}))

	err := m.ApplyTx(signedTx(t, alice, "tx-c3", negID, "alice", base.Add(2*time.Minute),
		protocol.OpPaymentRecord, protocol.PaymentRecordPayload{PaymentID: uuid.New().String()}))
	if !errors.Is(err, payment.ErrPaymentFailed) {
		t.Fatalf("expected payment without transaction to fail, got %v", err)
	}
	err = m.ApplyTx(signedTx(t, bob, "tx-c4", negID, "bob", base.Add(3*time.Minute),
		protocol.OpPaymentRecord, protocol.PaymentRecordPayload{
			PaymentID:     uuid.New().String(),
			TransactionID: ptr("  "),
			Credit:        payment.MustParseAmount("0.50"),
		}))
	if !errors.Is(err, payment.ErrPaymentFailed) {
		t.Fatalf("expected blank transaction id to fail, got %v", err)
	}

	n, _ := m.GetNegotiation(negID)
	if n.Status != negotiation.StatusAgreed || n.BuyerPaid || n.SellerPaid {
		t.Fatalf("expected unpaid agreed negotiation, got %s buyerPaid=%v sellerPaid=%v", n.Status, n.BuyerPaid, n.SellerPaid)
	}
	if len(m.ListPayments(negID)) != 0 {
		t.Fatalf("expected no payment records")
	}

	// Credit covering the whole fee needs no processor transaction.
	mustApply(t, m, signedTx(t, bob, "tx-c5", negID, "bob", base.Add(4*time.Minute),
		protocol.OpPaymentRecord, protocol.PaymentRecordPayload{PaymentID: uuid.New().String(), Credit: payment.MustParseAmount("2.00")}))
	n, _ = m.GetNegotiation(negID)
	if n.Status != negotiation.StatusPaidPartial || !n.SellerPaid {
		t.Fatalf("expected seller paid through credit, got %s", n.Status)
	}
}

func TestMachineRejectsStaleAccept(t *testing.T) {
	m := newTestMachine()
	alice, bob := mustKey(t), mustKey(t)
	base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	negID := uuid.New().String()

	first := proposal.NewID()
	mustApply(t, m, signedTx(t, alice, "tx-s1", negID, "alice", base,
		protocol.OpNegotiationPropose, protocol.NegotiationProposePayload{
			ListingID: "listing-9", BuyerID: "alice", SellerID: "bob", ProposalID: first, ProposedTime: base.Add(24 * time.Hour),
		}))
	mustApply(t, m, signedTx(t, bob, "tx-s2", negID, "bob", base.Add(time.Second),
		protocol.OpNegotiationCounter, protocol.NegotiationCounterPayload{
			ProposalID: proposal.NewID(), ProposedTime: base.Add(26 * time.Hour),
		}))

	err := m.ApplyTx(signedTx(t, alice, "tx-s3", negID, "alice", base.Add(2*time.Second),
		protocol.OpNegotiationAccept, protocol.NegotiationAcceptPayload{
			Pin: protocol.Pin{RespondingTo: ptr(first)}, SessionID: uuid.New().String(),
		}))
	if !errors.Is(err, negotiation.ErrStaleState) {
		t.Fatalf("expected stale state, got %v", err)
	}

	err = m.ApplyTx(signedTx(t, bob, "tx-s4", negID, "bob", base.Add(3*time.Second),
		protocol.OpNegotiationAccept, protocol.NegotiationAcceptPayload{SessionID: uuid.New().String()}))
	if !errors.Is(err, negotiation.ErrIllegalTransition) {
		t.Fatalf("expected proposer accept to be illegal, got %v", err)
	}

	n, _ := m.GetNegotiation(negID)
	if n.Status != negotiation.StatusCountered || n.Version != 2 {
		t.Fatalf("failed txs must not change state, got %s v%d", n.Status, n.Version)
	}
}

func TestMachineExpiresOnNextTx(t *testing.T) {
	m := newTestMachine()
	alice, bob := mustKey(t), mustKey(t)
	base := time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)
	negID := uuid.New().String()

	mustApply(t, m, signedTx(t, alice, "tx-e1", negID, "alice", base,
		protocol.OpNegotiationPropose, protocol.NegotiationProposePayload{
			ListingID: "listing-3", BuyerID: "alice", SellerID: "bob", ProposalID: proposal.NewID(), ProposedTime: base.Add(24 * time.Hour),
		}))
	mustApply(t, m, signedTx(t, bob, "tx-e2", negID, "bob", base.Add(time.Minute),
		protocol.OpNegotiationAccept, protocol.NegotiationAcceptPayload{SessionID: uuid.New().String()}))

	// Any later tx past the payment window sweeps the negotiation.
	err := m.ApplyTx(signedTx(t, alice, "tx-e3", negID, "alice", base.Add(2*time.Hour),
		protocol.OpPaymentRecord, protocol.PaymentRecordPayload{PaymentID: uuid.New().String()}))
	if !errors.Is(err, negotiation.ErrIllegalTransition) {
		t.Fatalf("expected payment on expired negotiation to fail, got %v", err)
	}

	n, _ := m.GetNegotiation(negID)
	if n.Status != negotiation.StatusExpired || n.AgreementReachedAt != nil {
		t.Fatalf("expected expired negotiation without agreement time, got %s", n.Status)
	}
	session, _ := m.GetMeeting(negID)
	if !session.IsClosed() {
		t.Fatalf("expected meeting session closed on expiry")
	}
	if len(m.ListPayments(negID)) != 0 {
		t.Fatalf("expected no payment records")
	}
}

func TestMachineBindsActorToKey(t *testing.T) {
	m := newTestMachine()
	alice, mallory := mustKey(t), mustKey(t)
	base := time.Date(2026, 1, 4, 9, 0, 0, 0, time.UTC)
	negID := uuid.New().String()

	mustApply(t, m, signedTx(t, alice, "tx-k1", negID, "alice", base,
		protocol.OpNegotiationPropose, protocol.NegotiationProposePayload{
			ListingID: "listing-1", BuyerID: "alice", SellerID: "bob", ProposalID: proposal.NewID(), ProposedTime: base.Add(time.Hour),
		}))
	err := m.ApplyTx(signedTx(t, mallory, "tx-k2", negID, "alice", base.Add(time.Second),
		protocol.OpNegotiationCancel, protocol.NegotiationCancelPayload{}))
	if err == nil {
		t.Fatalf("expected tx signed with another key to fail")
	}
	n, _ := m.GetNegotiation(negID)
	if n.Status != negotiation.StatusProposed {
		t.Fatalf("expected negotiation untouched, got %s", n.Status)
	}
}

func TestMachineReplayAndSnapshot(t *testing.T) {
	m := newTestMachine()
	alice := mustKey(t)
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	negID := uuid.New().String()

	tx := signedTx(t, alice, "tx-r1", negID, "alice", base,
		protocol.OpNegotiationPropose, protocol.NegotiationProposePayload{
			ListingID: "listing-5", BuyerID: "alice", SellerID: "bob", ProposalID: proposal.NewID(), ProposedTime: base.Add(time.Hour),
		})
	mustApply(t, m, tx)
	mustApply(t, m, tx)
	if got := len(m.ListEvents(negID, 100, 0)); got != 1 {
		t.Fatalf("replayed tx must not add events, got %d", got)
	}

	dup := signedTx(t, alice, "tx-r2", uuid.New().String(), "alice", base.Add(time.Second),
		protocol.OpNegotiationPropose, protocol.NegotiationProposePayload{
			ListingID: "listing-5", BuyerID: "alice", SellerID: "bob", ProposalID: proposal.NewID(), ProposedTime: base.Add(time.Hour),
		})
	if err := m.ApplyTx(dup); !errors.Is(err, negotiation.ErrIllegalTransition) {
		t.Fatalf("expected second open negotiation for the listing to fail, got %v", err)
	}

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := newTestMachine()
	if err := restored.Unmarshal(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	n, ok := restored.GetNegotiation(negID)
	if !ok || n.Status != negotiation.StatusProposed || n.BuyerID != "alice" {
		t.Fatalf("unexpected restored negotiation: %+v", n)
	}
	mustApply(t, restored, tx)
	if got := restored.StateStats().AppliedTx; got != 1 {
		t.Fatalf("expected applied tx set to survive snapshot, got %d", got)
	}
	if got := len(restored.ListNegotiations("bob", 10, 0)); got != 1 {
		t.Fatalf("expected bob to see one negotiation, got %d", got)
	}
}

func mustKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func ptr[T any](v T) *T {
	return &v
}

func mustApply(t *testing.T, m *Machine, tx protocol.Tx) {
	t.Helper()
	if err := m.ApplyTx(tx); err != nil {
		t.Fatalf("apply tx %s: %v", tx.TxID, err)
	}
}

func signedTx(t *testing.T, priv ed25519.PrivateKey, txID, negotiationID, actor string, at time.Time, op protocol.Operation, payload any) protocol.Tx {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	tx := protocol.Tx{
		TxID:          txID,
		NegotiationID: negotiationID,
		Nonce:         txID,
		Timestamp:     at,
		Actor:         actor,
		Op:            op,
		Payload:       raw,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}
