package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appMeeting "github.com/swapmeet/swapmeet/internal/application/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/event"
	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	"github.com/swapmeet/swapmeet/internal/p2p/protocol"
)

const systemActor = "system"

// Settings are the policy values every replica must agree on.
type Settings struct {
	PaymentWindow time.Duration
	RadiusMeters  float64
	Fees          payment.FeePolicy
	// TrackingPolicy gates automatic tracking once both parties paid. Nil
	// starts tracking whenever the session is trackable.
	TrackingPolicy *appMeeting.Policy
}

type Event struct {
	EventID       string          `json:"eventId"`
	NegotiationID string          `json:"negotiationId"`
	Type          string          `json:"type"`
	Actor         string          `json:"actor"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	TxID          string          `json:"txId"`
	CommitTime    time.Time       `json:"commitTime"`
}

type snapshot struct {
	Negotiations        map[string]negotiation.Negotiation `json:"negotiations"`
	Proposals           map[string][]proposal.Proposal     `json:"proposals"`
	Responses           map[string][]proposal.Response     `json:"responses"`
	Meetings            map[string]meeting.Session         `json:"meetings"`
	Payments            map[string][]payment.Record        `json:"payments"`
	PartyKeys           map[string]string                  `json:"partyKeys"`
	EventsByNegotiation map[string][]Event                 `json:"eventsByNegotiation"`
	AppliedTx           map[string]bool                    `json:"appliedTx"`
}

// Machine is the deterministic negotiation state machine replicated through
// the Raft log. Every time it reads comes from the tx timestamp.
type Machine struct {
	settings Settings

	mu sync.RWMutex
	s  snapshot
}

func NewMachine(settings Settings) *Machine {
	if settings.PaymentWindow <= 0 {
		settings.PaymentWindow = 24 * time.Hour
	}
	if settings.RadiusMeters <= 0 {
		settings.RadiusMeters = meeting.DefaultRadiusMeters
	}
	return &Machine{settings: settings, s: emptySnapshot()}
}

func emptySnapshot() snapshot {
	return snapshot{
		Negotiations:        map[string]negotiation.Negotiation{},
		Proposals:           map[string][]proposal.Proposal{},
		Responses:           map[string][]proposal.Response{},
		Meetings:            map[string]meeting.Session{},
		Payments:            map[string][]payment.Record{},
		PartyKeys:           map[string]string{},
		EventsByNegotiation: map[string][]Event{},
		AppliedTx:           map[string]bool{},
	}
}

// Marshal serializes current machine snapshot.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.s)
}

// Unmarshal restores machine state from snapshot payload.
func (m *Machine) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot")
	}
	s := emptySnapshot()
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	normalizeSnapshot(&s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

func normalizeSnapshot(s *snapshot) {
	empty := emptySnapshot()
	if s.Negotiations == nil {
		s.Negotiations = empty.Negotiations
	}
	if s.Proposals == nil {
		s.Proposals = empty.Proposals
	}
	if s.Responses == nil {
		s.Responses = empty.Responses
	}
	if s.Meetings == nil {
		s.Meetings = empty.Meetings
	}
	if s.Payments == nil {
		s.Payments = empty.Payments
	}
	if s.PartyKeys == nil {
		s.PartyKeys = empty.PartyKeys
	}
	if s.EventsByNegotiation == nil {
		s.EventsByNegotiation = empty.EventsByNegotiation
	}
	if s.AppliedTx == nil {
		s.AppliedTx = empty.AppliedTx
	}
}

// ApplyTx validates and applies one signed transaction. A replayed tx id is a no-op.
func (m *Machine) ApplyTx(tx protocol.Tx) error {
	if err := tx.Verify(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.AppliedTx[tx.TxID] {
		return nil
	}
	actor := strings.TrimSpace(tx.Actor)
	if actor == systemActor {
		return fmt.Errorf("actor %q is reserved", systemActor)
	}
	if key, ok := m.s.PartyKeys[actor]; ok && key != strings.TrimSpace(tx.PublicKey) {
		return fmt.Errorf("%w: actor %s is bound to another key", negotiation.ErrIllegalTransition, actor)
	}
	at := tx.Timestamp.UTC()
	m.expireNegotiationsLocked(at, tx.TxID)

	id, err := uuid.Parse(strings.TrimSpace(tx.NegotiationID))
	if err != nil {
		return fmt.Errorf("invalid negotiation_id: %w", err)
	}
	a := &apply{m: m, tx: tx, id: id, actor: actor, at: at}
	switch tx.Op {
	case protocol.OpNegotiationPropose:
		err = a.propose()
	case protocol.OpNegotiationCounter:
		err = a.counter()
	case protocol.OpNegotiationAccept:
		err = a.accept()
	case protocol.OpNegotiationReject:
		err = a.reject()
	case protocol.OpNegotiationCancel:
		err = a.cancel()
	case protocol.OpPaymentRecord:
		err = a.recordPayment()
	case protocol.OpLocationPropose:
		err = a.proposeLocation()
	case protocol.OpLocationCounter:
		err = a.counterLocation()
	case protocol.OpLocationAccept:
		err = a.respondLocation(proposal.DecisionAccepted)
	case protocol.OpLocationReject:
		err = a.respondLocation(proposal.DecisionRejected)
	case protocol.OpMeetingComplete:
		err = a.completeMeeting()
	default:
		err = fmt.Errorf("unsupported op: %s", tx.Op)
	}
	if err != nil {
		return err
	}
	a.commit()
	m.s.PartyKeys[actor] = strings.TrimSpace(tx.PublicKey)
	m.s.AppliedTx[tx.TxID] = true
	return nil
}

// apply stages the effects of one tx. Nothing reaches the snapshot until commit.
type apply struct {
	m     *Machine
	tx    protocol.Tx
	id    uuid.UUID
	actor string
	at    time.Time

	// idPrefix overrides the tx id as the prefix of derived response ids.
	idPrefix string

	n         *negotiation.Negotiation
	ledger    *proposal.Ledger
	session   *meeting.Session
	proposals []proposal.Proposal
	responses []proposal.Response
	payment   *payment.Record
	events    []pendingEvent
	seq       int
}

type pendingEvent struct {
	kind    event.Type
	actor   string
	payload any
}

func (a *apply) load() error {
	key := a.id.String()
	n, ok := a.m.s.Negotiations[key]
	if !ok || (a.actor != systemActor && !n.IsParticipant(a.actor)) {
		return fmt.Errorf("%w: negotiation %s", negotiation.ErrNotFound, a.id)
	}
	l, err := proposal.Restore(a.id, a.m.s.Proposals[key], a.m.s.Responses[key])
	if err != nil {
		return err
	}
	a.n = &n
	a.ledger = l
	if s, ok := a.m.s.Meetings[key]; ok {
		a.session = &s
	}
	return nil
}

func (a *apply) commit() {
	key := a.id.String()
	if a.n != nil {
		a.m.s.Negotiations[key] = *a.n
	}
	if a.session != nil {
		a.m.s.Meetings[key] = *a.session
	}
	if len(a.proposals) > 0 {
		a.m.s.Proposals[key] = append(a.m.s.Proposals[key], a.proposals...)
	}
	if len(a.responses) > 0 {
		a.m.s.Responses[key] = append(a.m.s.Responses[key], a.responses...)
	}
	if a.payment != nil {
		a.m.s.Payments[key] = append(a.m.s.Payments[key], *a.payment)
	}
	for _, e := range a.events {
		a.m.appendEventLocked(key, e.kind, e.actor, e.payload, a.at, a.tx.TxID)
	}
}

func (a *apply) emit(kind event.Type, payload any) {
	a.events = append(a.events, pendingEvent{kind: kind, actor: a.actor, payload: payload})
}

func (a *apply) responseID() string {
	a.seq++
	prefix := a.idPrefix
	if prefix == "" {
		prefix = a.tx.TxID
	}
	return fmt.Sprintf("%s/%d", prefix, a.seq)
}

// newProposal checks a submitter-chosen id: it must be a ULID sorting after
// every proposal already in the ledger.
func (a *apply) newProposal(raw string, kind proposal.Kind) (proposal.Proposal, error) {
	id, err := proposal.ParseID(strings.TrimSpace(raw))
	if err != nil {
		return proposal.Proposal{}, err
	}
	for _, p := range a.m.s.Proposals[a.id.String()] {
		if p.ProposalID >= id {
			return proposal.Proposal{}, fmt.Errorf("proposal id %s does not sort after %s", id, p.ProposalID)
		}
	}
	return proposal.Proposal{
		ProposalID:    id,
		NegotiationID: a.id,
		Kind:          kind,
		ProposedBy:    a.actor,
		CreatedAt:     a.at,
	}, nil
}

func (a *apply) respond(pending proposal.Proposal, decision proposal.Decision, supersededBy *string) proposal.Response {
	return proposal.Response{
		ResponseID:    a.responseID(),
		ProposalID:    pending.ProposalID,
		NegotiationID: a.id,
		Decision:      decision,
		RespondedBy:   a.actor,
		SupersededBy:  supersededBy,
		CreatedAt:     a.at,
	}
}

func (a *apply) propose() error {
	payload, err := protocol.DecodePayload[protocol.NegotiationProposePayload](a.tx.Payload)
	if err != nil {
		return err
	}
	if _, exists := a.m.s.Negotiations[a.id.String()]; exists {
		return fmt.Errorf("%w: negotiation %s already exists", negotiation.ErrIllegalTransition, a.id)
	}
	n, err := negotiation.Open(negotiation.Opening{
		NegotiationID: a.id,
		ListingID:     strings.TrimSpace(payload.ListingID),
		ExchangeType:  payload.ExchangeType,
		BuyerID:       strings.TrimSpace(payload.BuyerID),
		SellerID:      strings.TrimSpace(payload.SellerID),
		ProposedBy:    a.actor,
		ProposedTime:  payload.ProposedTime,
	}, a.at)
	if err != nil {
		return err
	}
	if other := a.m.findActiveLocked(n.ListingID, n.BuyerID, n.SellerID); other != "" {
		return fmt.Errorf("%w: negotiation %s is still open for this listing", negotiation.ErrIllegalTransition, other)
	}
	p, err := a.newProposal(payload.ProposalID, proposal.KindTime)
	if err != nil {
		return err
	}
	at := n.CurrentProposedTime
	p.ProposedTime = &at
	p.Message = payload.Message
	l := proposal.NewLedger(a.id)
	if err := l.Open(p); err != nil {
		return err
	}
	a.n = n
	a.proposals = append(a.proposals, p)
	a.emit(event.NegotiationProposed, map[string]any{"negotiation": n, "proposal": p})
	return nil
}

func (a *apply) counter() error {
	payload, err := protocol.DecodePayload[protocol.NegotiationCounterPayload](a.tx.Payload)
	if err != nil {
		return err
	}
	if err := a.load(); err != nil {
		return err
	}
	if err := a.checkPinned(payload.Pin); err != nil {
		return err
	}
	if err := a.n.Counter(a.actor, payload.ProposedTime, a.at); err != nil {
		return err
	}
	pending, ok := a.ledger.Pending(proposal.KindTime)
	if !ok {
		return fmt.Errorf("%w: no pending time proposal", negotiation.ErrStaleState)
	}
	next, err := a.newProposal(payload.ProposalID, proposal.KindTime)
	if err != nil {
		return err
	}
	at := a.n.CurrentProposedTime
	next.ProposedTime = &at
	next.Message = payload.Message
	next.RespondsTo = &pending.ProposalID
	rejection := a.respond(pending, proposal.DecisionRejected, &next.ProposalID)
	if err := a.ledger.Counter(rejection, next); err != nil {
		return ledgerError(err)
	}
	a.responses = append(a.responses, rejection)
	a.proposals = append(a.proposals, next)
	a.emit(event.NegotiationCountered, map[string]any{"negotiation": a.n, "proposal": next})
	return nil
}

func (a *apply) accept() error {
	payload, err := protocol.DecodePayload[protocol.NegotiationAcceptPayload](a.tx.Payload)
	if err != nil {
		return err
	}
	sessionID, err := uuid.Parse(strings.TrimSpace(payload.SessionID))
	if err != nil {
		return fmt.Errorf("invalid session_id: %w", err)
	}
	if err := a.load(); err != nil {
		return err
	}
	if err := a.checkPinned(payload.Pin); err != nil {
		return err
	}
	if err := a.n.Accept(a.actor, a.at, a.m.settings.PaymentWindow); err != nil {
		return err
	}
	if err := a.settlePending(proposal.KindTime, proposal.DecisionAccepted); err != nil {
		return err
	}
	a.session = meeting.Open(a.id, a.n.CurrentProposedTime, a.m.settings.RadiusMeters, a.at)
	a.session.SessionID = sessionID
	a.emit(event.NegotiationAgreed, map[string]any{"negotiation": a.n, "sessionId": sessionID})
	return nil
}

func (a *apply) reject() error {
	payload, err := protocol.DecodePayload[protocol.NegotiationRejectPayload](a.tx.Payload)
	if err != nil {
		return err
	}
	if err := a.load(); err != nil {
		return err
	}
	if err := a.checkPinned(payload.Pin); err != nil {
		return err
	}
	if err := a.n.Reject(a.actor, a.at); err != nil {
		return err
	}
	if err := a.settlePending(proposal.KindTime, proposal.DecisionRejected); err != nil {
		return err
	}
	if err := a.closeSession(meeting.CloseRejected); err != nil {
		return err
	}
	a.emit(event.NegotiationRejected, a.n)
	return nil
}

func (a *apply) cancel() error {
	payload, err := protocol.DecodePayload[protocol.NegotiationCancelPayload](a.tx.Payload)
	if err != nil {
		return err
	}
	if err := a.load(); err != nil {
		return err
	}
	if err := a.checkPinned(protocol.Pin{ExpectedVersion: payload.ExpectedVersion}); err != nil {
		return err
	}
	if err := a.n.Cancel(a.actor, a.at); err != nil {
		return err
	}
	if err := a.closeSession(meeting.CloseCancelled); err != nil {
		return err
	}
	a.emit(event.NegotiationCancelled, a.n)
	return nil
}

// recordPayment is idempotent per party: a second record for a party that
// already paid changes nothing.
func (a *apply) recordPayment() error {
	payload, err := protocol.DecodePayload[protocol.PaymentRecordPayload](a.tx.Payload)
	if err != nil {
		return err
	}
	paymentID, err := uuid.Parse(strings.TrimSpace(payload.PaymentID))
	if err != nil {
		return fmt.Errorf("invalid payment_id: %w", err)
	}
	if err := a.load(); err != nil {
		return err
	}
	if a.n.HasPaid(a.actor) {
		a.n = nil
		a.session = nil
		return nil
	}
	bothPaid, err := a.n.MarkPaid(a.actor, a.at)
	if err != nil {
		return err
	}
	q := payment.NewQuote(a.id, a.actor, a.m.settings.Fees.FeeFor(a.n.ExchangeType), payload.Credit)
	if q.AmountDue > 0 && (payload.TransactionID == nil || strings.TrimSpace(*payload.TransactionID) == "") {
		return fmt.Errorf("%w: amount due %s has no transaction_id", payment.ErrPaymentFailed, q.AmountDue)
	}
	rec := payment.NewRecord(q, payload.TransactionID, a.at)
	rec.PaymentID = paymentID
	a.payment = rec
	a.emit(event.PaymentCompleted, rec)
	if !bothPaid {
		return nil
	}
	a.emit(event.PaymentBothPaid, a.n)
	return a.autoStartTracking()
}

func (a *apply) autoStartTracking() error {
	if a.session == nil || !a.session.Trackable() || a.n.Status != negotiation.StatusPaidComplete {
		return nil
	}
	if policy := a.m.settings.TrackingPolicy; policy != nil {
		allowed, err := policy.Allows(a.n, a.session)
		if err != nil {
			return fmt.Errorf("evaluate tracking policy: %w", err)
		}
		if !allowed {
			return nil
		}
	}
	started, err := a.session.StartTracking(a.at)
	if err != nil {
		return err
	}
	if started {
		a.events = append(a.events, pendingEvent{kind: event.MeetingTrackingStarted, actor: systemActor, payload: a.session})
	}
	return nil
}

func (a *apply) proposeLocation() error {
	payload, err := protocol.DecodePayload[protocol.LocationProposePayload](a.tx.Payload)
	if err != nil {
		return err
	}
	if err := a.load(); err != nil {
		return err
	}
	if err := a.requireOpenForLocations(); err != nil {
		return err
	}
	p, err := a.locationProposal(payload, nil)
	if err != nil {
		return err
	}
	if err := a.ledger.Open(p); err != nil {
		return ledgerError(err)
	}
	a.proposals = append(a.proposals, p)
	a.emit(event.MeetingLocationProposed, p)
	return nil
}

func (a *apply) counterLocation() error {
	payload, err := protocol.DecodePayload[protocol.LocationCounterPayload](a.tx.Payload)
	if err != nil {
		return err
	}
	if err := a.load(); err != nil {
		return err
	}
	pending, err := a.pendingLocation(payload.RespondingTo, "counter")
	if err != nil {
		return err
	}
	next, err := a.locationProposal(payload.LocationProposePayload, &pending.ProposalID)
	if err != nil {
		return err
	}
	rejection := a.respond(pending, proposal.DecisionRejected, &next.ProposalID)
	if err := a.ledger.Counter(rejection, next); err != nil {
		return ledgerError(err)
	}
	a.responses = append(a.responses, rejection)
	a.proposals = append(a.proposals, next)
	a.emit(event.MeetingLocationCountered, next)
	return nil
}

func (a *apply) respondLocation(decision proposal.Decision) error {
	payload, err := protocol.DecodePayload[protocol.LocationRespondPayload](a.tx.Payload)
	if err != nil {
		return err
	}
	if err := a.load(); err != nil {
		return err
	}
	action := "accept location for"
	if decision == proposal.DecisionRejected {
		action = "reject location for"
	}
	pending, err := a.pendingLocation(payload.RespondingTo, action)
	if err != nil {
		return err
	}
	r := a.respond(pending, decision, nil)
	if err := a.ledger.Respond(r); err != nil {
		return ledgerError(err)
	}
	a.responses = append(a.responses, r)
	if decision == proposal.DecisionRejected {
		a.emit(event.MeetingLocationRejected, pending)
		return nil
	}
	if err := a.session.AcceptLocation(pending, a.at); err != nil {
		return err
	}
	a.emit(event.MeetingLocationAccepted, map[string]any{"proposal": pending, "session": a.session})
	return a.autoStartTracking()
}

func (a *apply) completeMeeting() error {
	if err := a.load(); err != nil {
		return err
	}
	if a.session == nil {
		return fmt.Errorf("%w: no meeting session for negotiation %s", negotiation.ErrNotFound, a.id)
	}
	if a.n.Status != negotiation.StatusPaidComplete {
		return &negotiation.TransitionError{Action: "complete meeting for", Status: a.n.Status, Reason: "both parties must pay first"}
	}
	if !a.session.Close(meeting.CloseCompleted, a.at) {
		return fmt.Errorf("%w: meeting already closed", meeting.ErrSessionClosed)
	}
	a.emit(event.MeetingCompleted, a.session)
	return nil
}

func (a *apply) locationProposal(payload protocol.LocationProposePayload, respondsTo *string) (proposal.Proposal, error) {
	p, err := a.newProposal(payload.ProposalID, proposal.KindLocation)
	if err != nil {
		return p, err
	}
	loc := payload.Location
	p.Location = &loc
	p.Message = payload.Message
	p.RespondsTo = respondsTo
	if payload.MeetAt != nil {
		at := payload.MeetAt.UTC()
		p.ProposedTime = &at
	}
	return p, nil
}

func (a *apply) requireOpenForLocations() error {
	if !a.n.IsAgreed() {
		return &negotiation.TransitionError{Action: "negotiate location for", Status: a.n.Status, Reason: "time is not agreed"}
	}
	if a.session == nil {
		return fmt.Errorf("%w: no meeting session for negotiation %s", negotiation.ErrNotFound, a.id)
	}
	if a.session.IsClosed() {
		return &negotiation.TransitionError{Action: "negotiate location for", Status: a.n.Status, Reason: "meeting session is closed"}
	}
	return nil
}

func (a *apply) pendingLocation(proposalID, action string) (proposal.Proposal, error) {
	if err := a.requireOpenForLocations(); err != nil {
		return proposal.Proposal{}, err
	}
	view, ok := a.ledger.Get(strings.TrimSpace(proposalID))
	if !ok || view.Kind != proposal.KindLocation {
		return proposal.Proposal{}, fmt.Errorf("%w: location proposal %s", negotiation.ErrNotFound, proposalID)
	}
	if view.Status != proposal.StatusPending {
		return proposal.Proposal{}, fmt.Errorf("%w: location proposal %s is %s", negotiation.ErrStaleState, proposalID, view.Status)
	}
	if view.ProposedBy == a.actor {
		return proposal.Proposal{}, &negotiation.TransitionError{Action: action, Status: a.n.Status, Reason: "caller made this proposal"}
	}
	return view.Proposal, nil
}

func (a *apply) checkPinned(pin protocol.Pin) error {
	if pin.ExpectedVersion != nil && *pin.ExpectedVersion != a.n.Version {
		return fmt.Errorf("%w: negotiation is at version %d", negotiation.ErrStaleState, a.n.Version)
	}
	if pin.RespondingTo != nil {
		pending, ok := a.ledger.Pending(proposal.KindTime)
		if !ok || pending.ProposalID != *pin.RespondingTo {
			return fmt.Errorf("%w: proposal %s is no longer pending", negotiation.ErrStaleState, *pin.RespondingTo)
		}
	}
	return nil
}

func (a *apply) settlePending(kind proposal.Kind, decision proposal.Decision) error {
	pending, ok := a.ledger.Pending(kind)
	if !ok {
		return nil
	}
	r := a.respond(pending, decision, nil)
	if err := a.ledger.Respond(r); err != nil {
		return ledgerError(err)
	}
	a.responses = append(a.responses, r)
	return nil
}

// closeSession supersedes open proposals and closes the meeting session after
// a terminal failure.
func (a *apply) closeSession(reason meeting.CloseReason) error {
	for _, kind := range []proposal.Kind{proposal.KindTime, proposal.KindLocation} {
		if err := a.settlePending(kind, proposal.DecisionSuperseded); err != nil {
			return err
		}
	}
	if a.session != nil {
		a.session.Close(reason, a.at)
	}
	return nil
}

// expireNegotiationsLocked moves every negotiation whose payment window closed
// before at to expired, in id order.
func (m *Machine) expireNegotiationsLocked(at time.Time, txID string) {
	ids := make([]string, 0)
	for id, n := range m.s.Negotiations {
		if n.Expirable(at) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := &apply{m: m, tx: protocol.Tx{TxID: txID}, id: m.s.Negotiations[id].NegotiationID, actor: systemActor, at: at, idPrefix: txID + "/expire/" + id}
		if err := a.load(); err != nil {
			continue
		}
		if err := a.n.Expire(at); err != nil {
			continue
		}
		if err := a.closeSession(meeting.CloseExpired); err != nil {
			continue
		}
		a.emit(event.NegotiationExpired, a.n)
		a.commit()
	}
}

func (m *Machine) findActiveLocked(listingID, buyerID, sellerID string) string {
	ids := make([]string, 0)
	for id, n := range m.s.Negotiations {
		if n.ListingID == listingID && n.BuyerID == buyerID && n.SellerID == sellerID && !n.IsTerminal() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[0]
}

func (m *Machine) appendEventLocked(negotiationID string, kind event.Type, actor string, payload any, at time.Time, txID string) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = systemActor
	}
	rawPayload := json.RawMessage(nil)
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			rawPayload = b
		}
	}
	seq := len(m.s.EventsByNegotiation[negotiationID]) + 1
	m.s.EventsByNegotiation[negotiationID] = append(m.s.EventsByNegotiation[negotiationID], Event{
		EventID:       fmt.Sprintf("%s:%s:%06d", strings.TrimSpace(txID), negotiationID, seq),
		NegotiationID: negotiationID,
		Type:          string(kind),
		Actor:         actor,
		Payload:       rawPayload,
		TxID:          txID,
		CommitTime:    at,
	})
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, proposal.ErrNotPending):
		return fmt.Errorf("%w: %v", negotiation.ErrStaleState, err)
	case errors.Is(err, proposal.ErrUnknownProposal):
		return fmt.Errorf("%w: %v", negotiation.ErrNotFound, err)
	case errors.Is(err, proposal.ErrPendingExists):
		return fmt.Errorf("%w: %v", negotiation.ErrIllegalTransition, err)
	default:
		return err
	}
}

func pageWindow(total, limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return total, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}

func cloneEvent(in Event) Event {
	if in.Payload != nil {
		in.Payload = append([]byte(nil), in.Payload...)
	}
	return in
}

func (m *Machine) GetNegotiation(id string) (negotiation.Negotiation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.s.Negotiations[strings.TrimSpace(id)]
	return n, ok
}

// ListNegotiations returns the negotiations party takes part in, newest first.
func (m *Machine) ListNegotiations(party string, limit, offset int) []negotiation.Negotiation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]negotiation.Negotiation, 0)
	for _, n := range m.s.Negotiations {
		if n.IsParticipant(party) {
			items = append(items, n)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].NegotiationID.String() > items[j].NegotiationID.String()
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	start, end := pageWindow(len(items), limit, offset)
	return append([]negotiation.Negotiation(nil), items[start:end]...)
}

// ListProposals returns the ledger of a negotiation with derived statuses.
// An empty kind lists every kind.
func (m *Machine) ListProposals(id string, kind proposal.Kind) ([]proposal.View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.s.Negotiations[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: negotiation %s", negotiation.ErrNotFound, id)
	}
	key := n.NegotiationID.String()
	l, err := proposal.Restore(n.NegotiationID, m.s.Proposals[key], m.s.Responses[key])
	if err != nil {
		return nil, err
	}
	return l.Views(kind), nil
}

func (m *Machine) GetMeeting(negotiationID string) (meeting.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.s.Meetings[strings.TrimSpace(negotiationID)]
	return s, ok
}

func (m *Machine) ListPayments(negotiationID string) []payment.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payment.Record(nil), m.s.Payments[strings.TrimSpace(negotiationID)]...)
}

func (m *Machine) ListEvents(negotiationID string, limit, offset int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := append([]Event(nil), m.s.EventsByNegotiation[strings.TrimSpace(negotiationID)]...)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CommitTime.Equal(items[j].CommitTime) {
			return items[i].EventID > items[j].EventID
		}
		return items[i].CommitTime.After(items[j].CommitTime)
	})
	start, end := pageWindow(len(items), limit, offset)
	out := make([]Event, 0, end-start)
	for _, e := range items[start:end] {
		out = append(out, cloneEvent(e))
	}
	return out
}

type Stats struct {
	Negotiations   int            `json:"negotiations"`
	ByStatus       map[string]int `json:"byStatus"`
	Proposals      int            `json:"proposals"`
	Meetings       int            `json:"meetings"`
	ActiveTracking int            `json:"activeTracking"`
	Payments       int            `json:"payments"`
	Parties        int            `json:"parties"`
	Events         int            `json:"events"`
	AppliedTx      int            `json:"appliedTx"`
}

func (m *Machine) StateStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{
		Negotiations: len(m.s.Negotiations),
		ByStatus:     map[string]int{},
		Meetings:     len(m.s.Meetings),
		Parties:      len(m.s.PartyKeys),
		AppliedTx:    len(m.s.AppliedTx),
	}
	for _, n := range m.s.Negotiations {
		stats.ByStatus[string(n.Status)]++
	}
	for _, ps := range m.s.Proposals {
		stats.Proposals += len(ps)
	}
	for _, s := range m.s.Meetings {
		if s.TrackingActive {
			stats.ActiveTracking++
		}
	}
	for _, rs := range m.s.Payments {
		stats.Payments += len(rs)
	}
	for _, es := range m.s.EventsByNegotiation {
		stats.Events += len(es)
	}
	return stats
}
