package proposal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrPendingExists   = errors.New("a proposal of this kind is already pending")
	ErrNotPending      = errors.New("proposal is no longer pending")
	ErrUnknownProposal = errors.New("proposal not found")
)

// Ledger is the append-only proposal history of one negotiation with an index
// of the current pending proposal per kind.
type Ledger struct {
	negotiationID uuid.UUID
	proposals     []Proposal
	byID          map[string]int
	responses     map[string]Response
	pending       map[Kind]string
}

func NewLedger(negotiationID uuid.UUID) *Ledger {
	return &Ledger{
		negotiationID: negotiationID,
		byID:          map[string]int{},
		responses:     map[string]Response{},
		pending:       map[Kind]string{},
	}
}

// Restore rebuilds a ledger from stored entries.
func Restore(negotiationID uuid.UUID, proposals []Proposal, responses []Response) (*Ledger, error) {
	l := NewLedger(negotiationID)
	sorted := append([]Proposal(nil), proposals...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ProposalID < sorted[j].ProposalID
	})
	for _, p := range sorted {
		if p.NegotiationID != negotiationID {
			return nil, fmt.Errorf("proposal %s belongs to negotiation %s", p.ProposalID, p.NegotiationID)
		}
		l.byID[p.ProposalID] = len(l.proposals)
		l.proposals = append(l.proposals, p)
	}
	for _, r := range responses {
		if _, ok := l.byID[r.ProposalID]; !ok {
			return nil, fmt.Errorf("response %s: %w", r.ResponseID, ErrUnknownProposal)
		}
		if _, dup := l.responses[r.ProposalID]; dup {
			return nil, fmt.Errorf("proposal %s has more than one response", r.ProposalID)
		}
		l.responses[r.ProposalID] = r
	}
	for _, p := range l.proposals {
		if _, settled := l.responses[p.ProposalID]; settled {
			continue
		}
		if other, ok := l.pending[p.Kind]; ok {
			return nil, fmt.Errorf("proposals %s and %s both pending: %w", other, p.ProposalID, ErrPendingExists)
		}
		l.pending[p.Kind] = p.ProposalID
	}
	return l, nil
}

func (l *Ledger) NegotiationID() uuid.UUID {
	return l.negotiationID
}

// Pending returns the pending proposal of kind, if any.
func (l *Ledger) Pending(kind Kind) (Proposal, bool) {
	id, ok := l.pending[kind]
	if !ok {
		return Proposal{}, false
	}
	return l.proposals[l.byID[id]], true
}

// LastProposer returns who made the most recent proposal of kind.
func (l *Ledger) LastProposer(kind Kind) (string, bool) {
	for i := len(l.proposals) - 1; i >= 0; i-- {
		if l.proposals[i].Kind == kind {
			return l.proposals[i].ProposedBy, true
		}
	}
	return "", false
}

// Get returns a proposal with its derived status.
func (l *Ledger) Get(proposalID string) (View, bool) {
	idx, ok := l.byID[proposalID]
	if !ok {
		return View{}, false
	}
	return l.view(l.proposals[idx]), true
}

// Views lists proposals in ledger order. An empty kind lists every kind.
func (l *Ledger) Views(kind Kind) []View {
	out := make([]View, 0, len(l.proposals))
	for _, p := range l.proposals {
		if kind != "" && p.Kind != kind {
			continue
		}
		out = append(out, l.view(p))
	}
	return out
}

// Responses lists recorded responses in proposal order.
func (l *Ledger) Responses() []Response {
	out := make([]Response, 0, len(l.responses))
	for _, p := range l.proposals {
		if r, ok := l.responses[p.ProposalID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Open appends a new pending proposal.
func (l *Ledger) Open(p Proposal) error {
	if err := l.checkNew(p); err != nil {
		return err
	}
	if _, ok := l.pending[p.Kind]; ok {
		return ErrPendingExists
	}
	l.append(p)
	return nil
}

// Respond settles the pending proposal named by r.
func (l *Ledger) Respond(r Response) error {
	if err := l.checkResponse(r); err != nil {
		return err
	}
	l.settle(r)
	return nil
}

// Counter rejects the pending proposal and appends next in its place.
func (l *Ledger) Counter(rejection Response, next Proposal) error {
	if rejection.Decision != DecisionRejected {
		return errors.New("counter must reject the countered proposal")
	}
	if err := l.checkResponse(rejection); err != nil {
		return err
	}
	if err := l.checkNew(next); err != nil {
		return err
	}
	old := l.proposals[l.byID[rejection.ProposalID]]
	if old.Kind != next.Kind {
		return errors.New("counter must keep the proposal kind")
	}
	if next.RespondsTo == nil || *next.RespondsTo != old.ProposalID {
		return errors.New("counter must reference the countered proposal")
	}
	if rejection.SupersededBy == nil || *rejection.SupersededBy != next.ProposalID {
		return errors.New("rejection must name the superseding proposal")
	}
	l.settle(rejection)
	l.append(next)
	return nil
}

func (l *Ledger) checkNew(p Proposal) error {
	if p.NegotiationID != l.negotiationID {
		return errors.New("proposal belongs to another negotiation")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if _, dup := l.byID[p.ProposalID]; dup {
		return fmt.Errorf("duplicate proposal id %s", p.ProposalID)
	}
	return nil
}

func (l *Ledger) checkResponse(r Response) error {
	idx, ok := l.byID[r.ProposalID]
	if !ok {
		return ErrUnknownProposal
	}
	p := l.proposals[idx]
	if l.pending[p.Kind] != p.ProposalID {
		return ErrNotPending
	}
	switch r.Decision {
	case DecisionAccepted, DecisionRejected, DecisionSuperseded:
	default:
		return errors.New("invalid decision")
	}
	return nil
}

func (l *Ledger) append(p Proposal) {
	l.byID[p.ProposalID] = len(l.proposals)
	l.proposals = append(l.proposals, p)
	l.pending[p.Kind] = p.ProposalID
}

func (l *Ledger) settle(r Response) {
	p := l.proposals[l.byID[r.ProposalID]]
	l.responses[r.ProposalID] = r
	delete(l.pending, p.Kind)
}

func (l *Ledger) view(p Proposal) View {
	v := View{Proposal: p, Status: StatusPending}
	r, ok := l.responses[p.ProposalID]
	if !ok {
		return v
	}
	at := r.CreatedAt
	by := r.RespondedBy
	v.RespondedAt = &at
	v.RespondedBy = &by
	v.SupersededBy = r.SupersededBy
	switch r.Decision {
	case DecisionAccepted:
		v.Status = StatusAccepted
	case DecisionSuperseded:
		v.Status = StatusSuperseded
	default:
		v.Status = StatusRejected
	}
	return v
}
