package negotiation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/validation"
)

// Status represents negotiation status.
type Status string

const (
	StatusProposed     Status = "proposed"
	StatusCountered    Status = "countered"
	StatusAgreed       Status = "agreed"
	StatusPaidPartial  Status = "paid_partial"
	StatusPaidComplete Status = "paid_complete"
	StatusRejected     Status = "rejected"
	StatusExpired      Status = "expired"
	StatusCancelled    Status = "cancelled"
)

// DefaultExchangeType is used when a proposal does not name one.
const DefaultExchangeType = "standard"

// Role is the side a party takes on a listing.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

var transitions = map[Status][]Status{
	StatusProposed:     {StatusCountered, StatusAgreed, StatusRejected, StatusCancelled},
	StatusCountered:    {StatusCountered, StatusAgreed, StatusRejected, StatusCancelled},
	StatusAgreed:       {StatusPaidPartial, StatusExpired, StatusCancelled},
	StatusPaidPartial:  {StatusPaidComplete, StatusExpired, StatusCancelled},
	StatusPaidComplete: {},
	StatusRejected:     {},
	StatusExpired:      {},
	StatusCancelled:    {},
}

// Negotiation is the agreement process between the buyer and seller of a listing.
type Negotiation struct {
	ID                  int64      `json:"-"`
	NegotiationID       uuid.UUID  `json:"negotiationId"`
	ListingID           string     `json:"listingId"`
	ExchangeType        string     `json:"exchangeType"`
	BuyerID             string     `json:"buyerId"`
	SellerID            string     `json:"sellerId"`
	Status              Status     `json:"status"`
	CurrentProposedTime time.Time  `json:"currentProposedTime"`
	ProposedBy          string     `json:"proposedBy"`
	BuyerPaid           bool       `json:"buyerPaid"`
	SellerPaid          bool       `json:"sellerPaid"`
	AgreementReachedAt  *time.Time `json:"agreementReachedAt"`
	PaymentDeadline     *time.Time `json:"paymentDeadline"`
	Version             int64      `json:"version"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Opening carries the fields of the first time proposal.
type Opening struct {
	NegotiationID uuid.UUID
	ListingID     string
	ExchangeType  string
	BuyerID       string
	SellerID      string
	ProposedBy    string
	ProposedTime  time.Time
}

// Open creates a negotiation in the proposed state.
func Open(in Opening, now time.Time) (*Negotiation, error) {
	if strings.TrimSpace(in.ListingID) == "" {
		return nil, validation.New("listingId is required")
	}
	if in.BuyerID == "" || in.SellerID == "" {
		return nil, validation.New("buyer and seller are required")
	}
	if in.BuyerID == in.SellerID {
		return nil, validation.New("buyer and seller must differ")
	}
	if in.ProposedBy != in.BuyerID && in.ProposedBy != in.SellerID {
		return nil, validation.New("proposer must be a participant")
	}
	if in.ProposedTime.IsZero() {
		return nil, validation.New("proposedTime is required")
	}
	id := in.NegotiationID
	if id == uuid.Nil {
		id = uuid.New()
	}
	exchangeType := strings.TrimSpace(in.ExchangeType)
	if exchangeType == "" {
		exchangeType = DefaultExchangeType
	}
	return &Negotiation{
		NegotiationID:       id,
		ListingID:           in.ListingID,
		ExchangeType:        exchangeType,
		BuyerID:             in.BuyerID,
		SellerID:            in.SellerID,
		Status:              StatusProposed,
		CurrentProposedTime: in.ProposedTime.UTC(),
		ProposedBy:          in.ProposedBy,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// CanTransitionTo validates negotiation status transition.
func (n *Negotiation) CanTransitionTo(target Status) bool {
	for _, s := range transitions[n.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (n *Negotiation) IsTerminal() bool {
	return len(transitions[n.Status]) == 0
}

// IsAgreed reports whether the time has been agreed and the negotiation is still alive or complete.
func (n *Negotiation) IsAgreed() bool {
	switch n.Status {
	case StatusAgreed, StatusPaidPartial, StatusPaidComplete:
		return true
	default:
		return false
	}
}

func (n *Negotiation) IsParticipant(party string) bool {
	return party != "" && (party == n.BuyerID || party == n.SellerID)
}

// Counterparty returns the other participant.
func (n *Negotiation) Counterparty(party string) (string, bool) {
	switch party {
	case n.BuyerID:
		return n.SellerID, true
	case n.SellerID:
		return n.BuyerID, true
	default:
		return "", false
	}
}

func (n *Negotiation) RoleOf(party string) (Role, bool) {
	switch party {
	case n.BuyerID:
		return RoleBuyer, true
	case n.SellerID:
		return RoleSeller, true
	default:
		return "", false
	}
}

func (n *Negotiation) Participants() []string {
	return []string{n.BuyerID, n.SellerID}
}

// Counter replaces the current proposed time. Only the party who did not make the
// current proposal may counter.
func (n *Negotiation) Counter(actor string, proposed time.Time, now time.Time) error {
	if err := n.requireResponder("counter", actor); err != nil {
		return err
	}
	if proposed.IsZero() {
		return validation.New("proposedTime is required")
	}
	n.Status = StatusCountered
	n.CurrentProposedTime = proposed.UTC()
	n.ProposedBy = actor
	n.touch(now)
	return nil
}

// Accept agrees to the current proposed time and opens the payment window.
func (n *Negotiation) Accept(actor string, now time.Time, window time.Duration) error {
	if err := n.requireResponder("accept", actor); err != nil {
		return err
	}
	reached := now
	deadline := now.Add(window)
	n.Status = StatusAgreed
	n.AgreementReachedAt = &reached
	n.PaymentDeadline = &deadline
	n.touch(now)
	return nil
}

// Reject ends the negotiation. Only the counterparty of the current proposer may reject.
func (n *Negotiation) Reject(actor string, now time.Time) error {
	if err := n.requireResponder("reject", actor); err != nil {
		return err
	}
	n.Status = StatusRejected
	n.touch(now)
	return nil
}

// Cancel ends the negotiation on behalf of either participant.
func (n *Negotiation) Cancel(actor string, now time.Time) error {
	if !n.IsParticipant(actor) {
		return illegal("cancel", n.Status, "caller is not a participant")
	}
	if !n.CanTransitionTo(StatusCancelled) {
		return illegal("cancel", n.Status, "")
	}
	n.Status = StatusCancelled
	n.AgreementReachedAt = nil
	n.touch(now)
	return nil
}

// DeadlinePassed reports whether the payment window has closed.
func (n *Negotiation) DeadlinePassed(now time.Time) bool {
	return n.PaymentDeadline != nil && !now.Before(*n.PaymentDeadline)
}

// Expirable reports whether the expiry sweep should move the negotiation to expired.
func (n *Negotiation) Expirable(now time.Time) bool {
	return n.CanTransitionTo(StatusExpired) && n.DeadlinePassed(now) && !n.BothPaid()
}

// Expire closes an agreed negotiation whose payment window has passed.
func (n *Negotiation) Expire(now time.Time) error {
	if !n.CanTransitionTo(StatusExpired) {
		return illegal("expire", n.Status, "")
	}
	if !n.DeadlinePassed(now) {
		return illegal("expire", n.Status, "payment deadline has not passed")
	}
	n.Status = StatusExpired
	n.AgreementReachedAt = nil
	n.touch(now)
	return nil
}

func (n *Negotiation) HasPaid(party string) bool {
	switch party {
	case n.BuyerID:
		return n.BuyerPaid
	case n.SellerID:
		return n.SellerPaid
	default:
		return false
	}
}

func (n *Negotiation) BothPaid() bool {
	return n.BuyerPaid && n.SellerPaid
}

// MarkPaid records a completed payment for party. It reports whether this call
// completed the pair. A party that already paid is left untouched.
func (n *Negotiation) MarkPaid(party string, now time.Time) (bool, error) {
	if !n.IsParticipant(party) {
		return false, illegal("pay", n.Status, "caller is not a participant")
	}
	if n.HasPaid(party) {
		return false, nil
	}
	if n.Status != StatusAgreed && n.Status != StatusPaidPartial {
		return false, illegal("pay", n.Status, "")
	}
	if n.DeadlinePassed(now) {
		return false, ErrExpired
	}
	if party == n.BuyerID {
		n.BuyerPaid = true
	} else {
		n.SellerPaid = true
	}
	if n.BothPaid() {
		n.Status = StatusPaidComplete
	} else {
		n.Status = StatusPaidPartial
	}
	n.touch(now)
	return n.Status == StatusPaidComplete, nil
}

// CheckInvariants validates the agreement timestamp and deadline invariants.
func (n *Negotiation) CheckInvariants() error {
	if (n.AgreementReachedAt != nil) != n.IsAgreed() {
		return errors.New("agreementReachedAt must be set exactly when agreed")
	}
	if n.PaymentDeadline != nil && !n.IsAgreed() && n.Status != StatusExpired && n.Status != StatusCancelled {
		return errors.New("paymentDeadline set before agreement")
	}
	if n.Status == StatusPaidComplete && !n.BothPaid() {
		return errors.New("paid_complete requires both payments")
	}
	return nil
}

func (n *Negotiation) requireResponder(action string, actor string) error {
	if n.Status != StatusProposed && n.Status != StatusCountered {
		return illegal(action, n.Status, "")
	}
	if !n.IsParticipant(actor) {
		return illegal(action, n.Status, "caller is not a participant")
	}
	if actor == n.ProposedBy {
		return illegal(action, n.Status, "caller made the current proposal")
	}
	return nil
}

func (n *Negotiation) touch(now time.Time) {
	n.UpdatedAt = now
	n.Version++
}
