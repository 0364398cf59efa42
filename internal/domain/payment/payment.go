package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrPaymentFailed = errors.New("payment failed")

// Quote is what a party owes before paying.
type Quote struct {
	NegotiationID uuid.UUID `json:"negotiationId"`
	PartyID       string    `json:"partyId"`
	Fee           Amount    `json:"fee"`
	Credit        Amount    `json:"credit"`
	CreditApplied Amount    `json:"creditApplied"`
	AmountDue     Amount    `json:"amountDue"`
}

func NewQuote(negotiationID uuid.UUID, partyID string, fee, credit Amount) Quote {
	applied, due := AmountDue(fee, credit)
	return Quote{
		NegotiationID: negotiationID,
		PartyID:       partyID,
		Fee:           fee,
		Credit:        credit,
		CreditApplied: applied,
		AmountDue:     due,
	}
}

// Record is the completed payment of one party for one negotiation.
type Record struct {
	ID             int64     `json:"-"`
	PaymentID      uuid.UUID `json:"paymentId"`
	NegotiationID  uuid.UUID `json:"negotiationId"`
	PartyID        string    `json:"partyId"`
	Fee            Amount    `json:"fee"`
	CreditSnapshot Amount    `json:"creditSnapshot"`
	CreditApplied  Amount    `json:"creditApplied"`
	AmountCharged  Amount    `json:"amountCharged"`
	TransactionID  *string   `json:"transactionId,omitempty"`
	CompletedAt    time.Time `json:"completedAt"`
}

// NewRecord builds a record from a quote and the processor transaction id.
func NewRecord(q Quote, transactionID *string, now time.Time) *Record {
	return &Record{
		PaymentID:      uuid.New(),
		NegotiationID:  q.NegotiationID,
		PartyID:        q.PartyID,
		Fee:            q.Fee,
		CreditSnapshot: q.Credit,
		CreditApplied:  q.CreditApplied,
		AmountCharged:  q.AmountDue,
		TransactionID:  transactionID,
		CompletedAt:    now,
	}
}

// IdempotencyKey identifies a party's charge for a negotiation at the processor.
func IdempotencyKey(negotiationID uuid.UUID, partyID string) string {
	return negotiationID.String() + ":" + partyID
}

// FeePolicy maps exchange types to fixed fees.
type FeePolicy struct {
	Default Amount
	ByType  map[string]Amount
}

func (p FeePolicy) FeeFor(exchangeType string) Amount {
	if fee, ok := p.ByType[exchangeType]; ok {
		return fee
	}
	return p.Default
}

// ParseFeePolicy parses "standard=2.00,express=3.50".
func ParseFeePolicy(raw string, def Amount) (FeePolicy, error) {
	policy := FeePolicy{Default: def, ByType: map[string]Amount{}}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return FeePolicy{}, fmt.Errorf("invalid fee entry %q", part)
		}
		fee, err := ParseAmount(value)
		if err != nil {
			return FeePolicy{}, fmt.Errorf("fee %s: %w", name, err)
		}
		policy.ByType[strings.TrimSpace(name)] = fee
	}
	return policy, nil
}

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_payment.go -package=mocks . Processor,CreditLedger

// Processor charges a party through the external payment provider.
type Processor interface {
	Charge(ctx context.Context, partyID string, amount Amount, idempotencyKey string) (string, error)
}

// CreditLedger reports and draws down a party's credit balance. Consume fails
// with a stale-state error when the balance no longer covers amount.
type CreditLedger interface {
	AvailableCredit(ctx context.Context, partyID string) (Amount, error)
	Consume(ctx context.Context, partyID string, amount Amount) error
}

// Repository defines persistence for payment records. Get returns nil, nil when missing.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, negotiationID uuid.UUID, partyID string) (*Record, error)
	ListByNegotiation(ctx context.Context, negotiationID uuid.UUID) ([]*Record, error)
}
