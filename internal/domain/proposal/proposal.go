package proposal

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/swapmeet/swapmeet/internal/domain/validation"
)

// Kind distinguishes time proposals from location proposals.
type Kind string

const (
	KindTime     Kind = "time"
	KindLocation Kind = "location"
)

// Status is derived from the ledger, never stored on the proposal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

// Location is a meeting point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label"`
}

func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return validation.New("latitude must be between -90 and 90")
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return validation.New("longitude must be between -180 and 180")
	}
	if strings.TrimSpace(l.Label) == "" {
		return validation.New("location label is required")
	}
	return nil
}

// Proposal is an immutable offered value.
type Proposal struct {
	ProposalID    string     `json:"proposalId"`
	NegotiationID uuid.UUID  `json:"negotiationId"`
	Kind          Kind       `json:"kind"`
	ProposedTime  *time.Time `json:"proposedTime,omitempty"`
	Location      *Location  `json:"location,omitempty"`
	Message       *string    `json:"message,omitempty"`
	ProposedBy    string     `json:"proposedBy"`
	RespondsTo    *string    `json:"respondsTo,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Validate checks that the payload matches the kind.
func (p Proposal) Validate() error {
	if p.ProposalID == "" {
		return validation.New("proposalId is required")
	}
	if p.ProposedBy == "" {
		return validation.New("proposedBy is required")
	}
	switch p.Kind {
	case KindTime:
		if p.ProposedTime == nil || p.ProposedTime.IsZero() {
			return validation.New("time proposal requires proposedTime")
		}
		if p.Location != nil {
			return validation.New("time proposal must not carry a location")
		}
	case KindLocation:
		if p.Location == nil {
			return validation.New("location proposal requires a location")
		}
		if err := p.Location.Validate(); err != nil {
			return err
		}
	default:
		return validation.New("invalid proposal kind")
	}
	return nil
}

// Decision is the outcome recorded by a response.
type Decision string

const (
	DecisionAccepted   Decision = "accepted"
	DecisionRejected   Decision = "rejected"
	DecisionSuperseded Decision = "superseded"
)

// Response is an immutable ledger entry that settles a pending proposal.
type Response struct {
	ResponseID    string    `json:"responseId"`
	ProposalID    string    `json:"proposalId"`
	NegotiationID uuid.UUID `json:"negotiationId"`
	Decision      Decision  `json:"decision"`
	RespondedBy   string    `json:"respondedBy"`
	SupersededBy  *string   `json:"supersededBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// View is a proposal together with its derived status.
type View struct {
	Proposal
	Status       Status     `json:"status"`
	RespondedBy  *string    `json:"respondedBy,omitempty"`
	RespondedAt  *time.Time `json:"respondedAt,omitempty"`
	SupersededBy *string    `json:"supersededBy,omitempty"`
}

// NewID returns a time-sortable ledger id.
func NewID() string {
	return ulid.Make().String()
}

// ParseID validates a ledger id.
func ParseID(raw string) (string, error) {
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return "", validation.New("invalid proposal id")
	}
	return id.String(), nil
}
