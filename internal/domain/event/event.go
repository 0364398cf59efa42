package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event.
type Type string

const (
	NegotiationProposed  Type = "negotiation.proposed"
	NegotiationCountered Type = "negotiation.countered"
	NegotiationAgreed    Type = "negotiation.agreed"
	NegotiationRejected  Type = "negotiation.rejected"
	NegotiationExpired   Type = "negotiation.expired"
	NegotiationCancelled Type = "negotiation.cancelled"

	MeetingLocationProposed  Type = "meeting.locationProposed"
	MeetingLocationCountered Type = "meeting.locationCountered"
	MeetingLocationAccepted  Type = "meeting.locationAccepted"
	MeetingLocationRejected  Type = "meeting.locationRejected"
	MeetingTrackingStarted   Type = "meeting.trackingStarted"
	MeetingTrackingStopped   Type = "meeting.trackingStopped"
	MeetingCompleted         Type = "meeting.completed"

	PaymentCompleted Type = "payment.completed"
	PaymentBothPaid  Type = "payment.bothPaid"

	TrackingPosition Type = "tracking.position"
)

// Event is emitted after a state change has been stored.
type Event struct {
	EventID       uuid.UUID       `json:"eventId"`
	Type          Type            `json:"type"`
	NegotiationID uuid.UUID       `json:"negotiationId"`
	Actor         string          `json:"actor,omitempty"`
	Recipients    []string        `json:"-"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// New builds an event with a JSON-encoded payload.
func New(t Type, negotiationID uuid.UUID, actor string, recipients []string, payload any, now time.Time) Event {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return Event{
		EventID:       uuid.New(),
		Type:          t,
		NegotiationID: negotiationID,
		Actor:         actor,
		Recipients:    append([]string(nil), recipients...),
		Payload:       raw,
		OccurredAt:    now,
	}
}

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_publisher.go -package=mocks . Publisher

// Publisher fans events out to parties. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
