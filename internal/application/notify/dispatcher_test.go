package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/swapmeet/swapmeet/internal/domain/event"
)

type sink struct {
	name string
	err  error
	got  []string
}

func (s *sink) Name() string { return s.name }

func (s *sink) Deliver(_ context.Context, recipient string, _ event.Event) error {
	s.got = append(s.got, recipient)
	return s.err
}

func TestDispatcherFansOutAndSwallowsFailures(t *testing.T) {
	failing := &sink{name: "failing", err: errors.New("offline")}
	ok := &sink{name: "ok"}
	d := NewDispatcher(zerolog.Nop(), failing, ok)

	e := event.New(event.PaymentBothPaid, uuid.New(), "bob", []string{"alice", "bob"}, nil, time.Now().UTC())
	d.Publish(context.Background(), e)

	assert.Equal(t, []string{"alice", "bob"}, failing.got)
	assert.Equal(t, []string{"alice", "bob"}, ok.got)
}
