package sse

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapmeet/swapmeet/internal/domain/event"
)

func TestDeliverOnlyToRecipient(t *testing.T) {
	hub := NewHub()
	alice := NewClient("c1", "alice")
	bob := NewClient("c2", "bob")
	hub.Register(alice)
	hub.Register(bob)

	e := event.New(event.NegotiationAgreed, uuid.New(), "bob", []string{"alice"}, nil, time.Now().UTC())
	require.NoError(t, hub.Deliver(context.Background(), "alice", e))

	select {
	case msg := <-alice.MessageChan:
		assert.Equal(t, string(event.NegotiationAgreed), msg.Event)
		assert.Equal(t, e.EventID.String(), msg.ID)
	default:
		t.Fatal("expected message for alice")
	}
	assert.Len(t, bob.MessageChan, 0)

	hub.Unregister(alice)
	assert.Equal(t, 1, hub.ClientCount())
	_, open := <-alice.MessageChan
	assert.False(t, open)
}

func TestDeliverReportsFullChannel(t *testing.T) {
	hub := NewHub()
	c := NewClient("c1", "alice")
	hub.Register(c)
	e := event.New(event.TrackingPosition, uuid.New(), "bob", nil, nil, time.Now().UTC())
	for i := 0; i < cap(c.MessageChan); i++ {
		require.NoError(t, hub.Deliver(context.Background(), "alice", e))
	}
	assert.ErrorIs(t, hub.Deliver(context.Background(), "alice", e), ErrChannelFull)
}
