package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/swapmeet/swapmeet/internal/domain/event"
	"github.com/swapmeet/swapmeet/internal/domain/party"
	"github.com/swapmeet/swapmeet/internal/infrastructure/memory"
)

type sent struct {
	to   string
	text string
}

type fakeSender struct {
	messages []sent
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.messages = append(f.messages, sent{to: to.Recipient(), text: what.(string)})
	return &tele.Message{}, nil
}

func TestLinkAndDeliver(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	parties := store.Parties()
	p := &party.Party{PartyID: uuid.New(), Handle: "alice", Status: party.StatusActive}
	require.NoError(t, parties.Create(ctx, p))

	sender := &fakeSender{}
	n := NewNotifier(sender, parties, zerolog.Nop())

	e := event.New(event.NegotiationAgreed, uuid.New(), "bob", []string{p.PartyID.String()}, nil, time.Now().UTC())
	require.NoError(t, n.Deliver(ctx, p.PartyID.String(), e))
	assert.Empty(t, sender.messages, "unlinked parties are skipped")

	code, err := n.IssueLinkCode(p.PartyID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, n.Link(ctx, code, 4242))
	assert.Error(t, n.Link(ctx, code, 4242), "codes are single use")

	require.NoError(t, n.Deliver(ctx, p.PartyID.String(), e))
	require.Len(t, sender.messages, 1)
	assert.Equal(t, "4242", sender.messages[0].to)
	assert.Contains(t, sender.messages[0].text, "Please complete your payment")

	position := event.New(event.TrackingPosition, uuid.New(), "bob", nil, nil, time.Now().UTC())
	require.NoError(t, n.Deliver(ctx, p.PartyID.String(), position))
	assert.Len(t, sender.messages, 1)
}
