package telegram

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"

	"github.com/swapmeet/swapmeet/internal/domain/event"
	"github.com/swapmeet/swapmeet/internal/domain/party"
)

// Sender is the part of the bot the notifier needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier delivers domain events to parties that linked a Telegram chat.
type Notifier struct {
	sender  Sender
	parties party.Repository
	logger  zerolog.Logger

	mu    sync.Mutex
	codes map[string]linkCode
}

type linkCode struct {
	partyID   uuid.UUID
	expiresAt time.Time
}

func NewNotifier(sender Sender, parties party.Repository, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		parties: parties,
		logger:  logger.With().Str("component", "telegram").Logger(),
		codes:   map[string]linkCode{},
	}
}

// NewBot builds a long-polling bot for token.
func NewBot(token string) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
}

// Attach registers the /start handler used to link chats.
func (n *Notifier) Attach(bot *tele.Bot) {
	bot.Handle("/start", func(c tele.Context) error {
		code := strings.TrimSpace(c.Message().Payload)
		if code == "" {
			return c.Send("Send /start <code> with the link code from the app.")
		}
		if err := n.Link(context.Background(), code, c.Chat().ID); err != nil {
			return c.Send("This link code is invalid or expired.")
		}
		return c.Send("Notifications enabled.")
	})
}

func (n *Notifier) Name() string {
	return "telegram"
}

// IssueLinkCode returns a short-lived code the party sends to the bot.
func (n *Notifier) IssueLinkCode(partyID uuid.UUID, ttl time.Duration) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := hex.EncodeToString(buf)
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now().UTC()
	for k, v := range n.codes {
		if now.After(v.expiresAt) {
			delete(n.codes, k)
		}
	}
	n.codes[code] = linkCode{partyID: partyID, expiresAt: now.Add(ttl)}
	return code, nil
}

// Link binds chatID to the party that owns code.
func (n *Notifier) Link(ctx context.Context, code string, chatID int64) error {
	n.mu.Lock()
	lc, ok := n.codes[code]
	delete(n.codes, code)
	n.mu.Unlock()
	if !ok || time.Now().UTC().After(lc.expiresAt) {
		return fmt.Errorf("unknown link code")
	}
	if err := n.parties.SetTelegramChat(ctx, lc.partyID, &chatID); err != nil {
		return err
	}
	n.logger.Info().Str("party_id", lc.partyID.String()).Msg("telegram chat linked")
	return nil
}

// Deliver sends a short text for e to recipient's linked chat. Parties without
// a chat are skipped.
func (n *Notifier) Deliver(ctx context.Context, recipient string, e event.Event) error {
	text, ok := describe(e)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(recipient)
	if err != nil {
		return nil
	}
	p, err := n.parties.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil || p.TelegramChatID == nil {
		return nil
	}
	_, err = n.sender.Send(tele.ChatID(*p.TelegramChatID), text)
	return err
}

func describe(e event.Event) (string, bool) {
	ref := e.NegotiationID.String()[:8]
	switch e.Type {
	case event.NegotiationProposed:
		return "New meeting time proposed for exchange " + ref + ".", true
	case event.NegotiationCountered:
		return "Your counterpart suggested another time for exchange " + ref + ".", true
	case event.NegotiationAgreed:
		return "Meeting time agreed for exchange " + ref + ". Please complete your payment.", true
	case event.NegotiationRejected:
		return "Exchange " + ref + " was declined.", true
	case event.NegotiationExpired:
		return "Exchange " + ref + " expired before both payments arrived.", true
	case event.NegotiationCancelled:
		return "Exchange " + ref + " was cancelled.", true
	case event.MeetingLocationProposed, event.MeetingLocationCountered:
		return "A meeting place was proposed for exchange " + ref + ".", true
	case event.MeetingLocationAccepted:
		return "Meeting place confirmed for exchange " + ref + ".", true
	case event.PaymentBothPaid:
		return "Both payments received for exchange " + ref + ". Live location sharing is available.", true
	default:
		return "", false
	}
}
