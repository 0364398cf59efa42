// Command p2p-txgen prints one signed authority transaction as JSON, ready to
// POST to /v1/p2p/tx.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	"github.com/swapmeet/swapmeet/internal/p2p/protocol"
)

type options struct {
	op            string
	negotiationID string
	actor         string
	txID          string
	nonce         string
	timestamp     string
	privateKey    string

	listingID    string
	exchangeType string
	buyerID      string
	sellerID     string
	proposalID   string
	proposedTime string
	message      string

	respondingTo    string
	expectedVersion string
	sessionID       string

	paymentID     string
	transactionID string
	credit        string

	latitude  string
	longitude string
	label     string
	meetAt    string
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	var opt options

	flag.StringVar(&opt.op, "op", "", "operation: propose|counter|accept|reject|cancel|payment|location-propose|location-counter|location-accept|location-reject|complete")
	flag.StringVar(&opt.negotiationID, "negotiation-id", "", "negotiation uuid; generated for propose when empty")
	flag.StringVar(&opt.actor, "actor", "", "party id submitting the tx")
	flag.StringVar(&opt.txID, "tx-id", "", "tx identifier; auto-generated when empty")
	flag.StringVar(&opt.nonce, "nonce", "", "nonce; auto-generated when empty")
	flag.StringVar(&opt.timestamp, "timestamp", "", "RFC3339 timestamp; default now UTC")
	flag.StringVar(&opt.privateKey, "private-key", "", "base64 private key (32-byte seed or 64-byte private key); default random")

	flag.StringVar(&opt.listingID, "listing-id", "", "listing id for propose")
	flag.StringVar(&opt.exchangeType, "exchange-type", "", "exchange type for propose")
	flag.StringVar(&opt.buyerID, "buyer-id", "", "buyer party id for propose")
	flag.StringVar(&opt.sellerID, "seller-id", "", "seller party id for propose")
	flag.StringVar(&opt.proposalID, "proposal-id", "", "proposal ULID; generated when empty")
	flag.StringVar(&opt.proposedTime, "proposed-time", "", "RFC3339 meeting time for propose/counter")
	flag.StringVar(&opt.message, "message", "", "optional proposal message")

	flag.StringVar(&opt.respondingTo, "responding-to", "", "proposal id the response is pinned to")
	flag.StringVar(&opt.expectedVersion, "expected-version", "", "negotiation version the response is pinned to")
	flag.StringVar(&opt.sessionID, "session-id", "", "meeting session uuid for accept; generated when empty")

	flag.StringVar(&opt.paymentID, "payment-id", "", "payment uuid; generated when empty")
	flag.StringVar(&opt.transactionID, "transaction-id", "", "processor transaction id")
	flag.StringVar(&opt.credit, "credit", "0", "credit balance applied to the charge")

	flag.StringVar(&opt.latitude, "lat", "", "location latitude")
	flag.StringVar(&opt.longitude, "lon", "", "location longitude")
	flag.StringVar(&opt.label, "label", "", "location label")
	flag.StringVar(&opt.meetAt, "meet-at", "", "optional RFC3339 time for a location proposal")

	flag.Parse()

	op, err := parseOperation(opt.op)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid op")
	}
	opt.actor = strings.TrimSpace(opt.actor)
	if opt.actor == "" {
		logger.Fatal().Msg("actor is required")
	}
	negotiationID := strings.TrimSpace(opt.negotiationID)
	if negotiationID == "" {
		if op != protocol.OpNegotiationPropose {
			logger.Fatal().Msg("negotiation-id is required")
		}
		negotiationID = uuid.NewString()
	}

	payload, err := buildPayload(op, opt)
	if err != nil {
		logger.Fatal().Err(err).Str("op", string(op)).Msg("invalid payload")
	}
	privateKey, err := loadPrivateKey(opt.privateKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid private key")
	}
	ts, err := parseTime(opt.timestamp, "timestamp")
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timestamp")
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	txID := strings.TrimSpace(opt.txID)
	if txID == "" {
		txID = autoID("tx", ts)
	}
	nonce := strings.TrimSpace(opt.nonce)
	if nonce == "" {
		nonce = autoID("n", ts)
	}
	tx := protocol.Tx{
		TxID:          txID,
		NegotiationID: negotiationID,
		Nonce:         nonce,
		Timestamp:     ts,
		Actor:         opt.actor,
		Op:            op,
		Payload:       payload,
	}
	if err := tx.Sign(privateKey); err != nil {
		logger.Fatal().Err(err).Msg("sign tx")
	}

	out, err := json.Marshal(tx)
	if err != nil {
		logger.Fatal().Err(err).Msg("encode tx")
	}
	_, _ = os.Stdout.Write(out)
}

func parseOperation(raw string) (protocol.Operation, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "propose":
		return protocol.OpNegotiationPropose, nil
	case "counter":
		return protocol.OpNegotiationCounter, nil
	case "accept":
		return protocol.OpNegotiationAccept, nil
	case "reject":
		return protocol.OpNegotiationReject, nil
	case "cancel":
		return protocol.OpNegotiationCancel, nil
	case "payment":
		return protocol.OpPaymentRecord, nil
	case "location-propose":
		return protocol.OpLocationPropose, nil
	case "location-counter":
		return protocol.OpLocationCounter, nil
	case "location-accept":
		return protocol.OpLocationAccept, nil
	case "location-reject":
		return protocol.OpLocationReject, nil
	case "complete":
		return protocol.OpMeetingComplete, nil
	default:
		return "", fmt.Errorf("unsupported op: %q", raw)
	}
}

func buildPayload(op protocol.Operation, opt options) (json.RawMessage, error) {
	message := optional(opt.message)
	pin, err := buildPin(opt)
	if err != nil {
		return nil, err
	}

	switch op {
	case protocol.OpNegotiationPropose:
		proposedTime, err := requireTime(opt.proposedTime, "proposed-time")
		if err != nil {
			return nil, err
		}
		return json.Marshal(protocol.NegotiationProposePayload{
			ListingID:    strings.TrimSpace(opt.listingID),
			ExchangeType: strings.TrimSpace(opt.exchangeType),
			BuyerID:      strings.TrimSpace(opt.buyerID),
			SellerID:     strings.TrimSpace(opt.sellerID),
			ProposalID:   proposalID(opt),
			ProposedTime: proposedTime,
			Message:      message,
		})

	case protocol.OpNegotiationCounter:
		proposedTime, err := requireTime(opt.proposedTime, "proposed-time")
		if err != nil {
			return nil, err
		}
		return json.Marshal(protocol.NegotiationCounterPayload{
			Pin:          pin,
			ProposalID:   proposalID(opt),
			ProposedTime: proposedTime,
			Message:      message,
		})

	case protocol.OpNegotiationAccept:
		sessionID := strings.TrimSpace(opt.sessionID)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		return json.Marshal(protocol.NegotiationAcceptPayload{Pin: pin, SessionID: sessionID})

	case protocol.OpNegotiationReject:
		return json.Marshal(protocol.NegotiationRejectPayload{Pin: pin})

	case protocol.OpNegotiationCancel:
		return json.Marshal(protocol.NegotiationCancelPayload{ExpectedVersion: pin.ExpectedVersion})

	case protocol.OpPaymentRecord:
		credit, err := payment.ParseAmount(opt.credit)
		if err != nil {
			return nil, fmt.Errorf("invalid credit: %w", err)
		}
		paymentID := strings.TrimSpace(opt.paymentID)
		if paymentID == "" {
			paymentID = uuid.NewString()
		}
		return json.Marshal(protocol.PaymentRecordPayload{
			PaymentID:     paymentID,
			TransactionID: optional(opt.transactionID),
			Credit:        credit,
		})

	case protocol.OpLocationPropose, protocol.OpLocationCounter:
		location, err := buildLocation(opt)
		if err != nil {
			return nil, err
		}
		meetAt, err := parseTime(opt.meetAt, "meet-at")
		if err != nil {
			return nil, err
		}
		propose := protocol.LocationProposePayload{
			ProposalID: proposalID(opt),
			Location:   location,
			Message:    message,
		}
		if !meetAt.IsZero() {
			propose.MeetAt = &meetAt
		}
		if op == protocol.OpLocationPropose {
			return json.Marshal(propose)
		}
		if pin.RespondingTo == nil {
			return nil, errors.New("responding-to is required for location-counter")
		}
		return json.Marshal(protocol.LocationCounterPayload{LocationProposePayload: propose, RespondingTo: *pin.RespondingTo})

	case protocol.OpLocationAccept, protocol.OpLocationReject:
		if pin.RespondingTo == nil {
			return nil, errors.New("responding-to is required")
		}
		return json.Marshal(protocol.LocationRespondPayload{RespondingTo: *pin.RespondingTo})

	case protocol.OpMeetingComplete:
		return json.Marshal(protocol.MeetingCompletePayload{})
	}
	return nil, fmt.Errorf("unsupported op: %s", op)
}

func buildPin(opt options) (protocol.Pin, error) {
	pin := protocol.Pin{RespondingTo: optional(opt.respondingTo)}
	if raw := strings.TrimSpace(opt.expectedVersion); raw != "" {
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return pin, fmt.Errorf("invalid expected-version: %w", err)
		}
		pin.ExpectedVersion = &v
	}
	return pin, nil
}

func buildLocation(opt options) (proposal.Location, error) {
	lat, err := cast.ToFloat64E(strings.TrimSpace(opt.latitude))
	if err != nil {
		return proposal.Location{}, fmt.Errorf("invalid lat: %w", err)
	}
	lon, err := cast.ToFloat64E(strings.TrimSpace(opt.longitude))
	if err != nil {
		return proposal.Location{}, fmt.Errorf("invalid lon: %w", err)
	}
	location := proposal.Location{Latitude: lat, Longitude: lon, Label: strings.TrimSpace(opt.label)}
	return location, location.Validate()
}

func proposalID(opt options) string {
	if id := strings.TrimSpace(opt.proposalID); id != "" {
		return id
	}
	return proposal.NewID()
}

func optional(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func requireTime(raw, name string) (time.Time, error) {
	t, err := parseTime(raw, name)
	if err != nil {
		return t, err
	}
	if t.IsZero() {
		return t, fmt.Errorf("%s is required", name)
	}
	return t, nil
}

func parseTime(raw, name string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return parsed.UTC(), nil
}

func loadPrivateKey(raw string) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private-key base64: %w", err)
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	default:
		return nil, fmt.Errorf("invalid private-key length: %d (expected 32 or 64 bytes)", len(decoded))
	}
}

func autoID(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, ts.UnixNano())
}
