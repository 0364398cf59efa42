package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

// Operation names a replicated negotiation write.
type Operation string

const (
	OpNegotiationPropose Operation = "NEGOTIATION_PROPOSE"
	OpNegotiationCounter Operation = "NEGOTIATION_COUNTER"
	OpNegotiationAccept  Operation = "NEGOTIATION_ACCEPT"
	OpNegotiationReject  Operation = "NEGOTIATION_REJECT"
	OpNegotiationCancel  Operation = "NEGOTIATION_CANCEL"
	OpPaymentRecord      Operation = "PAYMENT_RECORD"
	OpLocationPropose    Operation = "LOCATION_PROPOSE"
	OpLocationCounter    Operation = "LOCATION_COUNTER"
	OpLocationAccept     Operation = "LOCATION_ACCEPT"
	OpLocationReject     Operation = "LOCATION_REJECT"
	OpMeetingComplete    Operation = "MEETING_COMPLETE"
)

var validOps = map[Operation]struct{}{
	OpNegotiationPropose: {},
	OpNegotiationCounter: {},
	OpNegotiationAccept:  {},
	OpNegotiationReject:  {},
	OpNegotiationCancel:  {},
	OpPaymentRecord:      {},
	OpLocationPropose:    {},
	OpLocationCounter:    {},
	OpLocationAccept:     {},
	OpLocationReject:     {},
	OpMeetingComplete:    {},
}

// Tx is the signed, replicated command envelope. Actor is the party id and
// must match the key that signed the transaction.
type Tx struct {
	TxID          string          `json:"tx_id"`
	NegotiationID string          `json:"negotiation_id"`
	Nonce         string          `json:"nonce"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         string          `json:"actor"`
	Op            Operation       `json:"op"`
	Payload       json.RawMessage `json:"payload"`
	PublicKey     string          `json:"public_key"` // base64 raw ed25519 public key
	Signature     string          `json:"signature"`  // base64 raw signature
}

type txSignable struct {
	TxID          string          `json:"tx_id"`
	NegotiationID string          `json:"negotiation_id"`
	Nonce         string          `json:"nonce"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         string          `json:"actor"`
	Op            Operation       `json:"op"`
	Payload       json.RawMessage `json:"payload"`
	PublicKey     string          `json:"public_key"`
}

// CanonicalBytes returns the deterministic signing payload.
func (t Tx) CanonicalBytes() ([]byte, error) {
	signable := txSignable{
		TxID:          strings.TrimSpace(t.TxID),
		NegotiationID: strings.TrimSpace(t.NegotiationID),
		Nonce:         strings.TrimSpace(t.Nonce),
		Timestamp:     t.Timestamp.UTC(),
		Actor:         strings.TrimSpace(t.Actor),
		Op:            t.Op,
		Payload:       t.Payload,
		PublicKey:     strings.TrimSpace(t.PublicKey),
	}
	return json.Marshal(signable)
}

// ValidateBasic checks required immutable tx fields.
func (t Tx) ValidateBasic() error {
	if strings.TrimSpace(t.TxID) == "" {
		return errors.New("tx_id is required")
	}
	if strings.TrimSpace(t.NegotiationID) == "" {
		return errors.New("negotiation_id is required")
	}
	if strings.TrimSpace(t.Nonce) == "" {
		return errors.New("nonce is required")
	}
	if strings.TrimSpace(t.Actor) == "" {
		return errors.New("actor is required")
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, ok := validOps[t.Op]; !ok {
		return fmt.Errorf("unsupported op: %s", t.Op)
	}
	if len(t.Payload) == 0 {
		return errors.New("payload is required")
	}
	if strings.TrimSpace(t.PublicKey) == "" {
		return errors.New("public_key is required")
	}
	if strings.TrimSpace(t.Signature) == "" {
		return errors.New("signature is required")
	}
	return nil
}

// Sign sets tx public key/signature for the given private key.
func (t *Tx) Sign(privateKey ed25519.PrivateKey) error {
	if len(privateKey) != ed25519.PrivateKeySize {
		return errors.New("invalid private key")
	}
	t.PublicKey = base64.StdEncoding.EncodeToString(privateKey.Public().(ed25519.PublicKey))
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	sig := ed25519.Sign(privateKey, payload)
	t.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verify validates tx signature using included public key.
func (t Tx) Verify() error {
	if err := t.ValidateBasic(); err != nil {
		return err
	}
	pubRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.PublicKey))
	if err != nil {
		return fmt.Errorf("invalid public_key: %w", err)
	}
	if len(pubRaw) != ed25519.PublicKeySize {
		return errors.New("invalid public_key size")
	}
	sigRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.Signature))
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if len(sigRaw) != ed25519.SignatureSize {
		return errors.New("invalid signature size")
	}
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pubRaw), payload, sigRaw) {
		return errors.New("signature verification failed")
	}
	return nil
}

// DecodePayload decodes operation payloads.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// NegotiationProposePayload opens a negotiation with its first time proposal.
// Proposal ids are ULIDs chosen by the submitter so every replica applies the
// same values; response ids are derived from the tx id.
type NegotiationProposePayload struct {
	ListingID    string    `json:"listing_id"`
	ExchangeType string    `json:"exchange_type,omitempty"`
	BuyerID      string    `json:"buyer_id"`
	SellerID     string    `json:"seller_id"`
	ProposalID   string    `json:"proposal_id"`
	ProposedTime time.Time `json:"proposed_time"`
	Message      *string   `json:"message,omitempty"`
}

// Pin lets a responder name the state it saw.
type Pin struct {
	RespondingTo    *string `json:"responding_to,omitempty"`
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
}

type NegotiationCounterPayload struct {
	Pin
	ProposalID   string    `json:"proposal_id"`
	ProposedTime time.Time `json:"proposed_time"`
	Message      *string   `json:"message,omitempty"`
}

// NegotiationAcceptPayload names the meeting session opened on agreement.
type NegotiationAcceptPayload struct {
	Pin
	SessionID string `json:"session_id"`
}

type NegotiationRejectPayload struct {
	Pin
}

type NegotiationCancelPayload struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// PaymentRecordPayload records a charge the submitter already settled with the
// processor. The fee comes from the replicas' fee policy; Credit is the
// party's credit balance when the charge was quoted. TransactionID is
// required whenever the resulting amount due is above zero.
type PaymentRecordPayload struct {
	PaymentID     string         `json:"payment_id"`
	TransactionID *string        `json:"transaction_id,omitempty"`
	Credit        payment.Amount `json:"credit"`
}

type LocationProposePayload struct {
	ProposalID string            `json:"proposal_id"`
	Location   proposal.Location `json:"location"`
	MeetAt     *time.Time        `json:"meet_at,omitempty"`
	Message    *string           `json:"message,omitempty"`
}

type LocationCounterPayload struct {
	LocationProposePayload
	RespondingTo string `json:"responding_to"`
}

type LocationRespondPayload struct {
	RespondingTo string `json:"responding_to"`
}

type MeetingCompletePayload struct{}
