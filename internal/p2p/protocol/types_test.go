package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

func TestTxSignAndVerify(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payload, _ := json.Marshal(NegotiationProposePayload{
		ListingID:    "listing-42",
		BuyerID:      "alice",
		SellerID:     "bob",
		ProposalID:   proposal.NewID(),
		ProposedTime: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	})
	tx := Tx{
		TxID:          "tx-1",
		NegotiationID: "4a1f0a52-55e0-4b7e-9d7a-0c8b6a0e2d11",
		Nonce:         "n1",
		Timestamp:     time.Now().UTC(),
		Actor:         "alice",
		Op:            OpNegotiationPropose,
		Payload:       payload,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	tx.Actor = "bob"
	if err := tx.Verify(); err == nil {
		t.Fatalf("expected verify failure after tamper")
	}
}

func TestTxValidateBasic(t *testing.T) {
	base := Tx{
		TxID:          "tx-1",
		NegotiationID: "n",
		Nonce:         "n1",
		Timestamp:     time.Now().UTC(),
		Actor:         "alice",
		Op:            OpNegotiationCancel,
		Payload:       json.RawMessage(`{}`),
		PublicKey:     "pk",
		Signature:     "sig",
	}
	if err := base.ValidateBasic(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]func(tx *Tx){
		"missing negotiation": func(tx *Tx) { tx.NegotiationID = " " },
		"unknown op":          func(tx *Tx) { tx.Op = "STEP_CLAIM" },
		"missing payload":     func(tx *Tx) { tx.Payload = nil },
		"missing timestamp":   func(tx *Tx) { tx.Timestamp = time.Time{} },
	}
	for name, mutate := range cases {
		tx := base
		mutate(&tx)
		if err := tx.ValidateBasic(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLocationCounterPayloadFlattens(t *testing.T) {
	raw := []byte(`{"proposal_id":"p2","location":{"latitude":1,"longitude":2,"label":"Cafe"},"responding_to":"p1"}`)
	got, err := DecodePayload[LocationCounterPayload](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ProposalID != "p2" || got.RespondingTo != "p1" || got.Location.Label != "Cafe" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}
