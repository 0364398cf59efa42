package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	"github.com/swapmeet/swapmeet/internal/p2p/consensus"
	"github.com/swapmeet/swapmeet/internal/p2p/protocol"
	"github.com/swapmeet/swapmeet/internal/p2p/state"
)

type fakeNode struct {
	leader  bool
	machine *state.Machine
}

func (f *fakeNode) ID() string               { return "node-1" }
func (f *fakeNode) RaftAddr() string         { return "127.0.0.1:7000" }
func (f *fakeNode) State() string            { return "Leader" }
func (f *fakeNode) LeaderAddr() string       { return "127.0.0.1:7000" }
func (f *fakeNode) LeaderNodeID() string     { return "node-1" }
func (f *fakeNode) IsLeader() bool           { return f.leader }
func (f *fakeNode) Stats() map[string]string { return map[string]string{} }
func (f *fakeNode) Machine() *state.Machine  { return f.machine }

func (f *fakeNode) AddVoter(context.Context, string, string) error { return nil }
func (f *fakeNode) RemoveServer(context.Context, string) error     { return nil }

func (f *fakeNode) ApplyTx(_ context.Context, tx protocol.Tx) error {
	if !f.leader {
		return consensus.ErrNotLeader
	}
	return f.machine.ApplyTx(tx)
}

func newTestServer(leader bool) (*fakeNode, http.Handler) {
	node := &fakeNode{leader: leader, machine: state.NewMachine(state.Settings{PaymentWindow: time.Hour})}
	return node, NewServer(node, zerolog.Nop()).Router()
}

func signedTx(t *testing.T, priv ed25519.PrivateKey, txID, negID, actor string, at time.Time, op protocol.Operation, payload any) protocol.Tx {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	tx := protocol.Tx{
		TxID:          txID,
		NegotiationID: negID,
		Nonce:         txID,
		Timestamp:     at,
		Actor:         actor,
		Op:            op,
		Payload:       raw,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTxAndQuery(t *testing.T) {
	_, h := newTestServer(true)
	_, alice, _ := ed25519.GenerateKey(rand.Reader)
	_, bob, _ := ed25519.GenerateKey(rand.Reader)
	negID := uuid.New().String()
	now := time.Now().UTC()

	propose := signedTx(t, alice, "tx-1", negID, "alice", now, protocol.OpNegotiationPropose, protocol.NegotiationProposePayload{
		ListingID:    "listing-1",
		BuyerID:      "alice",
		SellerID:     "bob",
		ProposalID:   proposal.NewID(),
		ProposedTime: now.Add(24 * time.Hour),
	})
	if rec := post(t, h, "/v1/p2p/tx", propose); rec.Code != http.StatusOK {
		t.Fatalf("propose: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stale := int64(99)
	accept := signedTx(t, bob, "tx-2", negID, "bob", now.Add(time.Second), protocol.OpNegotiationAccept, protocol.NegotiationAcceptPayload{
		Pin:       protocol.Pin{ExpectedVersion: &stale},
		SessionID: uuid.New().String(),
	})
	rec := post(t, h, "/v1/p2p/tx", accept)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale accept: expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "STALE_STATE" {
		t.Fatalf("expected STALE_STATE, got %v", body["error"])
	}

	if rec := get(h, "/v1/p2p/negotiations/"+negID); rec.Code != http.StatusOK {
		t.Fatalf("get negotiation: expected 200, got %d", rec.Code)
	}
	if rec := get(h, "/v1/p2p/negotiations/"+negID+"/proposals?kind=time"); rec.Code != http.StatusOK {
		t.Fatalf("list proposals: expected 200, got %d", rec.Code)
	}
	if rec := get(h, "/v1/p2p/negotiations/"+negID+"/proposals?kind=price"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: expected 400, got %d", rec.Code)
	}
	if rec := get(h, "/v1/p2p/negotiations/"+negID+"/meeting"); rec.Code != http.StatusNotFound {
		t.Fatalf("meeting before agreement: expected 404, got %d", rec.Code)
	}

	rec = get(h, "/v1/p2p/parties/bob/negotiations")
	var listed struct {
		Negotiations []map[string]any `json:"negotiations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Negotiations) != 1 {
		t.Fatalf("expected 1 negotiation for bob, got %d", len(listed.Negotiations))
	}
}

func TestUnknownNegotiationIsNotFound(t *testing.T) {
	_, h := newTestServer(true)
	id := uuid.New().String()
	for _, path := range []string{
		"/v1/p2p/negotiations/" + id,
		"/v1/p2p/negotiations/" + id + "/proposals",
		"/v1/p2p/negotiations/" + id + "/payments",
		"/v1/p2p/negotiations/" + id + "/events",
	} {
		if rec := get(h, path); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestFollowerRedirectsWrites(t *testing.T) {
	_, h := newTestServer(false)
	rec := post(t, h, "/v1/p2p/raft/join", raftJoinRequest{NodeID: "node-2", RaftAddr: "127.0.0.1:7001"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "NOT_LEADER" || body["leader_id"] != "node-1" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSubmitTxRejectsUnknownFields(t *testing.T) {
	_, h := newTestServer(true)
	rec := post(t, h, "/v1/p2p/tx", map[string]any{"tx_id": "x", "bogus": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
