//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/swapmeet/swapmeet/internal/api/http"
	appAuth "github.com/swapmeet/swapmeet/internal/application/auth"
	"github.com/swapmeet/swapmeet/internal/application/keylock"
	appMeeting "github.com/swapmeet/swapmeet/internal/application/meeting"
	appNegotiation "github.com/swapmeet/swapmeet/internal/application/negotiation"
	"github.com/swapmeet/swapmeet/internal/application/notify"
	appPayment "github.com/swapmeet/swapmeet/internal/application/payment"
	appTracking "github.com/swapmeet/swapmeet/internal/application/tracking"
	domainNegotiation "github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/tracking"
	"github.com/swapmeet/swapmeet/internal/infrastructure/postgres"
	"github.com/swapmeet/swapmeet/internal/infrastructure/processor"
	"github.com/swapmeet/swapmeet/internal/infrastructure/sse"
	"github.com/swapmeet/swapmeet/internal/infrastructure/ws"
)

const testPassword = "S3cure!Passw0rd"

func TestNegotiationPaymentIntegration(t *testing.T) {
	server := newTestServer(t)

	alice := newPartyClient(t, server.URL, "alice.pg")
	bob := newPartyClient(t, server.URL, "bob.pg")

	var negotiation map[string]interface{}
	postJSON(t, alice.client, server.URL+"/v1/negotiations", map[string]interface{}{
		"listingId":      "listing-pg-1",
		"counterpartyId": bob.partyID,
		"role":           "buyer",
		"proposedTime":   time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339),
	}, &negotiation)
	negID := negotiation["negotiationId"].(string)
	base := server.URL + "/v1/negotiations/" + negID

	var counter map[string]interface{}
	postJSON(t, bob.client, base+"/counter", map[string]interface{}{
		"proposedTime": time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339),
	}, &counter)
	if counter["status"] != "countered" {
		t.Fatalf("expected countered, got %v", counter["status"])
	}

	var agreed map[string]interface{}
	postJSON(t, alice.client, base+"/accept", nil, &agreed)
	if agreed["status"] != "agreed" {
		t.Fatalf("expected agreed, got %v", agreed["status"])
	}

	var location map[string]interface{}
	postJSON(t, alice.client, base+"/meeting/locations", map[string]interface{}{
		"latitude":  40.7580,
		"longitude": -73.9855,
		"label":     "Times Square",
	}, &location)
	var session map[string]interface{}
	postJSON(t, bob.client, base+"/meeting/locations/"+location["proposalId"].(string)+"/accept", nil, &session)

	var first, second map[string]interface{}
	postJSON(t, alice.client, base+"/payment", nil, &first)
	if first["bothPaid"] != false {
		t.Fatalf("expected one side paid, got %v", first)
	}
	postJSON(t, bob.client, base+"/payment", nil, &second)
	if second["bothPaid"] != true {
		t.Fatalf("expected both paid, got %v", second)
	}

	var views struct {
		Items []map[string]interface{} `json:"items"`
	}
	getJSON(t, bob.client, base+"/proposals", &views)
	if len(views.Items) != 2 {
		t.Fatalf("expected 2 time proposals, got %d", len(views.Items))
	}
	if views.Items[0]["status"] != "superseded" || views.Items[1]["status"] != "accepted" {
		t.Fatalf("unexpected ledger statuses: %v / %v", views.Items[0]["status"], views.Items[1]["status"])
	}

	var meeting map[string]interface{}
	getJSON(t, alice.client, base+"/meeting", &meeting)
	if meeting["trackingActive"] != true {
		t.Fatalf("expected tracking to start once both paid, got %v", meeting["trackingActive"])
	}
}

func TestSSEDeliveryIntegration(t *testing.T) {
	server := newTestServer(t)

	alice := newPartyClient(t, server.URL, "alice.sse")
	bob := newPartyClient(t, server.URL, "bob.sse")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/events/sse?client_id=bob-test", nil)
	if err != nil {
		t.Fatalf("sse request: %v", err)
	}
	resp, err := bob.client.Do(req)
	if err != nil {
		t.Fatalf("sse connect: %v", err)
	}
	defer resp.Body.Close()

	msgCh := make(chan map[string]interface{}, 1)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
				var msg map[string]interface{}
				if err := json.Unmarshal([]byte(payload), &msg); err == nil {
					msgCh <- msg
					return
				}
			}
		}
	}()

	var negotiation map[string]interface{}
	postJSON(t, alice.client, server.URL+"/v1/negotiations", map[string]interface{}{
		"listingId":      "listing-sse-1",
		"counterpartyId": bob.partyID,
		"role":           "seller",
		"proposedTime":   time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	}, &negotiation)

	select {
	case msg := <-msgCh:
		if msg["event"] != "negotiation.proposed" {
			t.Fatalf("unexpected event: %v", msg["event"])
		}
		data, ok := msg["data"].(map[string]interface{})
		if !ok || data["negotiationId"] != negotiation["negotiationId"] {
			t.Fatalf("unexpected SSE payload: %v", msg["data"])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("SSE message not received")
	}
}

type partyClient struct {
	client  *http.Client
	partyID string
}

func newPartyClient(t *testing.T, baseURL, handle string) partyClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Timeout: 10 * time.Second, Jar: jar}

	var registered map[string]interface{}
	postJSON(t, client, baseURL+"/v1/auth/register", map[string]string{
		"handle":   handle,
		"password": testPassword,
	}, &registered)
	var out map[string]interface{}
	postJSON(t, client, baseURL+"/v1/auth/login", map[string]string{
		"handle":   handle,
		"password": testPassword,
	}, &out)
	return partyClient{client: client, partyID: registered["partyId"].(string)}
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}, out interface{}) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	decodeResponse(t, resp, url, out)
}

func getJSON(t *testing.T, client *http.Client, url string, out interface{}) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	decodeResponse(t, resp, url, out)
}

func decodeResponse(t *testing.T, resp *http.Response, url string, out interface{}) {
	t.Helper()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s status %d: %s", url, resp.StatusCode, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func TestCreditLedgerConsumeIntegration(t *testing.T) {
	db, pool := openTestDB(t)
	t.Cleanup(pool.Close)
	ctx := context.Background()
	credits := postgres.NewCreditLedger(db)

	if _, err := pool.Exec(ctx, `INSERT INTO party_credits (party_id, balance_cents) VALUES ('alice', 300)`); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	if err := credits.Consume(ctx, "alice", payment.MustParseAmount("2.00")); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := credits.Consume(ctx, "alice", payment.MustParseAmount("2.00")); !errors.Is(err, domainNegotiation.ErrStaleState) {
		t.Fatalf("expected stale state on overdraw, got %v", err)
	}

	failed := errors.New("abort")
	err := db.WithinTx(ctx, func(ctx context.Context) error {
		if err := credits.Consume(ctx, "alice", payment.MustParseAmount("1.00")); err != nil {
			return err
		}
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected aborted tx, got %v", err)
	}

	left, err := credits.AvailableCredit(ctx, "alice")
	if err != nil {
		t.Fatalf("available credit: %v", err)
	}
	if left.String() != "1.00" {
		t.Fatalf("expected 1.00 left after rollback, got %s", left)
	}
}

func openTestDB(t *testing.T) (*postgres.DB, *pgxpool.Pool) {
	t.Helper()
	dsn := testDatabaseURL(t)
	if err := postgres.RunMigrations(dsn, filepath.Join(repoRoot(t), "migrations"), zerolog.Nop()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("reset db: %v", err)
	}
	return postgres.NewDB(pool), pool
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	db, pool := openTestDB(t)

	negotiationRepo := postgres.NewNegotiationRepository(db)
	proposalRepo := postgres.NewProposalRepository(db)
	meetingRepo := postgres.NewMeetingRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	credits := postgres.NewCreditLedger(db)
	partyRepo := postgres.NewPartyRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)

	locks := keylock.New()
	positions := appTracking.NewStore()
	sseHub := sse.NewHub()
	wsHub := ws.NewHub()
	publisher := notify.NewDispatcher(logger, sseHub, wsHub)

	policy, err := appMeeting.NewPolicy(`status == "paid_complete"`)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	negotiationSvc := appNegotiation.NewService(negotiationRepo, proposalRepo, meetingRepo, db, locks, publisher, positions,
		appNegotiation.Settings{PaymentWindow: 24 * time.Hour, RadiusMeters: 150}, logger)
	meetingSvc := appMeeting.NewService(negotiationRepo, meetingRepo, proposalRepo, db, locks, policy, positions, publisher, true, logger)
	fees := payment.FeePolicy{Default: payment.MustParseAmount("2.00")}
	paymentSvc := appPayment.NewService(negotiationRepo, paymentRepo, processor.NewSandbox(), credits, fees, db, locks, publisher, meetingSvc, 5*time.Second, logger)
	trackingSvc := appTracking.NewService(negotiationRepo, meetingRepo, positions, publisher, tracking.UnitKilometers, logger)
	authSvc := appAuth.NewService(partyRepo, sessionRepo, 24*time.Hour, logger)

	apiServer := httpapi.NewServer(httpapi.Deps{
		Negotiations:      negotiationSvc,
		Meetings:          meetingSvc,
		Payments:          paymentSvc,
		Tracking:          trackingSvc,
		Authenticator:     authSvc,
		AuthSvc:           authSvc,
		SSEHub:            sseHub,
		WSHub:             wsHub,
		SessionCookieName: "swapmeet_session",
		Logger:            logger,
	})
	server := httptest.NewServer(apiServer.Router())
	t.Cleanup(func() {
		server.Close()
		pool.Close()
	})
	return server
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			party_credits,
			payments,
			meeting_sessions,
			proposal_responses,
			proposals,
			negotiations,
			sessions,
			parties
		RESTART IDENTITY CASCADE
	`)
	return err
}
