package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/swapmeet/swapmeet/internal/domain/payment"
)

// HTTPProcessor charges parties through a JSON payment provider.
type HTTPProcessor struct {
	endpoint string
	client   *http.Client
}

func NewHTTPProcessor(baseURL string, timeout time.Duration) (*HTTPProcessor, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("processor url is required")
	}
	return &HTTPProcessor{
		endpoint: baseURL + "/v1/charges",
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type chargeRequest struct {
	PartyID string         `json:"partyId"`
	Amount  payment.Amount `json:"amount"`
}

type chargeResponse struct {
	TransactionID string `json:"transactionId"`
	Error         string `json:"error,omitempty"`
}

// Charge posts a charge. The idempotency key is forwarded so a retried
// charge is never applied twice by the provider.
func (p *HTTPProcessor) Charge(ctx context.Context, partyID string, amount payment.Amount, idempotencyKey string) (string, error) {
	body, err := json.Marshal(chargeRequest{PartyID: partyID, Amount: amount})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", payment.ErrPaymentFailed, err)
	}
	defer resp.Body.Close()

	var out chargeResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: processor returned %d: %s", payment.ErrPaymentFailed, resp.StatusCode, msg)
	}
	if out.TransactionID == "" {
		return "", fmt.Errorf("%w: processor returned no transaction id", payment.ErrPaymentFailed)
	}
	return out.TransactionID, nil
}
