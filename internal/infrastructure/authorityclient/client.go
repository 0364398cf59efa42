package authorityclient

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

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/party"
	"github.com/swapmeet/swapmeet/internal/domain/tracking"
)

// APIError is a non-2xx reply from the authority.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authority returned %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps well-known codes onto the domain errors the server produced them from.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "UNAUTHORIZED":
		return party.ErrUnauthenticated
	case "NOT_FOUND":
		return negotiation.ErrNotFound
	case "STALE_STATE":
		return negotiation.ErrStaleState
	case "ILLEGAL_TRANSITION":
		return negotiation.ErrIllegalTransition
	case "EXPIRED":
		return negotiation.ErrExpired
	}
	return nil
}

// Client talks to the tracking endpoints of a swapmeet server on behalf of one party.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("authority url is required")
	}
	if token == "" {
		return nil, errors.New("authority token is required")
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) PushPosition(ctx context.Context, u tracking.Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, c.sessionPath(u.SessionID, "positions"), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return nil
}

// CounterpartPosition returns nil without error while the counterpart has
// not pushed a position yet.
func (c *Client) CounterpartPosition(ctx context.Context, sessionID uuid.UUID) (*tracking.LivePosition, error) {
	resp, err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "counterpart"), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var pos tracking.LivePosition
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&pos); err != nil {
		return nil, fmt.Errorf("decode counterpart position: %w", err)
	}
	return &pos, nil
}

// Distance fetches the server-computed distance report.
func (c *Client) Distance(ctx context.Context, sessionID uuid.UUID) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "distance"), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (c *Client) sessionPath(sessionID uuid.UUID, leaf string) string {
	return c.baseURL + "/v1/tracking/sessions/" + sessionID.String() + "/" + leaf
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(data, &payload)
	if payload.Message == "" {
		payload.Message = http.StatusText(resp.StatusCode)
	}
	return nil, &APIError{Status: resp.StatusCode, Code: payload.Error, Message: payload.Message}
}
