package processor

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/swapmeet/swapmeet/internal/domain/payment"
)

// Sandbox approves every charge and replays the same transaction id for a
// repeated idempotency key.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]string
	total   payment.Amount
}

func NewSandbox() *Sandbox {
	return &Sandbox{charges: map[string]string{}}
}

func (s *Sandbox) Charge(ctx context.Context, _ string, amount payment.Amount, idempotencyKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.charges[idempotencyKey]; ok {
		return tx, nil
	}
	tx := "sbx_" + ulid.Make().String()
	s.charges[idempotencyKey] = tx
	s.total += amount
	return tx, nil
}

// Total is the sum charged so far.
func (s *Sandbox) Total() payment.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
