package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for login sessions.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
