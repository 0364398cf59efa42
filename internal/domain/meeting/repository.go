package meeting

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for meeting sessions.
// Lookups return nil, nil when nothing matches.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	GetByNegotiation(ctx context.Context, negotiationID uuid.UUID) (*Session, error)
	Update(ctx context.Context, s *Session, expectedVersion int64) error
}
