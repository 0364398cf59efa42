package party

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for parties. Lookups return nil, nil when missing.
type Repository interface {
	Create(ctx context.Context, p *Party) error
	GetByID(ctx context.Context, partyID uuid.UUID) (*Party, error)
	GetByHandle(ctx context.Context, handle string) (*Party, error)
	SetTelegramChat(ctx context.Context, partyID uuid.UUID, chatID *int64) error
}
