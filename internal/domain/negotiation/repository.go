package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter controls negotiation listing.
type Filter struct {
	PartyID   *string
	ListingID *string
	Status    *Status
}

// Repository defines persistence for negotiations.
// GetByID and FindActive return nil, nil when nothing matches.
// Update fails with ErrStaleState when the stored version differs from expectedVersion.
type Repository interface {
	Create(ctx context.Context, n *Negotiation) error
	GetByID(ctx context.Context, negotiationID uuid.UUID) (*Negotiation, error)
	FindActive(ctx context.Context, listingID, buyerID, sellerID string) (*Negotiation, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Negotiation, error)
	Update(ctx context.Context, n *Negotiation, expectedVersion int64) error
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*Negotiation, error)
}
