package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
)

// NegotiationRepository implements negotiation.Repository.
type NegotiationRepository struct {
	s *Store
}

func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.negotiations[n.NegotiationID]; ok {
		return fmt.Errorf("negotiation %s already exists", n.NegotiationID)
	}
	for _, other := range r.s.negotiations {
		if !other.IsTerminal() && other.ListingID == n.ListingID && other.BuyerID == n.BuyerID && other.SellerID == n.SellerID {
			return fmt.Errorf("%w: listing %s already has an open negotiation", negotiation.ErrIllegalTransition, n.ListingID)
		}
	}
	n.ID = r.s.nextID()
	r.s.negotiations[n.NegotiationID] = *n
	id := n.NegotiationID
	r.s.onRollback(ctx, func() { delete(r.s.negotiations, id) })
	return nil
}

func (r *NegotiationRepository) GetByID(_ context.Context, id uuid.UUID) (*negotiation.Negotiation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n, ok := r.s.negotiations[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r *NegotiationRepository) FindActive(_ context.Context, listingID, buyerID, sellerID string) (*negotiation.Negotiation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, n := range r.s.negotiations {
		if n.ListingID == listingID && n.BuyerID == buyerID && n.SellerID == sellerID && !n.IsTerminal() {
			found := n
			return &found, nil
		}
	}
	return nil, nil
}

func (r *NegotiationRepository) List(_ context.Context, filter negotiation.Filter, limit, offset int) ([]*negotiation.Negotiation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*negotiation.Negotiation
	for _, n := range r.s.negotiations {
		if filter.PartyID != nil && !n.IsParticipant(*filter.PartyID) {
			continue
		}
		if filter.ListingID != nil && n.ListingID != *filter.ListingID {
			continue
		}
		if filter.Status != nil && n.Status != *filter.Status {
			continue
		}
		item := n
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return page(out, limit, offset), nil
}

func (r *NegotiationRepository) Update(ctx context.Context, n *negotiation.Negotiation, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.negotiations[n.NegotiationID]
	if !ok {
		return fmt.Errorf("%w: negotiation %s", negotiation.ErrNotFound, n.NegotiationID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: negotiation %s moved to version %d", negotiation.ErrStaleState, n.NegotiationID, current.Version)
	}
	r.s.negotiations[n.NegotiationID] = *n
	r.s.onRollback(ctx, func() { r.s.negotiations[current.NegotiationID] = current })
	return nil
}

func (r *NegotiationRepository) ListExpirable(_ context.Context, now time.Time, limit int) ([]*negotiation.Negotiation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*negotiation.Negotiation
	for _, n := range r.s.negotiations {
		if n.Expirable(now) {
			item := n
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentDeadline.Before(*out[j].PaymentDeadline) })
	return page(out, limit, 0), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
