package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
)

// MeetingRepository implements meeting.Repository.
type MeetingRepository struct {
	s *Store
}

func (r *MeetingRepository) Create(ctx context.Context, m *meeting.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.meetings {
		if other.NegotiationID == m.NegotiationID {
			return fmt.Errorf("negotiation %s already has a meeting session", m.NegotiationID)
		}
	}
	m.ID = r.s.nextID()
	r.s.meetings[m.SessionID] = *m
	id := m.SessionID
	r.s.onRollback(ctx, func() { delete(r.s.meetings, id) })
	return nil
}

func (r *MeetingRepository) GetByID(_ context.Context, sessionID uuid.UUID) (*meeting.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.meetings[sessionID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MeetingRepository) GetByNegotiation(_ context.Context, negotiationID uuid.UUID) (*meeting.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, m := range r.s.meetings {
		if m.NegotiationID == negotiationID {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MeetingRepository) Update(ctx context.Context, m *meeting.Session, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.meetings[m.SessionID]
	if !ok {
		return fmt.Errorf("%w: meeting session %s", negotiation.ErrNotFound, m.SessionID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: meeting session %s moved to version %d", negotiation.ErrStaleState, m.SessionID, current.Version)
	}
	r.s.meetings[m.SessionID] = *m
	r.s.onRollback(ctx, func() { r.s.meetings[current.SessionID] = current })
	return nil
}
