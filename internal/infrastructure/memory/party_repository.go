package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/party"
	"github.com/swapmeet/swapmeet/internal/domain/session"
)

// PartyRepository implements party.Repository.
type PartyRepository struct {
	s *Store
}

func (r *PartyRepository) Create(_ context.Context, p *party.Party) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.parties {
		if other.Handle == p.Handle {
			return fmt.Errorf("handle %s already taken", p.Handle)
		}
	}
	p.ID = r.s.nextID()
	r.s.parties[p.PartyID] = *p
	return nil
}

func (r *PartyRepository) GetByID(_ context.Context, partyID uuid.UUID) (*party.Party, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.parties[partyID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PartyRepository) GetByHandle(_ context.Context, handle string) (*party.Party, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.parties {
		if p.Handle == handle {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (r *PartyRepository) SetTelegramChat(_ context.Context, partyID uuid.UUID, chatID *int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.parties[partyID]
	if !ok {
		return fmt.Errorf("party not found: %s", partyID)
	}
	p.TelegramChatID = chatID
	p.UpdatedAt = time.Now().UTC()
	r.s.parties[partyID] = p
	return nil
}

// SessionRepository implements session.Repository.
type SessionRepository struct {
	s *Store
}

func (r *SessionRepository) Create(_ context.Context, sess *session.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess.ID = r.s.nextID()
	r.s.logins[sess.TokenHash] = *sess
	return nil
}

func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*session.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.logins[tokenHash]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (r *SessionRepository) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.logins, tokenHash)
	return nil
}

func (r *SessionRepository) Touch(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for hash, sess := range r.s.logins {
		if sess.SessionID == sessionID {
			seen := at
			sess.LastSeenAt = &seen
			r.s.logins[hash] = sess
			return nil
		}
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	removed := 0
	for hash, sess := range r.s.logins {
		if sess.IsExpired(now) {
			delete(r.s.logins, hash)
			removed++
		}
	}
	return removed, nil
}
