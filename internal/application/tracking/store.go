package tracking

import (
	"sync"

	"github.com/google/uuid"

	domain "github.com/swapmeet/swapmeet/internal/domain/tracking"
)

// Store keeps the last known position per party per session. Nothing is
// persisted; Discard forgets a session entirely.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]domain.LivePosition
}

func NewStore() *Store {
	return &Store{sessions: map[uuid.UUID]map[string]domain.LivePosition{}}
}

// Put overwrites the party's position.
func (s *Store) Put(p domain.LivePosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parties, ok := s.sessions[p.SessionID]
	if !ok {
		parties = map[string]domain.LivePosition{}
		s.sessions[p.SessionID] = parties
	}
	parties[p.PartyID] = p
}

func (s *Store) Get(sessionID uuid.UUID, partyID string) (domain.LivePosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.sessions[sessionID][partyID]
	return p, ok
}

func (s *Store) Discard(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Sessions reports how many sessions hold positions.
func (s *Store) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
