package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapmeet/swapmeet/internal/domain/party"
	"github.com/swapmeet/swapmeet/internal/domain/session"
)

var ErrHandleTaken = errors.New("handle already taken")

// Service registers parties and issues opaque session tokens.
type Service struct {
	partyRepo   party.Repository
	sessionRepo session.Repository
	sessionTTL  time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewService creates an auth service.
func NewService(partyRepo party.Repository, sessionRepo session.Repository, sessionTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		partyRepo:   partyRepo,
		sessionRepo: sessionRepo,
		sessionTTL:  sessionTTL,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("service", "auth").Logger(),
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// LoginResult contains login response.
type LoginResult struct {
	Party   *party.Party
	Session *session.Session
	Token   string
}

// Register creates a new party account.
func (s *Service) Register(ctx context.Context, handle, displayName, password string) (*party.Party, error) {
	handle = party.NormalizeHandle(handle)
	if err := party.ValidateHandle(handle); err != nil {
		return nil, err
	}
	if err := party.ValidatePassword(password, handle); err != nil {
		return nil, err
	}
	existing, err := s.partyRepo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrHandleTaken
	}
	hash, err := party.HashPassword(password)
	if err != nil {
		return nil, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = handle
	}
	now := s.now()
	p := &party.Party{
		PartyID:      uuid.New(),
		Handle:       handle,
		DisplayName:  displayName,
		PasswordHash: hash,
		Status:       party.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.partyRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("party_id", p.PartyID.String()).Msg("party registered")
	return p, nil
}

// Login authenticates a party and creates a session.
func (s *Service) Login(ctx context.Context, handle, password string, userAgent, ipAddress *string) (*LoginResult, error) {
	handle = party.NormalizeHandle(handle)
	p, err := s.partyRepo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if p == nil || !party.VerifyPassword(p.PasswordHash, password) {
		return nil, fmt.Errorf("%w: invalid handle or password", party.ErrUnauthenticated)
	}
	if !p.IsActive() {
		return nil, fmt.Errorf("%w: party is disabled", party.ErrUnauthenticated)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &session.Session{
		SessionID:  uuid.New(),
		TokenHash:  hashToken(token),
		PartyID:    p.PartyID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.sessionTTL),
		LastSeenAt: &now,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info().Str("party_id", p.PartyID.String()).Msg("party login")
	return &LoginResult{Party: p, Session: sess, Token: token}, nil
}

// Authenticate implements party.Authenticator. Any failure is reported as
// party.ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, token string) (party.Identity, error) {
	if token == "" {
		return party.Identity{}, fmt.Errorf("%w: missing token", party.ErrUnauthenticated)
	}
	sess, err := s.sessionRepo.GetByTokenHash(ctx, hashToken(token))
	if err != nil {
		s.logger.Warn().Err(err).Msg("session lookup failed")
		return party.Identity{}, party.ErrUnauthenticated
	}
	if sess == nil {
		return party.Identity{}, fmt.Errorf("%w: session not found", party.ErrUnauthenticated)
	}
	now := s.now()
	if sess.IsExpired(now) {
		_ = s.sessionRepo.DeleteByTokenHash(ctx, sess.TokenHash)
		return party.Identity{}, fmt.Errorf("%w: session expired", party.ErrUnauthenticated)
	}
	p, err := s.partyRepo.GetByID(ctx, sess.PartyID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("party lookup failed")
		return party.Identity{}, party.ErrUnauthenticated
	}
	if p == nil || !p.IsActive() {
		return party.Identity{}, fmt.Errorf("%w: party not active", party.ErrUnauthenticated)
	}
	_ = s.sessionRepo.Touch(ctx, sess.SessionID, now)
	return party.Identity{PartyID: p.PartyID.String(), Handle: p.Handle}, nil
}

// Logout deletes a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessionRepo.DeleteByTokenHash(ctx, hashToken(token))
}

// Me returns the party behind an identity.
func (s *Service) Me(ctx context.Context, id party.Identity) (*party.Party, error) {
	partyID, err := uuid.Parse(id.PartyID)
	if err != nil {
		return nil, fmt.Errorf("%w: party %s is managed externally", party.ErrUnauthenticated, id.PartyID)
	}
	p, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: party not found", party.ErrUnauthenticated)
	}
	return p, nil
}

// PurgeExpired removes expired sessions.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	return s.sessionRepo.DeleteExpired(ctx, s.now())
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
