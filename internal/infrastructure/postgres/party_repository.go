package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swapmeet/swapmeet/internal/domain/party"
	"github.com/swapmeet/swapmeet/internal/domain/session"
)

// PartyRepository implements party.Repository.
type PartyRepository struct {
	db *DB
}

func NewPartyRepository(db *DB) *PartyRepository {
	return &PartyRepository{db: db}
}

func (r *PartyRepository) Create(ctx context.Context, p *party.Party) error {
	return r.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO parties
		(party_id, handle, display_name, password_hash, telegram_chat_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, p.PartyID, p.Handle, p.DisplayName, p.PasswordHash, p.TelegramChatID, string(p.Status), p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
}

func (r *PartyRepository) GetByID(ctx context.Context, partyID uuid.UUID) (*party.Party, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `
		SELECT id, party_id, handle, display_name, password_hash, telegram_chat_id, status, created_at, updated_at
		FROM parties WHERE party_id=$1
	`, partyID)
	return scanParty(row)
}

func (r *PartyRepository) GetByHandle(ctx context.Context, handle string) (*party.Party, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `
		SELECT id, party_id, handle, display_name, password_hash, telegram_chat_id, status, created_at, updated_at
		FROM parties WHERE handle=$1
	`, handle)
	return scanParty(row)
}

func (r *PartyRepository) SetTelegramChat(ctx context.Context, partyID uuid.UUID, chatID *int64) error {
	_, err := r.db.conn(ctx).Exec(ctx, `UPDATE parties SET telegram_chat_id=$1, updated_at=$2 WHERE party_id=$3`, chatID, time.Now().UTC(), partyID)
	return err
}

func scanParty(row pgx.Row) (*party.Party, error) {
	var p party.Party
	var status string
	if err := row.Scan(&p.ID, &p.PartyID, &p.Handle, &p.DisplayName, &p.PasswordHash, &p.TelegramChatID, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p.Status = party.Status(status)
	return &p, nil
}

// SessionRepository implements session.Repository.
type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO sessions
		(session_id, token_hash, party_id, created_at, expires_at, last_seen_at, user_agent, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.SessionID, s.TokenHash, s.PartyID, s.CreatedAt, s.ExpiresAt, s.LastSeenAt, s.UserAgent, s.IPAddress)
	return err
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `
		SELECT id, session_id, token_hash, party_id, created_at, expires_at, last_seen_at, user_agent, ip_address
		FROM sessions WHERE token_hash=$1
	`, tokenHash)
	var s session.Session
	if err := row.Scan(&s.ID, &s.SessionID, &s.TokenHash, &s.PartyID, &s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt, &s.UserAgent, &s.IPAddress); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM sessions WHERE token_hash=$1`, tokenHash)
	return err
}

func (r *SessionRepository) Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	_, err := r.db.conn(ctx).Exec(ctx, `UPDATE sessions SET last_seen_at=$1 WHERE session_id=$2`, at, sessionID)
	return err
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}
