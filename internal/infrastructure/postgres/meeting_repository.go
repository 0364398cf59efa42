package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

const meetingColumns = `id, session_id, negotiation_id, agreed_time, latitude, longitude, location_label,
	accepted_proposal_id, radius_meters, tracking_active, tracking_started_at, closed_at, close_reason,
	version, created_at, updated_at`

// MeetingRepository implements meeting.Repository.
type MeetingRepository struct {
	db *DB
}

func NewMeetingRepository(db *DB) *MeetingRepository {
	return &MeetingRepository{db: db}
}

func (r *MeetingRepository) Create(ctx context.Context, s *meeting.Session) error {
	lat, lon, label := locationColumns(s.AgreedLocation)
	return r.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO meeting_sessions
		(session_id, negotiation_id, agreed_time, latitude, longitude, location_label, accepted_proposal_id,
		 radius_meters, tracking_active, tracking_started_at, closed_at, close_reason, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id
	`, s.SessionID, s.NegotiationID, s.AgreedTime, lat, lon, label, s.AcceptedProposalID,
		s.RadiusMeters, s.TrackingActive, s.TrackingStartedAt, s.ClosedAt, closeReason(s.CloseReason), s.Version, s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
}

func (r *MeetingRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*meeting.Session, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `SELECT `+meetingColumns+` FROM meeting_sessions WHERE session_id=$1`, sessionID)
	return scanMeeting(row)
}

func (r *MeetingRepository) GetByNegotiation(ctx context.Context, negotiationID uuid.UUID) (*meeting.Session, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `SELECT `+meetingColumns+` FROM meeting_sessions WHERE negotiation_id=$1`, negotiationID)
	return scanMeeting(row)
}

func (r *MeetingRepository) Update(ctx context.Context, s *meeting.Session, expectedVersion int64) error {
	lat, lon, label := locationColumns(s.AgreedLocation)
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE meeting_sessions
		SET agreed_time=$1, latitude=$2, longitude=$3, location_label=$4, accepted_proposal_id=$5, radius_meters=$6,
		    tracking_active=$7, tracking_started_at=$8, closed_at=$9, close_reason=$10, version=$11, updated_at=$12
		WHERE session_id=$13 AND version=$14
	`, s.AgreedTime, lat, lon, label, s.AcceptedProposalID, s.RadiusMeters,
		s.TrackingActive, s.TrackingStartedAt, s.ClosedAt, closeReason(s.CloseReason), s.Version, s.UpdatedAt,
		s.SessionID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: meeting session %s changed", negotiation.ErrStaleState, s.SessionID)
	}
	return nil
}

func locationColumns(loc *proposal.Location) (*float64, *float64, *string) {
	if loc == nil {
		return nil, nil, nil
	}
	return &loc.Latitude, &loc.Longitude, &loc.Label
}

func closeReason(reason *meeting.CloseReason) *string {
	if reason == nil {
		return nil
	}
	s := string(*reason)
	return &s
}

func scanMeeting(row pgx.Row) (*meeting.Session, error) {
	var s meeting.Session
	var lat, lon *float64
	var label, reason *string
	if err := row.Scan(&s.ID, &s.SessionID, &s.NegotiationID, &s.AgreedTime, &lat, &lon, &label,
		&s.AcceptedProposalID, &s.RadiusMeters, &s.TrackingActive, &s.TrackingStartedAt, &s.ClosedAt, &reason,
		&s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if lat != nil && lon != nil {
		s.AgreedLocation = &proposal.Location{Latitude: *lat, Longitude: *lon}
		if label != nil {
			s.AgreedLocation.Label = *label
		}
	}
	if reason != nil {
		r := meeting.CloseReason(*reason)
		s.CloseReason = &r
	}
	return &s, nil
}
