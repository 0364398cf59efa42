package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
)

const negotiationColumns = `id, negotiation_id, listing_id, exchange_type, buyer_id, seller_id, status,
	current_proposed_time, proposed_by, buyer_paid, seller_paid, agreement_reached_at, payment_deadline,
	version, created_at, updated_at`

// NegotiationRepository implements negotiation.Repository.
type NegotiationRepository struct {
	db *DB
}

func NewNegotiationRepository(db *DB) *NegotiationRepository {
	return &NegotiationRepository{db: db}
}

func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	err := r.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO negotiations
		(negotiation_id, listing_id, exchange_type, buyer_id, seller_id, status, current_proposed_time, proposed_by,
		 buyer_paid, seller_paid, agreement_reached_at, payment_deadline, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id
	`, n.NegotiationID, n.ListingID, n.ExchangeType, n.BuyerID, n.SellerID, string(n.Status), n.CurrentProposedTime, n.ProposedBy,
		n.BuyerPaid, n.SellerPaid, n.AgreementReachedAt, n.PaymentDeadline, n.Version, n.CreatedAt, n.UpdatedAt).Scan(&n.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: listing %s already has an open negotiation", negotiation.ErrIllegalTransition, n.ListingID)
	}
	return err
}

func (r *NegotiationRepository) GetByID(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE negotiation_id=$1`, negotiationID)
	return scanNegotiation(row)
}

func (r *NegotiationRepository) FindActive(ctx context.Context, listingID, buyerID, sellerID string) (*negotiation.Negotiation, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE listing_id=$1 AND buyer_id=$2 AND seller_id=$3
		  AND status IN ('proposed', 'countered', 'agreed', 'paid_partial')
		LIMIT 1
	`, listingID, buyerID, sellerID)
	return scanNegotiation(row)
}

func (r *NegotiationRepository) List(ctx context.Context, filter negotiation.Filter, limit, offset int) ([]*negotiation.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations`
	args := []interface{}{}
	idx := 1
	if filter.PartyID != nil {
		query += addWhere(query) + " (buyer_id=" + placeholder(idx) + " OR seller_id=" + placeholder(idx) + ")"
		args = append(args, *filter.PartyID)
		idx++
	}
	if filter.ListingID != nil {
		query += addWhere(query) + " listing_id=" + placeholder(idx)
		args = append(args, *filter.ListingID)
		idx++
	}
	if filter.Status != nil {
		query += addWhere(query) + " status=" + placeholder(idx)
		args = append(args, string(*filter.Status))
		idx++
	}
	query += " ORDER BY updated_at DESC, id DESC LIMIT " + placeholder(idx) + " OFFSET " + placeholder(idx+1)
	args = append(args, limit, offset)

	rows, err := r.db.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectNegotiations(rows)
}

// Update writes n only if the stored version still equals expectedVersion.
func (r *NegotiationRepository) Update(ctx context.Context, n *negotiation.Negotiation, expectedVersion int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE negotiations
		SET status=$1, current_proposed_time=$2, proposed_by=$3, buyer_paid=$4, seller_paid=$5,
		    agreement_reached_at=$6, payment_deadline=$7, version=$8, updated_at=$9
		WHERE negotiation_id=$10 AND version=$11
	`, string(n.Status), n.CurrentProposedTime, n.ProposedBy, n.BuyerPaid, n.SellerPaid,
		n.AgreementReachedAt, n.PaymentDeadline, n.Version, n.UpdatedAt, n.NegotiationID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current int64
	err = r.db.conn(ctx).QueryRow(ctx, `SELECT version FROM negotiations WHERE negotiation_id=$1`, n.NegotiationID).Scan(&current)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%w: negotiation %s", negotiation.ErrNotFound, n.NegotiationID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: negotiation %s moved to version %d", negotiation.ErrStaleState, n.NegotiationID, current)
}

func (r *NegotiationRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*negotiation.Negotiation, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE status IN ('agreed', 'paid_partial')
		  AND payment_deadline <= $1
		  AND NOT (buyer_paid AND seller_paid)
		ORDER BY payment_deadline ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectNegotiations(rows)
}

func collectNegotiations(rows pgx.Rows) ([]*negotiation.Negotiation, error) {
	defer rows.Close()
	var out []*negotiation.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNegotiation(row pgx.Row) (*negotiation.Negotiation, error) {
	var n negotiation.Negotiation
	var status string
	if err := row.Scan(&n.ID, &n.NegotiationID, &n.ListingID, &n.ExchangeType, &n.BuyerID, &n.SellerID, &status,
		&n.CurrentProposedTime, &n.ProposedBy, &n.BuyerPaid, &n.SellerPaid, &n.AgreementReachedAt, &n.PaymentDeadline,
		&n.Version, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	n.Status = negotiation.Status(status)
	n.CurrentProposedTime = n.CurrentProposedTime.UTC()
	return &n, nil
}
