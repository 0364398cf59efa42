package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
)

// PaymentRepository implements payment.Repository.
type PaymentRepository struct {
	db *DB
}

func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, rec *payment.Record) error {
	err := r.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments
		(payment_id, negotiation_id, party_id, fee_cents, credit_snapshot_cents, credit_applied_cents, amount_charged_cents, transaction_id, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, rec.PaymentID, rec.NegotiationID, rec.PartyID, int64(rec.Fee), int64(rec.CreditSnapshot), int64(rec.CreditApplied),
		int64(rec.AmountCharged), rec.TransactionID, rec.CompletedAt).Scan(&rec.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: payment for %s already recorded", negotiation.ErrStaleState, payment.IdempotencyKey(rec.NegotiationID, rec.PartyID))
	}
	return err
}

func (r *PaymentRepository) Get(ctx context.Context, negotiationID uuid.UUID, partyID string) (*payment.Record, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `
		SELECT id, payment_id, negotiation_id, party_id, fee_cents, credit_snapshot_cents, credit_applied_cents, amount_charged_cents, transaction_id, completed_at
		FROM payments WHERE negotiation_id=$1 AND party_id=$2
	`, negotiationID, partyID)
	return scanPayment(row)
}

func (r *PaymentRepository) ListByNegotiation(ctx context.Context, negotiationID uuid.UUID) ([]*payment.Record, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT id, payment_id, negotiation_id, party_id, fee_cents, credit_snapshot_cents, credit_applied_cents, amount_charged_cents, transaction_id, completed_at
		FROM payments WHERE negotiation_id=$1 ORDER BY id ASC
	`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*payment.Record
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*payment.Record, error) {
	var rec payment.Record
	var fee, snapshot, applied, charged int64
	if err := row.Scan(&rec.ID, &rec.PaymentID, &rec.NegotiationID, &rec.PartyID, &fee, &snapshot, &applied, &charged, &rec.TransactionID, &rec.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rec.Fee = payment.Amount(fee)
	rec.CreditSnapshot = payment.Amount(snapshot)
	rec.CreditApplied = payment.Amount(applied)
	rec.AmountCharged = payment.Amount(charged)
	return &rec, nil
}

// CreditLedger implements payment.CreditLedger from the party_credits table.
type CreditLedger struct {
	db *DB
}

func NewCreditLedger(db *DB) *CreditLedger {
	return &CreditLedger{db: db}
}

// AvailableCredit returns zero for parties without a balance row.
func (c *CreditLedger) AvailableCredit(ctx context.Context, partyID string) (payment.Amount, error) {
	var balance int64
	err := c.db.conn(ctx).QueryRow(ctx, `SELECT balance_cents FROM party_credits WHERE party_id=$1`, partyID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return payment.Amount(balance), nil
}

func (c *CreditLedger) Consume(ctx context.Context, partyID string, amount payment.Amount) error {
	if amount <= 0 {
		return nil
	}
	tag, err := c.db.conn(ctx).Exec(ctx, `
		UPDATE party_credits SET balance_cents = balance_cents - $2, updated_at = NOW()
		WHERE party_id=$1 AND balance_cents >= $2
	`, partyID, int64(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: credit for %s below %s", negotiation.ErrStaleState, partyID, amount)
	}
	return nil
}
