package payment

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists payments and disputes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) CreatePayment(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, buyer_id, seller_id, auction_id, amount,
			status, transfer_trigger, capture_ref, attempts,
			created_at, updated_at, status_changed_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(20,2),
			$6, $7, $8, $9,
			$10, $11, $12
		)`,
		pay.ID, pay.BuyerID, pay.SellerID, nullString(pay.AuctionID), pay.Amount,
		pay.Status, nullString(string(pay.Trigger)), nullString(pay.CaptureRef), pay.Attempts,
		pay.CreatedAt, pay.UpdatedAt, pay.StatusChangedAt,
	)
	return err
}

const paymentColumns = `id, buyer_id, seller_id, auction_id, amount,
	       status, transfer_trigger, capture_ref, attempts,
	       created_at, updated_at, status_changed_at`

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)

	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

func (p *PostgresStore) UpdatePayment(ctx context.Context, pay *Payment) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    transfer_trigger = $2,
		    attempts = $3,
		    updated_at = $4,
		    status_changed_at = $5
		WHERE id = $6`,
		pay.Status, nullString(string(pay.Trigger)), pay.Attempts,
		pay.UpdatedAt, pay.StatusChangedAt, pay.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (p *PostgresStore) ListDue(ctx context.Context, createdBefore time.Time, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND transfer_trigger IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectPayments(rows)
}

func (p *PostgresStore) ListStalled(ctx context.Context, changedBefore time.Time, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending_review' AND status_changed_at < $1
		ORDER BY status_changed_at
		LIMIT $2`, changedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectPayments(rows)
}

func (p *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, payment_id, reason, details,
			resolution, refund_fraction, opened_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.PaymentID, d.Reason, nullString(d.Details),
		nullString(string(d.Resolution)), nullString(d.RefundFraction),
		d.OpenedAt, d.ResolvedAt,
	)
	return err
}

const disputeColumns = `id, payment_id, reason, details,
	       resolution, refund_fraction, opened_at, resolved_at`

func (p *PostgresStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) GetOpenDispute(ctx context.Context, paymentID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE payment_id = $1 AND resolution IS NULL
		LIMIT 1`, paymentID)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes
		SET resolution = $1,
		    refund_fraction = $2,
		    resolved_at = $3
		WHERE id = $4`,
		nullString(string(d.Resolution)), nullString(d.RefundFraction),
		d.ResolvedAt, d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(s scanner) (*Payment, error) {
	pay := &Payment{}
	var auctionID, trigger, captureRef sql.NullString

	err := s.Scan(
		&pay.ID, &pay.BuyerID, &pay.SellerID, &auctionID, &pay.Amount,
		&pay.Status, &trigger, &captureRef, &pay.Attempts,
		&pay.CreatedAt, &pay.UpdatedAt, &pay.StatusChangedAt,
	)
	if err != nil {
		return nil, err
	}

	pay.AuctionID = auctionID.String
	pay.Trigger = Trigger(trigger.String)
	pay.CaptureRef = captureRef.String
	return pay, nil
}

func collectPayments(rows *sql.Rows) ([]*Payment, error) {
	var payments []*Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, pay)
	}
	return payments, rows.Err()
}

func scanDispute(s scanner) (*Dispute, error) {
	d := &Dispute{}
	var details, resolution, fraction sql.NullString
	var resolvedAt sql.NullTime

	err := s.Scan(
		&d.ID, &d.PaymentID, &d.Reason, &details,
		&resolution, &fraction, &d.OpenedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Details = details.String
	d.Resolution = Resolution(resolution.String)
	d.RefundFraction = fraction.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return d, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
