package auction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DarknessoPirate/itemite-core/internal/pagination"
)

// PostgresStore persists auction data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateAuction(ctx context.Context, a *Auction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auctions (
			id, owner_id, title, starting_bid,
			current_highest_bid, current_highest_bid_id,
			ends_at, archived, featured, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::NUMERIC(20,2),
			$5, $6,
			$7, $8, $9, $10, $11
		)`,
		a.ID, a.OwnerID, nullString(a.Title), a.StartingBid,
		nullNumeric(a.CurrentHighestBid), nullString(a.CurrentHighestBidID),
		a.EndsAt, a.Archived, a.Featured, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

const auctionColumns = `id, owner_id, title, starting_bid,
	       current_highest_bid, current_highest_bid_id,
	       ends_at, archived, featured, created_at, updated_at`

func (p *PostgresStore) GetAuction(ctx context.Context, id string) (*Auction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)

	a, err := scanAuction(row)
	if err == sql.ErrNoRows {
		return nil, ErrAuctionNotFound
	}
	return a, err
}

// AppendBid inserts the bid and advances the highest-bid pointer in a
// single transaction. The UPDATE is guarded by the expected previous
// pointer, so a concurrent writer from another instance loses with
// ErrStaleBid instead of clobbering a higher bid.
func (p *PostgresStore) AppendBid(ctx context.Context, bid *Bid, expectedHighestBidID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE auctions
		SET current_highest_bid = $1::NUMERIC(20,2),
		    current_highest_bid_id = $2,
		    updated_at = $3
		WHERE id = $4
		  AND current_highest_bid_id IS NOT DISTINCT FROM $5`,
		bid.Price, bid.ID, time.Now().UTC(), bid.AuctionID,
		nullString(expectedHighestBidID),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the auction is gone or the pointer moved under us.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)`, bid.AuctionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAuctionNotFound
		}
		return ErrStaleBid
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, price, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5)`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Price, bid.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) GetBid(ctx context.Context, id string) (*Bid, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, auction_id, bidder_id, price, created_at
		FROM bids WHERE id = $1`, id)

	b := &Bid{}
	err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Price, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bid %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresStore) ListBids(ctx context.Context, auctionID string, limit int, before *pagination.Cursor) ([]*Bid, error) {
	query := `
		SELECT id, auction_id, bidder_id, price, created_at
		FROM bids
		WHERE auction_id = $1`
	args := []interface{}{auctionID}

	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Bid
	for rows.Next() {
		b := &Bid{}
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Price, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListEnded(ctx context.Context, before time.Time, limit int) ([]*Auction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE archived = FALSE AND ends_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ArchiveAuction(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE auctions SET archived = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAuctionNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(s scanner) (*Auction, error) {
	a := &Auction{}
	var (
		title      sql.NullString
		highest    sql.NullString
		highestBid sql.NullString
	)

	err := s.Scan(
		&a.ID, &a.OwnerID, &title, &a.StartingBid,
		&highest, &highestBid,
		&a.EndsAt, &a.Archived, &a.Featured, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Title = title.String
	a.CurrentHighestBid = highest.String
	a.CurrentHighestBidID = highestBid.String
	return a, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullNumeric is nullString for NUMERIC columns; kept separate so the
// call sites read as money, not text.
func nullNumeric(s string) sql.NullString {
	return nullString(s)
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
