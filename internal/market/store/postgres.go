package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/lib/pq"

	"landgrid/internal/market/models"
	"landgrid/pkg/domain"
	"landgrid/pkg/platform/sentinel"
	txcontext "landgrid/pkg/platform/tx"
)

// PostgresStore persists listings and price ranges. Prices are stored as
// NUMERIC(78,0) so the full 256-bit amount range fits without truncation.
//
// Schema:
//
//	CREATE TABLE listings (
//	    token_id BIGINT PRIMARY KEY,
//	    seller   TEXT NOT NULL,
//	    price    NUMERIC(78,0),
//	    sellable BOOLEAN NOT NULL
//	);
//	CREATE INDEX listings_seller_idx ON listings (seller);
//	CREATE TABLE price_ranges (
//	    start_id BIGINT NOT NULL,
//	    end_id   BIGINT NOT NULL,
//	    price    NUMERIC(78,0) NOT NULL,
//	    PRIMARY KEY (start_id, end_id)
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) Create(ctx context.Context, l *models.Listing) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO listings (token_id, seller, price, sellable) VALUES ($1, $2, $3, $4)`,
		l.TokenID, l.Seller.String(), priceArg(l.Price), l.Sellable,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("listing for token %d: %w", l.TokenID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert listing %d: %w", l.TokenID, err)
	}
	return nil
}

func (s *PostgresStore) CreateBatch(ctx context.Context, ls []*models.Listing) error {
	run := func(ctx context.Context) error {
		for _, l := range ls {
			if err := s.Create(ctx, l); err != nil {
				return err
			}
		}
		return nil
	}

	if _, ok := txcontext.From(ctx); ok {
		return run(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := run(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Get(ctx context.Context, id domain.TokenID) (*models.Listing, error) {
	return scanListing(s.conn(ctx).QueryRowContext(ctx,
		`SELECT token_id, seller, price, sellable FROM listings WHERE token_id = $1`, id,
	))
}

func (s *PostgresStore) Remove(ctx context.Context, id domain.TokenID) (*models.Listing, error) {
	l, err := scanListing(s.conn(ctx).QueryRowContext(ctx,
		`DELETE FROM listings WHERE token_id = $1 RETURNING token_id, seller, price, sellable`, id,
	))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) Execute(
	ctx context.Context,
	id domain.TokenID,
	validate func(*models.Listing) error,
	mutate func(*models.Listing),
) (*models.Listing, error) {
	run := func(ctx context.Context, conn dbConn) (*models.Listing, error) {
		l, err := scanListing(conn.QueryRowContext(ctx,
			`SELECT token_id, seller, price, sellable FROM listings WHERE token_id = $1 FOR UPDATE`, id,
		))
		if err != nil {
			return nil, err
		}
		if validate != nil {
			if err := validate(l); err != nil {
				return nil, err
			}
		}
		if mutate != nil {
			mutate(l)
		}
		if _, err := conn.ExecContext(ctx,
			`UPDATE listings SET seller = $2, price = $3, sellable = $4 WHERE token_id = $1`,
			id, l.Seller.String(), priceArg(l.Price), l.Sellable,
		); err != nil {
			return nil, fmt.Errorf("update listing %d: %w", id, err)
		}
		return l, nil
	}

	if _, ok := txcontext.From(ctx); ok {
		return run(ctx, s.conn(ctx))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	l, err := run(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) AllSellable(ctx context.Context) ([]*models.Listing, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT token_id, seller, price, sellable FROM listings WHERE sellable ORDER BY token_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []*models.Listing
	for rows.Next() {
		l, err := scanListingRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddRange(ctx context.Context, r models.PriceRange) error {
	run := func(ctx context.Context, conn dbConn) error {
		var one int
		err := conn.QueryRowContext(ctx,
			`SELECT 1 FROM price_ranges WHERE start_id <= $2 AND end_id >= $1 FOR UPDATE LIMIT 1`,
			r.StartID, r.EndID,
		).Scan(&one)
		if err == nil {
			return fmt.Errorf("range %d-%d overlaps an existing range: %w", r.StartID, r.EndID, sentinel.ErrConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check range overlap: %w", err)
		}
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO price_ranges (start_id, end_id, price) VALUES ($1, $2, $3)`,
			r.StartID, r.EndID, r.Price.Dec(),
		); err != nil {
			return fmt.Errorf("insert range: %w", err)
		}
		return nil
	}

	if _, ok := txcontext.From(ctx); ok {
		return run(ctx, s.conn(ctx))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := run(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) RangeFor(ctx context.Context, id domain.TokenID) (*models.PriceRange, error) {
	var (
		r     models.PriceRange
		price string
	)
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT start_id, end_id, price FROM price_ranges WHERE start_id <= $1 AND end_id >= $1`, id,
	).Scan(&r.StartID, &r.EndID, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("price range for token %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan range: %w", err)
	}
	r.Price, err = uint256.FromDecimal(price)
	if err != nil {
		return nil, fmt.Errorf("parse range price: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ApplyRangeToListings(ctx context.Context, r models.PriceRange, seller domain.Account) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE listings SET price = $3
		 WHERE seller = $4 AND price IS NULL AND token_id BETWEEN $1 AND $2`,
		r.StartID, r.EndID, r.Price.Dec(), seller.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("back-fill range price: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func priceArg(p *uint256.Int) any {
	if p == nil {
		return nil
	}
	return p.Dec()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanListing(row *sql.Row) (*models.Listing, error) {
	var (
		l     models.Listing
		price sql.NullString
	)
	err := row.Scan(&l.TokenID, &l.Seller, &price, &l.Sellable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return withPrice(&l, price)
}

func scanListingRows(rows *sql.Rows) (*models.Listing, error) {
	var (
		l     models.Listing
		price sql.NullString
	)
	if err := rows.Scan(&l.TokenID, &l.Seller, &price, &l.Sellable); err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return withPrice(&l, price)
}

func withPrice(l *models.Listing, price sql.NullString) (*models.Listing, error) {
	if price.Valid {
		p, err := uint256.FromDecimal(price.String)
		if err != nil {
			return nil, fmt.Errorf("parse listing price: %w", err)
		}
		l.Price = p
	}
	return l, nil
}
