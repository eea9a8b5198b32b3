package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"landgrid/internal/registry/models"
	"landgrid/pkg/domain"
	"landgrid/pkg/platform/sentinel"
	txcontext "landgrid/pkg/platform/tx"
)

// PostgresStore persists parcels, operator approvals, and trusted apps.
//
// Schema:
//
//	CREATE TABLE mint_counter (id INT PRIMARY KEY DEFAULT 1, minted BIGINT NOT NULL DEFAULT 0);
//	INSERT INTO mint_counter (id, minted) VALUES (1, 0);
//	CREATE TABLE parcels (
//	    token_id     BIGINT PRIMARY KEY,
//	    owner        TEXT NOT NULL,
//	    land_user    TEXT NOT NULL DEFAULT '',
//	    user_expires TIMESTAMPTZ
//	);
//	CREATE INDEX parcels_owner_idx ON parcels (owner);
//	CREATE TABLE operator_approvals (
//	    owner    TEXT NOT NULL,
//	    operator TEXT NOT NULL,
//	    approved BOOLEAN NOT NULL,
//	    PRIMARY KEY (owner, operator)
//	);
//	CREATE TABLE registry_apps (account TEXT PRIMARY KEY);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) MintBatch(ctx context.Context, to domain.Account, n int, max uint64) ([]domain.TokenID, error) {
	run := func(ctx context.Context, conn dbConn) ([]domain.TokenID, error) {
		var minted uint64
		err := conn.QueryRowContext(ctx,
			`UPDATE mint_counter SET minted = minted + $1 WHERE id = 1 AND minted + $1 <= $2 RETURNING minted`,
			n, max,
		).Scan(&minted)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("supply cap %d reached: %w", max, sentinel.ErrConflict)
		}
		if err != nil {
			return nil, fmt.Errorf("advance mint counter: %w", err)
		}

		ids := make([]domain.TokenID, 0, n)
		for id := minted - uint64(n) + 1; id <= minted; id++ {
			if _, err := conn.ExecContext(ctx,
				`INSERT INTO parcels (token_id, owner) VALUES ($1, $2)`,
				id, to.String(),
			); err != nil {
				return nil, fmt.Errorf("insert parcel %d: %w", id, err)
			}
			ids = append(ids, domain.TokenID(id))
		}
		return ids, nil
	}

	// Inside an ambient transaction the caller owns atomicity; otherwise open
	// one so the counter and inserts commit together.
	if _, ok := txcontext.From(ctx); ok {
		return run(ctx, s.conn(ctx))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	ids, err := run(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.TokenID) (*models.Parcel, error) {
	return scanParcel(s.conn(ctx).QueryRowContext(ctx,
		`SELECT token_id, owner, land_user, user_expires FROM parcels WHERE token_id = $1`, id,
	))
}

func (s *PostgresStore) Execute(ctx context.Context, id domain.TokenID, validate func(*models.Parcel) error, mutate func(*models.Parcel)) (*models.Parcel, error) {
	run := func(ctx context.Context, conn dbConn) (*models.Parcel, error) {
		parcel, err := scanParcel(conn.QueryRowContext(ctx,
			`SELECT token_id, owner, land_user, user_expires FROM parcels WHERE token_id = $1 FOR UPDATE`, id,
		))
		if err != nil {
			return nil, err
		}
		if err := validate(parcel); err != nil {
			return nil, err
		}
		mutate(parcel)

		var expires any
		if !parcel.UserExpires.IsZero() {
			expires = parcel.UserExpires
		}
		if _, err := conn.ExecContext(ctx,
			`UPDATE parcels SET owner = $2, land_user = $3, user_expires = $4 WHERE token_id = $1`,
			id, parcel.Owner.String(), parcel.User.String(), expires,
		); err != nil {
			return nil, fmt.Errorf("update parcel %d: %w", id, err)
		}
		return parcel, nil
	}

	if _, ok := txcontext.From(ctx); ok {
		return run(ctx, s.conn(ctx))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	parcel, err := run(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return parcel, nil
}

func (s *PostgresStore) Total(ctx context.Context) (uint64, error) {
	var minted uint64
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT minted FROM mint_counter WHERE id = 1`).Scan(&minted); err != nil {
		return 0, fmt.Errorf("read mint counter: %w", err)
	}
	return minted, nil
}

func (s *PostgresStore) CountByOwner(ctx context.Context, owner domain.Account) (int, error) {
	var count int
	if err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM parcels WHERE owner = $1`, owner.String(),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count parcels: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetApproval(ctx context.Context, owner, operator domain.Account, approved bool) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO operator_approvals (owner, operator, approved) VALUES ($1, $2, $3)
		 ON CONFLICT (owner, operator) DO UPDATE SET approved = EXCLUDED.approved`,
		owner.String(), operator.String(), approved,
	)
	if err != nil {
		return fmt.Errorf("set approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsApproved(ctx context.Context, owner, operator domain.Account) (bool, error) {
	var approved bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT approved FROM operator_approvals WHERE owner = $1 AND operator = $2`,
		owner.String(), operator.String(),
	).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check approval: %w", err)
	}
	return approved, nil
}

func (s *PostgresStore) AddApp(ctx context.Context, app domain.Account) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO registry_apps (account) VALUES ($1) ON CONFLICT DO NOTHING`,
		app.String(),
	)
	if err != nil {
		return fmt.Errorf("add app: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsApp(ctx context.Context, app domain.Account) (bool, error) {
	var one int
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM registry_apps WHERE account = $1`, app.String(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check app: %w", err)
	}
	return true, nil
}

func scanParcel(row *sql.Row) (*models.Parcel, error) {
	var (
		parcel  models.Parcel
		user    string
		expires sql.NullTime
	)
	err := row.Scan(&parcel.TokenID, &parcel.Owner, &user, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan parcel: %w", err)
	}
	parcel.User = domain.Account(user)
	if expires.Valid {
		parcel.UserExpires = expires.Time.UTC()
	} else {
		parcel.UserExpires = time.Time{}
	}
	return &parcel, nil
}
