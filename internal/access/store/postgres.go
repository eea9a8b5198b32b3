package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"landgrid/internal/access/models"
	"landgrid/pkg/domain"
	txcontext "landgrid/pkg/platform/tx"
)

// PostgresStore persists role grants in the role_grants table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Grant(ctx context.Context, role models.Role, account domain.Account) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO role_grants (role, account) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		string(role), account.String(),
	)
	if err != nil {
		return false, fmt.Errorf("grant role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, role models.Role, account domain.Account) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM role_grants WHERE role = $1 AND account = $2`,
		string(role), account.String(),
	)
	if err != nil {
		return false, fmt.Errorf("revoke role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Has(ctx context.Context, role models.Role, account domain.Account) (bool, error) {
	var one int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM role_grants WHERE role = $1 AND account = $2`,
		string(role), account.String(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check role: %w", err)
	}
	return true, nil
}
