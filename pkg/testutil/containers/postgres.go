//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema creates every table the postgres stores expect.
const schema = `
CREATE TABLE IF NOT EXISTS role_grants (
    role    TEXT NOT NULL,
    account TEXT NOT NULL,
    PRIMARY KEY (role, account)
);
CREATE TABLE IF NOT EXISTS mint_counter (
    id     INT PRIMARY KEY DEFAULT 1,
    minted BIGINT NOT NULL DEFAULT 0
);
INSERT INTO mint_counter (id, minted) VALUES (1, 0) ON CONFLICT DO NOTHING;
CREATE TABLE IF NOT EXISTS parcels (
    token_id     BIGINT PRIMARY KEY,
    owner        TEXT NOT NULL,
    land_user    TEXT NOT NULL DEFAULT '',
    user_expires TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS parcels_owner_idx ON parcels (owner);
CREATE TABLE IF NOT EXISTS operator_approvals (
    owner    TEXT NOT NULL,
    operator TEXT NOT NULL,
    approved BOOLEAN NOT NULL,
    PRIMARY KEY (owner, operator)
);
CREATE TABLE IF NOT EXISTS registry_apps (account TEXT PRIMARY KEY);
CREATE TABLE IF NOT EXISTS listings (
    token_id BIGINT PRIMARY KEY,
    seller   TEXT NOT NULL,
    price    NUMERIC(78,0),
    sellable BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS listings_seller_idx ON listings (seller);
CREATE TABLE IF NOT EXISTS price_ranges (
    start_id BIGINT NOT NULL,
    end_id   BIGINT NOT NULL,
    price    NUMERIC(78,0) NOT NULL,
    PRIMARY KEY (start_id, end_id)
);
`

// PostgresContainer wraps a testcontainers Postgres instance with the
// landgrid schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a Postgres container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("landgrid"),
		tcpostgres.WithUsername("landgrid"),
		tcpostgres.WithPassword("landgrid"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// Truncate empties every table except the mint counter, which is reset.
// Use between tests to keep them isolated.
func (p *PostgresContainer) Truncate(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx,
		`TRUNCATE role_grants, parcels, operator_approvals, registry_apps, listings, price_ranges`,
	); err != nil {
		return err
	}
	_, err := p.DB.ExecContext(ctx, `UPDATE mint_counter SET minted = 0 WHERE id = 1`)
	return err
}
