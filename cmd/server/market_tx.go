package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "landgrid/pkg/domain-errors"
	txcontext "landgrid/pkg/platform/tx"
)

const defaultMarketTxTimeout = 5 * time.Second

// marketPostgresTx runs marketplace mutations inside one database
// transaction. The transaction rides the context, so every store call made
// by the settlement engine within fn shares it.
type marketPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newMarketPostgresTx(db *sql.DB) *marketPostgresTx {
	return &marketPostgresTx{db: db}
}

func (t *marketPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultMarketTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
