// Package postgres implements the relational stores on pgx. All completion
// state lives here; the ClickHouse journal only mirrors events.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the shared connection pool handed to every store constructor.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects and pings, so a bad DSN fails at startup rather than on
// the first completion.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

func (p *Pool) Close() {
	p.Pool.Close()
}

// isUniqueViolation reports whether err is a unique constraint violation
// (SQLSTATE 23505). Stores map it to their own duplicate sentinel.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// currentTxID returns the id of the transaction tx runs in. Recorded in the
// audit row so an applied mutation can be traced back to its commit.
func currentTxID(ctx context.Context, tx pgx.Tx) (string, error) {
	var txID string
	if err := tx.QueryRow(ctx, `SELECT txid_current()::text`).Scan(&txID); err != nil {
		return "", fmt.Errorf("read transaction id: %w", err)
	}
	return txID, nil
}
