// Package postgres opens the lib/pq pool that backs item storage and runs
// bounded, read-only work against it.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/resilience"
)

const pingTimeout = 5 * time.Second

type Client struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// Open configures the pool from cfg and verifies it with a ping. The pool is
// closed again when the ping fails.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	c := &Client{db: db, queryTimeout: cfg.QueryTimeout}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Ping(pctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Exec runs a single statement outside a transaction under the query timeout.
// Used for schema setup.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return resilience.WithTimeout(ctx, c.queryTimeout, "postgres exec", func(ctx context.Context) error {
		_, err := c.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Read runs fn in a read-only repeatable-read transaction bounded by the
// query timeout. The transaction is always rolled back: it never writes.
func (c *Client) Read(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return resilience.WithTimeout(ctx, c.queryTimeout, op, func(ctx context.Context) error {
		tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
		if err != nil {
			return fmt.Errorf("beginning read transaction: %w", err)
		}
		defer tx.Rollback()
		return fn(ctx, tx)
	})
}

// PoolStats exposes connection pool counters for logging.
func (c *Client) PoolStats() sql.DBStats {
	return c.db.Stats()
}
