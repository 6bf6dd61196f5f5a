// Package db provides a pgxpool-based connection pool with prepared statement
// registration, schema migration and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/pricewise/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool with application-specific helpers.
// Connections are acquired and released per query by pgxpool.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// Migrate applies the embedded schema. Every statement is idempotent.
// Open connections are recycled afterwards so they pick up the prepared
// statements that depend on the schema.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	p.Reset()
	return nil
}

// productColumns is the column list every product query selects, in scan order.
const productColumns = `id, url, title, currency, image, description,
	current_price, original_price, lowest_price, highest_price, average_price,
	discount_rate, in_stock, price_history, created_at, updated_at`

// registerPreparedStatements registers all statements the API and the
// reconciliation run use. Schema-dependent statements fail until Migrate has
// run, so they are only prepared when the products table exists.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Prepare(ctx, "health_check", "SELECT 1"); err != nil {
		return fmt.Errorf("prepare %q: %w", "health_check", err)
	}

	var ready bool
	if err := conn.QueryRow(ctx, "SELECT to_regclass('public."+config.WatchersTable+"') IS NOT NULL").Scan(&ready); err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	if !ready {
		return nil
	}

	stmts := map[string]string{
		// Products
		"products_all":      "SELECT " + productColumns + " FROM " + config.ProductsTable + " ORDER BY id",
		"product_by_url":    "SELECT " + productColumns + " FROM " + config.ProductsTable + " WHERE url = $1",
		"product_by_id":     "SELECT " + productColumns + " FROM " + config.ProductsTable + " WHERE id = $1",
		"product_id_by_url": "SELECT id FROM " + config.ProductsTable + " WHERE url = $1",

		// Watchers
		"watchers_all":        "SELECT product_id, email FROM " + config.WatchersTable + " ORDER BY product_id, created_at, email",
		"watchers_by_product": "SELECT email FROM " + config.WatchersTable + " WHERE product_id = $1 ORDER BY created_at, email",
		"watcher_insert":      "INSERT INTO " + config.WatchersTable + " (product_id, email) VALUES ($1, $2) ON CONFLICT DO NOTHING",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
