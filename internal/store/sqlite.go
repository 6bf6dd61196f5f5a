package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/albapepper/pricewise/internal/product"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// Fixed width so stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteProductColumns = `id, url, title, currency, image, description,
	current_price, original_price, lowest_price, highest_price, average_price,
	discount_rate, in_stock, price_history, created_at, updated_at`

// SQLite stores products in a single SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; concurrent callers queue on the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema.
func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// FindAll returns every product with its watchers, ordered by id.
func (s *SQLite) FindAll(ctx context.Context) ([]product.TrackedProduct, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteProductColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	var products []product.TrackedProduct
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		products = append(products, p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	wrows, err := s.db.QueryContext(ctx, `SELECT product_id, email FROM product_watchers ORDER BY product_id, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	defer wrows.Close()

	watchers := make(map[int64][]product.Watcher)
	for wrows.Next() {
		var id int64
		var w product.Watcher
		if err := wrows.Scan(&id, &w.Email); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		watchers[id] = append(watchers[id], w)
	}
	if err := wrows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchers: %w", err)
	}
	for i := range products {
		products[i].Watchers = watchers[products[i].ID]
	}
	return products, nil
}

// FindByURL returns the product stored under url.
func (s *SQLite) FindByURL(ctx context.Context, url string) (product.TrackedProduct, error) {
	return findSQLite(ctx, s.db, `url = ?`, url)
}

// FindByID returns the product with the given id.
func (s *SQLite) FindByID(ctx context.Context, id int64) (product.TrackedProduct, error) {
	return findSQLite(ctx, s.db, `id = ?`, id)
}

// Upsert merges into the row stored under url. The single connection keeps
// the transaction exclusive, so the read and the write cannot interleave
// with another writer.
func (s *SQLite) Upsert(ctx context.Context, url string, merge MergeFunc) (before, after product.TrackedProduct, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return product.TrackedProduct{}, product.TrackedProduct{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stored, err := findSQLite(ctx, tx, `url = ?`, url)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return product.TrackedProduct{}, product.TrackedProduct{}, err
	}
	next := merge(stored, found)

	history, err := json.Marshal(nonNilHistory(next.PriceHistory))
	if err != nil {
		return product.TrackedProduct{}, product.TrackedProduct{}, fmt.Errorf("encode price history: %w", err)
	}
	now := time.Now().UTC()

	id := stored.ID
	if found {
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET
				title = ?, currency = ?, image = ?, description = ?,
				current_price = ?, original_price = ?, lowest_price = ?,
				highest_price = ?, average_price = ?, discount_rate = ?,
				in_stock = ?, price_history = ?, updated_at = ?
			WHERE id = ?`,
			next.Title, next.Currency, next.Image, next.Description,
			next.CurrentPrice.String(), next.OriginalPrice.String(), next.LowestPrice.String(),
			next.HighestPrice.String(), next.AveragePrice.String(), next.DiscountRate.String(),
			next.InStock, string(history), formatTime(orNow(next.UpdatedAt, now)),
			id,
		)
		if err != nil {
			return product.TrackedProduct{}, product.TrackedProduct{}, fmt.Errorf("update product: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO products (
				url, title, currency, image, description,
				current_price, original_price, lowest_price, highest_price, average_price,
				discount_rate, in_stock, price_history, created_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			RETURNING id`,
			url, next.Title, next.Currency, next.Image, next.Description,
			next.CurrentPrice.String(), next.OriginalPrice.String(), next.LowestPrice.String(),
			next.HighestPrice.String(), next.AveragePrice.String(), next.DiscountRate.String(),
			next.InStock, string(history),
			formatTime(orNow(next.CreatedAt, now)), formatTime(orNow(next.UpdatedAt, now)),
		).Scan(&id)
		if err != nil {
			return product.TrackedProduct{}, product.TrackedProduct{}, fmt.Errorf("insert product: %w", err)
		}
	}

	after, err = findSQLite(ctx, tx, `id = ?`, id)
	if err != nil {
		return product.TrackedProduct{}, product.TrackedProduct{}, err
	}
	if err := tx.Commit(); err != nil {
		return product.TrackedProduct{}, product.TrackedProduct{}, fmt.Errorf("commit: %w", err)
	}
	return stored, after, nil
}

// AddWatcher subscribes email to the product at url.
func (s *SQLite) AddWatcher(ctx context.Context, url, email string) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM products WHERE url = ?`, url).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lookup product: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO product_watchers (product_id, email, created_at) VALUES (?,?,?)
		 ON CONFLICT DO NOTHING`,
		id, email, formatTime(time.Now().UTC()))
	if err != nil {
		return false, fmt.Errorf("insert watcher: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping verifies the database file is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func findSQLite(ctx context.Context, q sqlQuerier, where string, key any) (product.TrackedProduct, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteProductColumns+` FROM products WHERE `+where, key)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return product.TrackedProduct{}, ErrNotFound
	}
	if err != nil {
		return product.TrackedProduct{}, err
	}

	rows, err := q.QueryContext(ctx, `SELECT email FROM product_watchers WHERE product_id = ? ORDER BY rowid`, p.ID)
	if err != nil {
		return product.TrackedProduct{}, fmt.Errorf("query watchers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var w product.Watcher
		if err := rows.Scan(&w.Email); err != nil {
			return product.TrackedProduct{}, fmt.Errorf("scan watcher: %w", err)
		}
		p.Watchers = append(p.Watchers, w)
	}
	return p, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProduct(row rowScanner) (product.TrackedProduct, error) {
	var (
		p                product.TrackedProduct
		history          string
		created, updated string
	)
	err := row.Scan(
		&p.ID, &p.URL, &p.Title, &p.Currency, &p.Image, &p.Description,
		&p.CurrentPrice, &p.OriginalPrice, &p.LowestPrice, &p.HighestPrice, &p.AveragePrice,
		&p.DiscountRate, &p.InStock, &history, &created, &updated,
	)
	if err != nil {
		return product.TrackedProduct{}, err
	}
	if err := json.Unmarshal([]byte(history), &p.PriceHistory); err != nil {
		return product.TrackedProduct{}, fmt.Errorf("decode price history of %s: %w", p.URL, err)
	}
	if p.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
		return product.TrackedProduct{}, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(sqliteTimeLayout, updated); err != nil {
		return product.TrackedProduct{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}
