package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/pricewise/internal/config"
	"github.com/albapepper/pricewise/internal/db"
	"github.com/albapepper/pricewise/internal/product"
)

// Postgres stores products in Postgres through the shared pool.
type Postgres struct {
	pool *db.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

const pgProductColumns = `id, url, title, currency, image, description,
	current_price, original_price, lowest_price, highest_price, average_price,
	discount_rate, in_stock, price_history, created_at, updated_at`

const lockProductSQL = `SELECT ` + pgProductColumns + ` FROM ` + config.ProductsTable + ` WHERE url = $1 FOR UPDATE`

// insertProductSQL yields no row when a concurrent transaction inserted the
// same url first.
const insertProductSQL = `
	INSERT INTO ` + config.ProductsTable + ` (
		url, title, currency, image, description,
		current_price, original_price, lowest_price, highest_price, average_price,
		discount_rate, in_stock, price_history, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (url) DO NOTHING
	RETURNING ` + pgProductColumns

const updateProductSQL = `
	UPDATE ` + config.ProductsTable + ` SET
		title = $2,
		currency = $3,
		image = $4,
		description = $5,
		current_price = $6,
		original_price = $7,
		lowest_price = $8,
		highest_price = $9,
		average_price = $10,
		discount_rate = $11,
		in_stock = $12,
		price_history = $13,
		updated_at = $14
	WHERE id = $1
	RETURNING ` + pgProductColumns

// FindAll returns every product with its watchers.
func (s *Postgres) FindAll(ctx context.Context) ([]product.TrackedProduct, error) {
	rows, err := s.pool.Query(ctx, "products_all")
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []product.TrackedProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	watchers, err := s.allWatchers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Watchers = watchers[products[i].ID]
	}
	return products, nil
}

// FindByURL returns the product stored under url.
func (s *Postgres) FindByURL(ctx context.Context, url string) (product.TrackedProduct, error) {
	return s.findOne(ctx, "product_by_url", url)
}

// FindByID returns the product with the given id.
func (s *Postgres) FindByID(ctx context.Context, id int64) (product.TrackedProduct, error) {
	return s.findOne(ctx, "product_by_id", id)
}

func (s *Postgres) findOne(ctx context.Context, stmt string, key any) (product.TrackedProduct, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, stmt, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.TrackedProduct{}, ErrNotFound
		}
		return product.TrackedProduct{}, err
	}
	p.Watchers, err = productWatchers(ctx, s.pool, p.ID)
	if err != nil {
		return product.TrackedProduct{}, err
	}
	return p, nil
}

// Upsert merges into the row stored under url while holding its row lock,
// so a concurrent Upsert of the same url waits and then merges on top of
// this one. The transaction is bound to ctx and rolls back if ctx ends first.
func (s *Postgres) Upsert(ctx context.Context, url string, merge MergeFunc) (before, after product.TrackedProduct, err error) {
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		stored, found, err := lockProduct(ctx, tx, url)
		if err != nil {
			return err
		}
		if !found {
			after, err = insertProduct(ctx, tx, url, merge(product.TrackedProduct{}, false))
			switch {
			case err == nil:
				after.Watchers, err = productWatchers(ctx, tx, after.ID)
				return err
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}
			// Lost the insert race; the winner's row is committed and lockable now.
			if stored, found, err = lockProduct(ctx, tx, url); err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("lock product %s: %w", url, ErrNotFound)
			}
		}

		before = stored
		next := merge(stored, true)
		history, err := json.Marshal(nonNilHistory(next.PriceHistory))
		if err != nil {
			return fmt.Errorf("encode price history: %w", err)
		}
		after, err = scanProduct(tx.QueryRow(ctx, updateProductSQL,
			stored.ID, next.Title, next.Currency, next.Image, next.Description,
			next.CurrentPrice, next.OriginalPrice, next.LowestPrice, next.HighestPrice, next.AveragePrice,
			next.DiscountRate, next.InStock, history, orNow(next.UpdatedAt, time.Now().UTC()),
		))
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		after.Watchers, err = productWatchers(ctx, tx, after.ID)
		return err
	})
	if err != nil {
		return product.TrackedProduct{}, product.TrackedProduct{}, err
	}
	return before, after, nil
}

// AddWatcher subscribes email to the product at url.
func (s *Postgres) AddWatcher(ctx context.Context, url, email string) (bool, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, "product_id_by_url", url).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("lookup product: %w", err)
	}
	tag, err := s.pool.Exec(ctx, "watcher_insert", id, email)
	if err != nil {
		return false, fmt.Errorf("insert watcher: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping verifies connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.HealthCheck(ctx)
}

// Migrate applies the schema.
func (s *Postgres) Migrate(ctx context.Context) error {
	return s.pool.Migrate(ctx)
}

// Close releases every pooled connection.
func (s *Postgres) Close() {
	s.pool.Close()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func productWatchers(ctx context.Context, q querier, productID int64) ([]product.Watcher, error) {
	rows, err := q.Query(ctx, "watchers_by_product", productID)
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	defer rows.Close()

	var watchers []product.Watcher
	for rows.Next() {
		var w product.Watcher
		if err := rows.Scan(&w.Email); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		watchers = append(watchers, w)
	}
	return watchers, rows.Err()
}

func (s *Postgres) allWatchers(ctx context.Context) (map[int64][]product.Watcher, error) {
	rows, err := s.pool.Query(ctx, "watchers_all")
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]product.Watcher)
	for rows.Next() {
		var id int64
		var w product.Watcher
		if err := rows.Scan(&id, &w.Email); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		out[id] = append(out[id], w)
	}
	return out, rows.Err()
}

// lockProduct reads the row stored under url with FOR UPDATE.
func lockProduct(ctx context.Context, tx pgx.Tx, url string) (product.TrackedProduct, bool, error) {
	p, err := scanProduct(tx.QueryRow(ctx, lockProductSQL, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return product.TrackedProduct{}, false, nil
	}
	if err != nil {
		return product.TrackedProduct{}, false, fmt.Errorf("lock product: %w", err)
	}
	if p.Watchers, err = productWatchers(ctx, tx, p.ID); err != nil {
		return product.TrackedProduct{}, false, err
	}
	return p, true, nil
}

// insertProduct returns pgx.ErrNoRows when url already exists.
func insertProduct(ctx context.Context, tx pgx.Tx, url string, p product.TrackedProduct) (product.TrackedProduct, error) {
	history, err := json.Marshal(nonNilHistory(p.PriceHistory))
	if err != nil {
		return product.TrackedProduct{}, fmt.Errorf("encode price history: %w", err)
	}
	now := time.Now().UTC()
	out, err := scanProduct(tx.QueryRow(ctx, insertProductSQL,
		url, p.Title, p.Currency, p.Image, p.Description,
		p.CurrentPrice, p.OriginalPrice, p.LowestPrice, p.HighestPrice, p.AveragePrice,
		p.DiscountRate, p.InStock, history, orNow(p.CreatedAt, now), orNow(p.UpdatedAt, now),
	))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return product.TrackedProduct{}, fmt.Errorf("insert product: %w", err)
	}
	return out, err
}

func scanProduct(row pgx.Row) (product.TrackedProduct, error) {
	var p product.TrackedProduct
	var history []byte
	err := row.Scan(
		&p.ID, &p.URL, &p.Title, &p.Currency, &p.Image, &p.Description,
		&p.CurrentPrice, &p.OriginalPrice, &p.LowestPrice, &p.HighestPrice, &p.AveragePrice,
		&p.DiscountRate, &p.InStock, &history, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return product.TrackedProduct{}, err
	}
	if err := json.Unmarshal(history, &p.PriceHistory); err != nil {
		return product.TrackedProduct{}, fmt.Errorf("decode price history of %s: %w", p.URL, err)
	}
	return p, nil
}

func nonNilHistory(h []product.PriceObservation) []product.PriceObservation {
	if h == nil {
		return []product.PriceObservation{}
	}
	return h
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
