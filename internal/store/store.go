// Package store persists tracked products and their watchers.
//
// Two backends share one contract: Postgres (pgx) for deployments and SQLite
// (pure Go) for local runs and tests. Upserts are keyed by product URL and
// merge against the row they lock, so concurrent writers of one product
// queue up instead of overwriting each other's observations.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/pricewise/internal/config"
	"github.com/albapepper/pricewise/internal/db"
	"github.com/albapepper/pricewise/internal/product"
)

// ErrNotFound is returned when no product matches the lookup.
var ErrNotFound = errors.New("product not found")

// Store is the storage collaborator.
type Store interface {
	// FindAll returns every tracked product with its watchers.
	FindAll(ctx context.Context) ([]product.TrackedProduct, error)
	FindByURL(ctx context.Context, url string) (product.TrackedProduct, error)
	FindByID(ctx context.Context, id int64) (product.TrackedProduct, error)

	// Upsert locks the record stored under url, hands it to merge and
	// writes the result in the same transaction. It returns the locked
	// record as it was before the write and the persisted one, both with
	// their watchers. before is the zero value when url was not stored.
	Upsert(ctx context.Context, url string, merge MergeFunc) (before, after product.TrackedProduct, err error)

	// AddWatcher subscribes email to the product at url. It reports false
	// when the address was already watching.
	AddWatcher(ctx context.Context, url, email string) (bool, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close()
}

// MergeFunc derives the record to write from the stored one. found is false
// when nothing is stored under the URL yet. It may run more than once per
// Upsert and must not have side effects.
type MergeFunc func(stored product.TrackedProduct, found bool) product.TrackedProduct

// AppendListing returns the MergeFunc that records l as a new observation:
// the first one creates the record, later ones extend its history.
func AppendListing(url string, l product.Listing, at time.Time) MergeFunc {
	return func(stored product.TrackedProduct, found bool) product.TrackedProduct {
		if !found {
			return product.New(url, l, at)
		}
		return product.Merge(stored, l, at)
	}
}

// Open connects to the backend selected by cfg.StorageDriver.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connected",
			"driver", cfg.StorageDriver,
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
		return NewPostgres(pool), nil
	case config.DriverSQLite:
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connected", "driver", cfg.StorageDriver, "path", cfg.SQLitePath)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
