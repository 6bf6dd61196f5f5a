// Package reconcile refreshes every tracked product against its live listing,
// persists the merged record and alerts watchers of price movements.
//
// One run reads the tracked set once, then processes each product as an
// independent task: fetch, merge, persist, classify, dispatch. A failing
// product is recorded and never stops the others.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/albapepper/pricewise/internal/notifications"
	"github.com/albapepper/pricewise/internal/product"
	"github.com/albapepper/pricewise/internal/store"
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// Fetcher retrieves the current listing of a product page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (product.Listing, error)
}

// Store is the storage a run reads from and writes to. Upsert merges
// against the stored record under its lock and returns it as before.
type Store interface {
	FindAll(ctx context.Context) ([]product.TrackedProduct, error)
	Upsert(ctx context.Context, url string, merge store.MergeFunc) (before, after product.TrackedProduct, err error)
}

// Notifier delivers one classified event.
type Notifier interface {
	Send(ctx context.Context, ev notifications.Event) error
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrBatch means the tracked set could not be read; nothing was processed.
	ErrBatch = errors.New("reconciliation batch failed")

	// ErrRunInProgress means another run holds the run lock.
	ErrRunInProgress = errors.New("reconciliation already running")
)

// --------------------------------------------------------------------------
// Result types
// --------------------------------------------------------------------------

// Stage is where a product's processing stopped.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StagePersist  Stage = "persist"
	StageDispatch Stage = "dispatch"
	StageTimeout  Stage = "timeout"
)

// Failure is one product that did not complete cleanly.
type Failure struct {
	URL    string `json:"url"`
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// Result is the outcome of one run. Notified counts messages the sender
// accepted; events logged while email is disabled are not included.
type Result struct {
	RunID    string
	Updated  []product.TrackedProduct
	Failures []Failure
	Notified int
	Duration time.Duration
}

// Summary returns a human-readable summary.
func (r *Result) Summary() string {
	return fmt.Sprintf("run=%s updated=%d notified=%d failed=%d dur=%s",
		r.RunID, len(r.Updated), r.Notified, len(r.Failures), r.Duration.Round(time.Millisecond))
}
