package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/albapepper/pricewise/internal/notifications"
	"github.com/albapepper/pricewise/internal/product"
	"github.com/albapepper/pricewise/internal/runlock"
	"github.com/albapepper/pricewise/internal/store"
)

const (
	DefaultTimeout = 300 * time.Second
	DefaultWorkers = 8
)

// Options tunes a Runner. Zero values take the defaults.
type Options struct {
	Workers int
	Timeout time.Duration

	// Locker, when set, rejects a run while another one is active.
	Locker runlock.Locker

	// OnComplete is called after every run that read the tracked set.
	OnComplete func(*Result)
}

// Runner executes reconciliation runs.
type Runner struct {
	fetcher  Fetcher
	store    Store
	notifier Notifier
	opts     Options
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(fetcher Fetcher, store Store, notifier Notifier, opts Options, logger *slog.Logger) *Runner {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Runner{fetcher: fetcher, store: store, notifier: notifier, opts: opts, logger: logger}
}

// outcome is what one product task produced. updated is set whenever the
// merged record was persisted, even if dispatch later failed. notified is
// set only when the sender accepted the message.
type outcome struct {
	updated  *product.TrackedProduct
	failure  *Failure
	notified bool
}

// Run performs one reconciliation pass over every tracked product.
//
// The returned error is ErrBatch when the tracked set cannot be read and
// ErrRunInProgress when the lock is held. Item failures never produce an
// error; they are listed in Result.Failures.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{RunID: uuid.NewString()}

	if r.opts.Locker != nil {
		unlock, err := r.opts.Locker.TryLock(ctx)
		if errors.Is(err, runlock.ErrLocked) {
			return nil, ErrRunInProgress
		}
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("release run lock", "run_id", result.RunID, "error", err)
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	tracked, err := r.store.FindAll(runCtx)
	if err != nil {
		result.Duration = time.Since(start)
		r.logger.Error("Reconciliation aborted", "run_id", result.RunID, "error", err)
		return result, fmt.Errorf("%w: read tracked products: %v", ErrBatch, err)
	}
	r.logger.Info("Reconciliation started", "run_id", result.RunID, "products", len(tracked))

	outcomes := make([]outcome, len(tracked))
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, p := range tracked {
		g.Go(func() error {
			outcomes[i] = r.process(runCtx, p)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.updated != nil {
			result.Updated = append(result.Updated, *o.updated)
		}
		if o.failure != nil {
			result.Failures = append(result.Failures, *o.failure)
		}
		if o.notified {
			result.Notified++
		}
	}
	result.Duration = time.Since(start)

	r.logger.Info("Reconciliation complete", "summary", result.Summary())
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(result)
	}
	return result, nil
}

// process runs the per-product pipeline. It never returns an error; every
// problem becomes the outcome's failure.
//
// The listing is merged into the record as stored at write time, not into
// the snapshot read at run start, and that stored record is what the
// classifier compares against. Observations written meanwhile by Track
// are therefore kept.
func (r *Runner) process(ctx context.Context, snapshot product.TrackedProduct) outcome {
	url := snapshot.URL
	if err := ctx.Err(); err != nil {
		return r.failed(ctx, url, StageTimeout, fmt.Errorf("not started: %w", err))
	}

	listing, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return r.failed(ctx, url, StageFetch, err)
	}

	prev, persisted, err := r.store.Upsert(ctx, url, store.AppendListing(url, listing, time.Now().UTC()))
	if err != nil {
		return r.failed(ctx, url, StagePersist, err)
	}

	out := outcome{updated: &persisted}
	ev, ok := notifications.NewEvent(prev, persisted)
	if !ok {
		return out
	}
	switch err := r.notifier.Send(ctx, ev); {
	case errors.Is(err, notifications.ErrDeliveryDisabled):
		// Logged by the dispatcher; neither delivered nor failed.
	case err != nil:
		out.failure = r.failed(ctx, url, StageDispatch, err).failure
	default:
		out.notified = true
	}
	return out
}

// failed records a failure. Any failure after the run context expired is
// reported as a timeout, whatever stage it surfaced in.
func (r *Runner) failed(ctx context.Context, url string, stage Stage, err error) outcome {
	if ctx.Err() != nil {
		stage = StageTimeout
	}
	r.logger.Warn("Product reconciliation failed", "url", url, "stage", stage, "error", err)
	return outcome{failure: &Failure{URL: url, Stage: stage, Reason: err.Error()}}
}
