package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/albapepper/pricewise/internal/notifications"
	"github.com/albapepper/pricewise/internal/product"
	"github.com/albapepper/pricewise/internal/store"
)

// ErrInvalidEmail is returned by Watch for an unparsable address.
var ErrInvalidEmail = errors.New("invalid email address")

// TrackStore is the storage the Tracker needs.
type TrackStore interface {
	Store
	FindByURL(ctx context.Context, url string) (product.TrackedProduct, error)
	AddWatcher(ctx context.Context, url, email string) (bool, error)
}

// Welcomer greets new watchers.
type Welcomer interface {
	SendWelcome(ctx context.Context, s notifications.Summary, email string) error
}

// Tracker adds products and watchers outside of scheduled runs.
type Tracker struct {
	fetcher  Fetcher
	store    TrackStore
	welcomer Welcomer
	logger   *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(fetcher Fetcher, store TrackStore, welcomer Welcomer, logger *slog.Logger) *Tracker {
	return &Tracker{fetcher: fetcher, store: store, welcomer: welcomer, logger: logger}
}

// Track fetches url and stores it, creating the record on first sight and
// appending to the stored history otherwise.
func (t *Tracker) Track(ctx context.Context, url string) (product.TrackedProduct, error) {
	url = strings.TrimSpace(url)
	listing, err := t.fetcher.Fetch(ctx, url)
	if err != nil {
		return product.TrackedProduct{}, fmt.Errorf("fetch %s: %w", url, err)
	}

	_, saved, err := t.store.Upsert(ctx, url, store.AppendListing(url, listing, time.Now().UTC()))
	if err != nil {
		return product.TrackedProduct{}, fmt.Errorf("save %s: %w", url, err)
	}
	t.logger.Info("Product tracked", "url", url, "id", saved.ID, "price", saved.CurrentPrice)
	return saved, nil
}

// Watch subscribes email to url, tracking the product first if needed.
// A new subscription receives the welcome email; a delivery failure is
// logged and does not undo the subscription. The bool reports whether
// the subscription is new.
func (t *Tracker) Watch(ctx context.Context, url, email string) (product.TrackedProduct, bool, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return product.TrackedProduct{}, false, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	email = strings.ToLower(addr.Address)
	url = strings.TrimSpace(url)

	if _, err := t.store.FindByURL(ctx, url); errors.Is(err, store.ErrNotFound) {
		if _, err := t.Track(ctx, url); err != nil {
			return product.TrackedProduct{}, false, err
		}
	} else if err != nil {
		return product.TrackedProduct{}, false, fmt.Errorf("lookup %s: %w", url, err)
	}

	added, err := t.store.AddWatcher(ctx, url, email)
	if err != nil {
		return product.TrackedProduct{}, false, fmt.Errorf("add watcher to %s: %w", url, err)
	}

	p, err := t.store.FindByURL(ctx, url)
	if err != nil {
		return product.TrackedProduct{}, false, fmt.Errorf("reload %s: %w", url, err)
	}

	if added {
		t.logger.Info("Watcher added", "url", url, "id", p.ID)
		err := t.welcomer.SendWelcome(ctx, notifications.SummaryOf(p), email)
		if err != nil && !errors.Is(err, notifications.ErrDeliveryDisabled) {
			t.logger.Warn("welcome email failed", "url", url, "error", err)
		}
	}
	return p, added, nil
}
