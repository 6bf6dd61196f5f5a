package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/albapepper/pricewise/internal/product"
)

const testURL = "https://www.amazon.com/dp/B0TEST0001"

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "pricewise.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testListing(price string) product.Listing {
	return product.Listing{
		URL:          testURL,
		Title:        "Acme Kettle",
		Currency:     "$",
		CurrentPrice: decimal.RequireFromString(price),
		InStock:      true,
	}
}

func TestSQLiteUpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	before, first, err := s.Upsert(ctx, testURL, AppendListing(testURL, testListing("49.99"), at))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected an assigned id")
	}
	if before.ID != 0 {
		t.Errorf("before = %+v, want zero value for a new url", before)
	}
	if !first.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", first.CreatedAt, at)
	}

	before, second, err := s.Upsert(ctx, testURL, AppendListing(testURL, testListing("39.99"), at.Add(time.Hour)))
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if before.ID != first.ID || len(before.PriceHistory) != 1 {
		t.Errorf("before = id %d, %d observations; want the stored record", before.ID, len(before.PriceHistory))
	}
	if second.ID != first.ID {
		t.Errorf("id changed: %d -> %d", first.ID, second.ID)
	}
	if len(second.PriceHistory) != 2 {
		t.Fatalf("history len = %d, want 2", len(second.PriceHistory))
	}
	if !second.LowestPrice.Equal(decimal.RequireFromString("39.99")) {
		t.Errorf("lowest = %s", second.LowestPrice)
	}
	if !second.AveragePrice.Equal(decimal.RequireFromString("44.99")) {
		t.Errorf("average = %s", second.AveragePrice)
	}
	if !second.CreatedAt.Equal(at) {
		t.Errorf("created_at rewritten: %v", second.CreatedAt)
	}

	byURL, err := s.FindByURL(ctx, testURL)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if !byURL.CurrentPrice.Equal(second.CurrentPrice) || byURL.Title != "Acme Kettle" {
		t.Errorf("FindByURL = %+v", byURL)
	}
	byID, err := s.FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if byID.URL != testURL {
		t.Errorf("FindByID url = %q", byID.URL)
	}
}

func TestSQLiteWatchers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.AddWatcher(ctx, testURL, "a@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddWatcher on unknown url: err = %v, want ErrNotFound", err)
	}

	if _, _, err := s.Upsert(ctx, testURL, AppendListing(testURL, testListing("10"), time.Now())); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	for _, email := range []string{"b@example.com", "a@example.com"} {
		added, err := s.AddWatcher(ctx, testURL, email)
		if err != nil || !added {
			t.Fatalf("AddWatcher(%s) = %v, %v", email, added, err)
		}
	}
	added, err := s.AddWatcher(ctx, testURL, "a@example.com")
	if err != nil || added {
		t.Fatalf("duplicate AddWatcher = %v, %v; want false, nil", added, err)
	}

	p, err := s.FindByURL(ctx, testURL)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	got := p.Emails()
	if len(got) != 2 || got[0] != "b@example.com" || got[1] != "a@example.com" {
		t.Errorf("watchers = %v, want subscription order", got)
	}

	// Upsert must report the watcher set it sees.
	before, updated, err := s.Upsert(ctx, testURL, AppendListing(testURL, testListing("9"), time.Now()))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(updated.Watchers) != 2 || len(before.Watchers) != 2 {
		t.Errorf("upsert watchers = %v, before = %v", updated.Emails(), before.Emails())
	}
	if len(p.Watchers) != 2 {
		t.Errorf("watchers = %v", p.Emails())
	}
}

func TestSQLiteFindAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	all, err := s.FindAll(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("FindAll on empty store = %v, %v", all, err)
	}

	urls := []string{testURL, testURL + "2", testURL + "3"}
	for _, u := range urls {
		l := testListing("5")
		l.URL = u
		if _, _, err := s.Upsert(ctx, u, AppendListing(u, l, time.Now())); err != nil {
			t.Fatalf("Upsert(%s): %v", u, err)
		}
	}
	if _, err := s.AddWatcher(ctx, urls[1], "w@example.com"); err != nil {
		t.Fatalf("AddWatcher: %v", err)
	}

	all, err = s.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(all) != len(urls) {
		t.Fatalf("FindAll len = %d, want %d", len(all), len(urls))
	}
	for i, p := range all {
		if p.URL != urls[i] {
			t.Errorf("all[%d].URL = %q, want %q", i, p.URL, urls[i])
		}
	}
	if !all[1].HasWatcher("w@example.com") || len(all[0].Watchers) != 0 {
		t.Errorf("watchers not attached to the right product: %+v", all)
	}
}

func TestSQLiteNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.FindByID(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByID err = %v, want ErrNotFound", err)
	}
	if _, err := s.FindByURL(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByURL err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteUpsertCancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Upsert(ctx, testURL, AppendListing(testURL, testListing("1"), time.Now())); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := s.FindByURL(context.Background(), testURL); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancelled upsert left a row behind: %v", err)
	}
}

func TestSQLiteConcurrentUpsertsKeepEveryObservation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	const writers = 12
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := testListing(decimal.NewFromInt(int64(100 + i)).String())
			if _, _, err := s.Upsert(ctx, testURL, AppendListing(testURL, l, start.Add(time.Duration(i)*time.Minute))); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Upsert: %v", err)
	}

	p, err := s.FindByURL(ctx, testURL)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if len(p.PriceHistory) != writers {
		t.Fatalf("history len = %d, want %d", len(p.PriceHistory), writers)
	}
	if !p.LowestPrice.Equal(decimal.NewFromInt(100)) || !p.HighestPrice.Equal(decimal.NewFromInt(100+writers-1)) {
		t.Errorf("stats = %s..%s, not rebuilt from the full history", p.LowestPrice, p.HighestPrice)
	}
}

func TestSQLiteUpsertMergesAgainstStoredRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, _, err := s.Upsert(ctx, testURL, AppendListing(testURL, testListing("100"), at)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stale, err := s.FindByURL(ctx, testURL)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if _, _, err := s.Upsert(ctx, testURL, AppendListing(testURL, testListing("80"), at.Add(time.Hour))); err != nil {
		t.Fatalf("second writer: %v", err)
	}

	// A writer holding the stale snapshot still merges on top of the stored row.
	var seen product.TrackedProduct
	_, after, err := s.Upsert(ctx, testURL, func(stored product.TrackedProduct, found bool) product.TrackedProduct {
		seen = stored
		return product.Merge(stored, testListing("90"), at.Add(2*time.Hour))
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(stale.PriceHistory) != 1 || len(seen.PriceHistory) != 2 {
		t.Errorf("merge saw %d observations, want the stored 2", len(seen.PriceHistory))
	}
	var got []string
	for _, o := range after.PriceHistory {
		got = append(got, o.Price.String())
	}
	if len(got) != 3 || got[0] != "100" || got[1] != "80" || got[2] != "90" {
		t.Errorf("history = %v, want [100 80 90]", got)
	}
}
