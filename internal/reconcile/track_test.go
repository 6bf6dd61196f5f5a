package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTrackNewAndExisting(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	f := &fakeFetcher{}
	f.setPrice("https://shop.example/p/1", "50", true)
	tr := NewTracker(f, st, &fakeNotifier{}, discardLogger())

	p, err := tr.Track(ctx, " https://shop.example/p/1 ")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if p.ID == 0 || p.URL != "https://shop.example/p/1" || len(p.PriceHistory) != 1 {
		t.Fatalf("tracked = %+v", p)
	}

	f.setPrice("https://shop.example/p/1", "40", true)
	p, err = tr.Track(ctx, "https://shop.example/p/1")
	if err != nil {
		t.Fatalf("second Track: %v", err)
	}
	if len(p.PriceHistory) != 2 || !p.LowestPrice.Equal(decimal.NewFromInt(40)) {
		t.Errorf("re-track did not merge: %+v", p)
	}
	if len(st.order) != 1 {
		t.Errorf("stored %d products, want 1", len(st.order))
	}
}

func TestTrackFetchFailure(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{"u": errors.New("404")}}
	st := newMemStore()
	if _, err := NewTracker(f, st, &fakeNotifier{}, discardLogger()).Track(context.Background(), "u"); err == nil {
		t.Fatal("expected error")
	}
	if len(st.order) != 0 {
		t.Error("product stored despite failed fetch")
	}
}

func TestWatchSendsWelcomeOnce(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	f := &fakeFetcher{}
	f.setPrice("u", "10", true)
	n := &fakeNotifier{}
	tr := NewTracker(f, st, n, discardLogger())

	p, added, err := tr.Watch(ctx, "u", "Ann <Ann@Example.com>")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if !added || !p.HasWatcher("ann@example.com") {
		t.Fatalf("watch result = %+v, added=%v", p.Watchers, added)
	}
	if len(n.welcomes) != 1 || n.welcomes[0] != "ann@example.com" {
		t.Errorf("welcomes = %v", n.welcomes)
	}

	_, added, err = tr.Watch(ctx, "u", "ann@example.com")
	if err != nil {
		t.Fatalf("repeat Watch: %v", err)
	}
	if added || len(n.welcomes) != 1 {
		t.Errorf("repeat subscription: added=%v welcomes=%v", added, n.welcomes)
	}
}

func TestWatchWelcomeFailureKeepsSubscription(t *testing.T) {
	st := newMemStore()
	f := &fakeFetcher{}
	f.setPrice("u", "10", true)
	n := &fakeNotifier{failFor: map[string]bool{"u": true}}

	p, added, err := NewTracker(f, st, n, discardLogger()).Watch(context.Background(), "u", "a@example.com")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if !added || !p.HasWatcher("a@example.com") {
		t.Errorf("subscription lost: %+v", p.Watchers)
	}
}

func TestWatchInvalidEmail(t *testing.T) {
	tr := NewTracker(&fakeFetcher{}, newMemStore(), &fakeNotifier{}, discardLogger())
	if _, _, err := tr.Watch(context.Background(), "u", "not-an-address"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("err = %v, want ErrInvalidEmail", err)
	}
}
