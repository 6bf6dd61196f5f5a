package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/albapepper/pricewise/internal/api/handler"
	"github.com/albapepper/pricewise/internal/cache"
	"github.com/albapepper/pricewise/internal/config"
	"github.com/albapepper/pricewise/internal/product"
	"github.com/albapepper/pricewise/internal/reconcile"
	"github.com/albapepper/pricewise/internal/scraper"
	"github.com/albapepper/pricewise/internal/store"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeProducts struct {
	mu      sync.Mutex
	items   []product.TrackedProduct
	reads   int
	pingErr error
}

func (f *fakeProducts) FindAll(context.Context) ([]product.TrackedProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return append([]product.TrackedProduct(nil), f.items...), nil
}

func (f *fakeProducts) FindByID(_ context.Context, id int64) (product.TrackedProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	for _, p := range f.items {
		if p.ID == id {
			return p, nil
		}
	}
	return product.TrackedProduct{}, store.ErrNotFound
}

func (f *fakeProducts) Ping(context.Context) error { return f.pingErr }

type fakeRunner struct {
	res   *reconcile.Result
	err   error
	calls int
}

func (f *fakeRunner) Run(context.Context) (*reconcile.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeTracker struct {
	products *fakeProducts
	trackErr error
	watched  map[string]bool
}

func (f *fakeTracker) Track(_ context.Context, url string) (product.TrackedProduct, error) {
	if f.trackErr != nil {
		return product.TrackedProduct{}, f.trackErr
	}
	p := sampleProduct(int64(len(f.products.items)+1), url)
	f.products.mu.Lock()
	f.products.items = append(f.products.items, p)
	f.products.mu.Unlock()
	return p, nil
}

func (f *fakeTracker) Watch(_ context.Context, url, email string) (product.TrackedProduct, bool, error) {
	if !strings.Contains(email, "@") {
		return product.TrackedProduct{}, false, reconcile.ErrInvalidEmail
	}
	if f.watched == nil {
		f.watched = map[string]bool{}
	}
	key := url + "|" + email
	added := !f.watched[key]
	f.watched[key] = true

	f.products.mu.Lock()
	defer f.products.mu.Unlock()
	for i, p := range f.products.items {
		if p.URL == url {
			if added {
				p.Watchers = append(p.Watchers, product.Watcher{Email: email})
				f.products.items[i] = p
			}
			return p, added, nil
		}
	}
	return product.TrackedProduct{}, false, store.ErrNotFound
}

func sampleProduct(id int64, url string) product.TrackedProduct {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	p := product.New(url, product.Listing{
		Title:        "Acme Blender",
		Currency:     "$",
		CurrentPrice: decimal.RequireFromString("59.99"),
		InStock:      true,
	}, at)
	p.ID = id
	return p
}

type testEnv struct {
	srv      *httptest.Server
	products *fakeProducts
	runner   *fakeRunner
	tracker  *fakeTracker
	cache    *cache.Cache
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	products := &fakeProducts{items: []product.TrackedProduct{sampleProduct(1, "https://shop.example/dp/1")}}
	products.items[0].Watchers = []product.Watcher{{Email: "secret@example.com"}}
	env := &testEnv{
		products: products,
		runner: &fakeRunner{res: &reconcile.Result{
			RunID:    "run-1",
			Updated:  []product.TrackedProduct{products.items[0]},
			Failures: []reconcile.Failure{{URL: "https://shop.example/dp/2", Stage: reconcile.StageFetch, Reason: "timeout"}},
			Notified: 1,
			Duration: 1500 * time.Millisecond,
		}},
		tracker: &fakeTracker{products: products},
		cache:   cache.New(true),
	}

	cfg := &config.Config{
		CORSAllowOrigins:  []string{"http://localhost:3000"},
		RateLimitEnabled:  false,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		CronSecret:        "s3cret",
	}
	if mutate != nil {
		mutate(cfg)
	}

	router := NewRouter(handler.Deps{
		Products: env.products,
		Runner:   env.runner,
		Tracker:  env.tracker,
		Cache:    env.cache,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),

		AllowedHosts: []string{"shop.example"},
	}, cfg)
	env.srv = httptest.NewServer(router)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// --------------------------------------------------------------------------
// Trigger
// --------------------------------------------------------------------------

func TestCronRequiresSecret(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, auth := range []string{"", "Bearer wrong", "s3cret"} {
		resp := env.do(t, http.MethodGet, "/api/v1/cron", "", map[string]string{"Authorization": auth})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, resp.StatusCode)
		}
	}
	if env.runner.calls != 0 {
		t.Errorf("runner called %d times without auth", env.runner.calls)
	}
}

func TestCronRunSummary(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/cron", "", map[string]string{"Authorization": "Bearer s3cret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[handler.RunResponse](t, resp)
	if body.RunID != "run-1" || body.UpdatedCount != 1 || body.NotifiedCount != 1 || body.DurationMS != 1500 {
		t.Errorf("body = %+v", body)
	}
	if len(body.Failures) != 1 || body.Failures[0].Stage != reconcile.StageFetch {
		t.Errorf("failures = %+v", body.Failures)
	}
}

func TestCronOpenWithoutSecret(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.CronSecret = "" })
	resp := env.do(t, http.MethodGet, "/api/v1/cron", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCronErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: connection refused", reconcile.ErrBatch), http.StatusInternalServerError},
		{reconcile.ErrRunInProgress, http.StatusConflict},
	}
	for _, tt := range tests {
		env := newTestEnv(t, nil)
		env.runner.res, env.runner.err = nil, tt.err
		resp := env.do(t, http.MethodGet, "/api/v1/cron", "", map[string]string{"Authorization": "Bearer s3cret"})
		if resp.StatusCode != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, resp.StatusCode, tt.want)
		}
	}
}

// --------------------------------------------------------------------------
// Products
// --------------------------------------------------------------------------

func TestListProductsCachedWithETag(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/products", "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Cache") != "MISS" {
		t.Fatalf("first: status = %d, X-Cache = %q", resp.StatusCode, resp.Header.Get("X-Cache"))
	}
	etag := resp.Header.Get("ETag")
	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "secret@example.com") {
		t.Error("watcher address leaked in product list")
	}
	var views []map[string]any
	if err := json.Unmarshal(raw, &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0]["watcher_count"] != float64(1) {
		t.Errorf("views = %v", views)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/products", "", nil)
	if resp.Header.Get("X-Cache") != "HIT" {
		t.Errorf("second: X-Cache = %q", resp.Header.Get("X-Cache"))
	}

	resp = env.do(t, http.MethodGet, "/api/v1/products", "", map[string]string{"If-None-Match": etag})
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("conditional: status = %d, want 304", resp.StatusCode)
	}
	if env.products.reads != 1 {
		t.Errorf("store reads = %d, want 1", env.products.reads)
	}
}

func TestGetProduct(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/products/1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	v := decode[map[string]any](t, resp)
	if v["url"] != "https://shop.example/dp/1" || v["current_price"] != "59.99" {
		t.Errorf("product = %v", v)
	}

	if resp := env.do(t, http.MethodGet, "/api/v1/products/99", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/products/abc", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", resp.StatusCode)
	}
}

func TestTrackProductPurgesCache(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/v1/products", "", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/products", `{"url":"https://shop.example/dp/2"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/products", "", nil)
	if resp.Header.Get("X-Cache") != "MISS" {
		t.Errorf("list not purged after track: X-Cache = %q", resp.Header.Get("X-Cache"))
	}
	if views := decode[[]map[string]any](t, resp); len(views) != 2 {
		t.Errorf("list len = %d, want 2", len(views))
	}
}

func TestTrackProductErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		trackErr error
		want     int
	}{
		{"bad json", `{"url":`, nil, http.StatusBadRequest},
		{"unknown field", `{"link":"https://shop.example/x"}`, nil, http.StatusBadRequest},
		{"relative url", `{"url":"/dp/1"}`, nil, http.StatusBadRequest},
		{"listing missing", `{"url":"https://shop.example/x"}`, &scraper.FetchError{URL: "x", Kind: scraper.ErrNotFound, Err: errors.New("404")}, http.StatusNotFound},
		{"unparsable", `{"url":"https://shop.example/x"}`, &scraper.FetchError{URL: "x", Kind: scraper.ErrParse, Err: errors.New("no price")}, http.StatusUnprocessableEntity},
		{"network", `{"url":"https://shop.example/x"}`, &scraper.FetchError{URL: "x", Kind: scraper.ErrNetwork, Err: errors.New("reset")}, http.StatusBadGateway},
		{"metadata host", `{"url":"http://169.254.169.254/latest/meta-data/"}`, nil, http.StatusBadRequest},
		{"loopback host", `{"url":"http://localhost:6379/"}`, nil, http.StatusBadRequest},
		{"lookalike host", `{"url":"https://shop.example.evil.test/dp/1"}`, nil, http.StatusBadRequest},
		{"redirected off list", `{"url":"https://shop.example/x"}`, &scraper.FetchError{URL: "x", Kind: scraper.ErrHostNotAllowed}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.tracker.trackErr = tt.trackErr
			resp := env.do(t, http.MethodPost, "/api/v1/products", tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			env.products.mu.Lock()
			tracked := len(env.products.items)
			env.products.mu.Unlock()
			if tracked != 1 {
				t.Errorf("product tracked despite status %d", resp.StatusCode)
			}
		})
	}
}

func TestAddWatcher(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/v1/products/1/watchers", `{"email":"new@example.com"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first subscribe: status = %d, want 201", resp.StatusCode)
	}
	if v := decode[map[string]any](t, resp); v["watcher_count"] != float64(2) {
		t.Errorf("watcher_count = %v, want 2", v["watcher_count"])
	}

	resp = env.do(t, http.MethodPost, "/api/v1/products/1/watchers", `{"email":"new@example.com"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat subscribe: status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/products/1/watchers", `{"email":"nope"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid email: status = %d, want 400", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/products/42/watchers", `{"email":"a@example.com"}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown product: status = %d, want 404", resp.StatusCode)
	}
}

// --------------------------------------------------------------------------
// Health and middleware
// --------------------------------------------------------------------------

func TestHealthDB(t *testing.T) {
	env := newTestEnv(t, nil)
	if resp := env.do(t, http.MethodGet, "/health/db", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthy: status = %d", resp.StatusCode)
	}
	env.products.pingErr = errors.New("down")
	if resp := env.do(t, http.MethodGet, "/health/db", "", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: status = %d, want 503", resp.StatusCode)
	}
}

func TestTimingHeader(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/health", "", nil)
	if !strings.HasSuffix(resp.Header.Get("X-Process-Time"), "ms") {
		t.Errorf("X-Process-Time = %q", resp.Header.Get("X-Process-Time"))
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimitEnabled = true
		c.RateLimitRequests = 4
		c.RateLimitWindow = time.Hour
	})

	limited := false
	for range 5 {
		if resp := env.do(t, http.MethodGet, "/health", "", nil); resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected a 429 once the burst is spent")
	}
}
