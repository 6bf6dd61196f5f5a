// Package handler provides HTTP handlers for all API endpoints.
// Handlers depend on narrow interfaces so the reconciliation core, the
// tracker and the store can be replaced in tests.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/albapepper/pricewise/internal/api/respond"
	"github.com/albapepper/pricewise/internal/cache"
	"github.com/albapepper/pricewise/internal/product"
	"github.com/albapepper/pricewise/internal/reconcile"
)

// Products is the read side of the store.
type Products interface {
	FindAll(ctx context.Context) ([]product.TrackedProduct, error)
	FindByID(ctx context.Context, id int64) (product.TrackedProduct, error)
	Ping(ctx context.Context) error
}

// Runner starts a reconciliation run.
type Runner interface {
	Run(ctx context.Context) (*reconcile.Result, error)
}

// Tracker adds products and watchers.
type Tracker interface {
	Track(ctx context.Context, url string) (product.TrackedProduct, error)
	Watch(ctx context.Context, url, email string) (product.TrackedProduct, bool, error)
}

// Deps are the collaborators a Handler serves.
type Deps struct {
	Products Products
	Runner   Runner
	Tracker  Tracker
	Cache    *cache.Cache
	Logger   *slog.Logger

	// AllowedHosts limits the product pages that may be tracked.
	AllowedHosts []string
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	products     Products
	runner       Runner
	tracker      Tracker
	cache        *cache.Cache
	logger       *slog.Logger
	allowedHosts []string
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	return &Handler{
		products:     d.Products,
		runner:       d.Runner,
		tracker:      d.Tracker,
		cache:        d.Cache,
		logger:       d.Logger,
		allowedHosts: d.AllowedHosts,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "Pricewise API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies storage connectivity.
// @Summary Database health check
// @Description Verifies the storage backend is reachable.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.products.Ping(r.Context()); err != nil {
		h.logger.Warn("database health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
