package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/pricewise/internal/api/respond"
	"github.com/albapepper/pricewise/internal/cache"
	"github.com/albapepper/pricewise/internal/product"
	"github.com/albapepper/pricewise/internal/reconcile"
	"github.com/albapepper/pricewise/internal/scraper"
	"github.com/albapepper/pricewise/internal/store"
)

const maxBodyBytes = 1 << 16

// ProductView is the public shape of a tracked product. Watcher addresses
// are never exposed, only their count.
type ProductView struct {
	product.TrackedProduct
	Watchers     []product.Watcher `json:"watchers,omitempty"` // shadows the embedded field; always nil
	WatcherCount int               `json:"watcher_count"`
}

func viewOf(p product.TrackedProduct) ProductView {
	return ProductView{TrackedProduct: p, WatcherCount: len(p.Watchers)}
}

// TrackRequest is the body of POST /products.
type TrackRequest struct {
	URL string `json:"url"`
}

// WatchRequest is the body of POST /products/{id}/watchers.
type WatchRequest struct {
	Email string `json:"email"`
}

// ListProducts returns every tracked product.
// @Summary List tracked products
// @Description Returns every tracked product with its price statistics. Cached; purged after each run.
// @Tags products
// @Produce json
// @Success 200 {array} handler.ProductView
// @Failure 500 {object} respond.ErrorResponse
// @Router /products [get]
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, cache.ProductListKey, cache.TTLProductList, func() (any, error) {
		all, err := h.products.FindAll(r.Context())
		if err != nil {
			return nil, err
		}
		views := make([]ProductView, 0, len(all))
		for _, p := range all {
			views = append(views, viewOf(p))
		}
		return views, nil
	})
}

// GetProduct returns one tracked product.
// @Summary Get a tracked product
// @Description Returns a tracked product with its full price history.
// @Tags products
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} handler.ProductView
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /products/{id} [get]
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	h.serveCached(w, r, cache.ProductKey(id), cache.TTLProduct, func() (any, error) {
		p, err := h.products.FindByID(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return viewOf(p), nil
	})
}

// TrackProduct starts tracking a product page.
// @Summary Track a product
// @Description Fetches the product page, stores it and returns the stored record. Re-tracking a known URL records a new observation.
// @Tags products
// @Accept json
// @Produce json
// @Param body body handler.TrackRequest true "Product page URL"
// @Success 201 {object} handler.ProductView
// @Failure 400 {object} respond.ErrorResponse "invalid body, url or host outside SCRAPER_ALLOWED_HOSTS"
// @Failure 404 {object} respond.ErrorResponse
// @Failure 422 {object} respond.ErrorResponse
// @Failure 502 {object} respond.ErrorResponse
// @Router /products [post]
func (h *Handler) TrackProduct(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validURL(req.URL) {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_URL", "url must be an absolute http(s) URL")
		return
	}
	if !scraper.HostAllowed(req.URL, h.allowedHosts) {
		respond.WriteError(w, http.StatusBadRequest, "HOST_NOT_ALLOWED", "url is not on a supported marketplace")
		return
	}

	p, err := h.tracker.Track(r.Context(), req.URL)
	if err != nil {
		h.writeTrackError(w, req.URL, err)
		return
	}
	h.cache.Purge(cache.ProductPrefix)
	respond.WriteJSONObject(w, http.StatusCreated, viewOf(p))
}

// AddWatcher subscribes an email address to a product.
// @Summary Watch a product
// @Description Subscribes an email address to price alerts for a product. New subscribers receive a welcome email.
// @Tags products
// @Accept json
// @Produce json
// @Param id path int true "Product ID"
// @Param body body handler.WatchRequest true "Subscriber"
// @Success 201 {object} handler.ProductView "new subscription"
// @Success 200 {object} handler.ProductView "already subscribed"
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /products/{id}/watchers [post]
func (h *Handler) AddWatcher(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req WatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.products.FindByID(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	target := p.URL
	p, added, err := h.tracker.Watch(r.Context(), target, req.Email)
	if err != nil {
		h.writeTrackError(w, target, err)
		return
	}

	h.cache.Purge(cache.ProductPrefix)
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	respond.WriteJSONObject(w, status, viewOf(p))
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// serveCached answers from the cache, honouring If-None-Match, or loads,
// encodes and stores the value. The generation is taken before loading so
// a purge racing the load keeps the result out of the cache.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, load func() (any, error)) {
	if data, etag, ok := h.cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, true)
		return
	}

	gen := h.cache.Generation()
	v, err := load()
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode response")
		return
	}
	etag := h.cache.Set(key, data, ttl, gen)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, false)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "product not found")
		return
	}
	h.logger.Error("product lookup failed", "error", err)
	respond.WriteError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to read products")
}

func (h *Handler) writeTrackError(w http.ResponseWriter, url string, err error) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidEmail):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_EMAIL", "email is not a valid address", err.Error())
	case errors.Is(err, scraper.ErrHostNotAllowed):
		respond.WriteError(w, http.StatusBadRequest, "HOST_NOT_ALLOWED", "url is not on a supported marketplace")
	case errors.Is(err, scraper.ErrNotFound):
		respond.WriteErrorDetail(w, http.StatusNotFound, "LISTING_NOT_FOUND", "product page not found", url)
	case errors.Is(err, scraper.ErrParse):
		respond.WriteErrorDetail(w, http.StatusUnprocessableEntity, "LISTING_UNREADABLE", "product page could not be parsed", url)
	case errors.Is(err, scraper.ErrNetwork):
		respond.WriteErrorDetail(w, http.StatusBadGateway, "FETCH_FAILED", "product page could not be fetched", url)
	case errors.Is(err, store.ErrNotFound):
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "product not found")
	default:
		h.logger.Error("track failed", "url", url, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "TRACK_FAILED", "Failed to track product")
	}
}

func productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "ID must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON", err.Error())
		return false
	}
	return true
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
