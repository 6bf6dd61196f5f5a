package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/albapepper/pricewise/internal/api/respond"
	"github.com/albapepper/pricewise/internal/reconcile"
)

// RunResponse is the trigger endpoint's success body.
type RunResponse struct {
	RunID         string              `json:"run_id"`
	UpdatedCount  int                 `json:"updated_count"`
	NotifiedCount int                 `json:"notified_count"`
	Failures      []reconcile.Failure `json:"failures"`
	DurationMS    int64               `json:"duration_ms"`
}

// NewRunResponse converts a run result into the response body.
func NewRunResponse(res *reconcile.Result) RunResponse {
	failures := res.Failures
	if failures == nil {
		failures = []reconcile.Failure{}
	}
	return RunResponse{
		RunID:         res.RunID,
		UpdatedCount:  len(res.Updated),
		NotifiedCount: res.Notified,
		Failures:      failures,
		DurationMS:    res.Duration.Milliseconds(),
	}
}

// TriggerRun performs one reconciliation run and reports its outcome.
// The run is detached from the request so a dropped connection does not
// abort it; the runner's own deadline still applies.
// @Summary Trigger a reconciliation run
// @Description Refreshes every tracked product, persists new prices and notifies watchers. Requires "Authorization: Bearer CRON_SECRET" when a secret is configured.
// @Tags reconcile
// @Produce json
// @Security CronSecret
// @Success 200 {object} handler.RunResponse
// @Failure 401 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /cron [get]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, reconcile.ErrRunInProgress):
		respond.WriteError(w, http.StatusConflict, "RUN_IN_PROGRESS", "A reconciliation run is already in progress")
		return
	case err != nil:
		h.logger.Error("Reconciliation run failed", "error", err)
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "RUN_FAILED", "Reconciliation run failed", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, NewRunResponse(res))
}
