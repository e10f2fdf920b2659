package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"carsales-dashboard/internal/errors"
	"carsales-dashboard/internal/models"
	"carsales-dashboard/internal/observability"
	"carsales-dashboard/internal/services"
)

// renderTimeout bounds a single view computation.
const renderTimeout = 5 * time.Second

var cacheHeaders = map[string]string{
	"Cache-Control": "public, max-age=300",
}

type APIHandlers struct {
	dashboard *services.Dashboard
	logger    *slog.Logger
}

func NewAPIHandlers(dashboard *services.Dashboard, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		dashboard: dashboard,
		logger:    logger,
	}
}

// viewResponse is a DashboardView with its projected map layout.
type viewResponse struct {
	models.DashboardView
	Map models.MapLayout `json:"map"`
}

// selectionFromQuery reads the three selectors. A selector given more than
// once is rejected rather than silently taking the first value.
func selectionFromQuery(r *http.Request) (models.Selection, error) {
	q := r.URL.Query()
	for _, key := range []string{"period", "vehicle_type", "origin"} {
		if len(q[key]) > 1 {
			return models.Selection{}, errors.BadRequest(fmt.Sprintf("query parameter %q given %d times", key, len(q[key])))
		}
	}
	return models.Selection{
		Period:      q.Get("period"),
		VehicleType: q.Get("vehicle_type"),
		Origin:      q.Get("origin"),
	}, nil
}

// writeError maps selection failures to INVALID_SELECTION with the offered
// candidates as details. Anything else goes out as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var selErr *services.SelectionError
	if stderrors.As(err, &selErr) {
		err = errors.InvalidSelection(selErr).WithDetails(map[string]any{
			"field":      selErr.Field,
			"value":      selErr.Value,
			"candidates": selErr.Candidates,
		})
	} else if stderrors.Is(err, context.DeadlineExceeded) {
		err = errors.ServiceUnavailable("view computation timed out")
	}
	errors.WriteError(w, logger, err, observability.GetRequestID(r.Context()))
}

func (h *APIHandlers) HandleOptions(w http.ResponseWriter, r *http.Request) {
	sel, err := selectionFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	opts, err := h.dashboard.Options(sel)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	errors.WriteSuccessWithHeaders(w, opts, cacheHeaders)
}

func (h *APIHandlers) HandleView(w http.ResponseWriter, r *http.Request) {
	sel, err := selectionFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	view, err := h.dashboard.View(ctx, sel)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	errors.WriteSuccessWithHeaders(w, viewResponse{
		DashboardView: view,
		Map:           h.dashboard.Map(view),
	}, cacheHeaders)
}

// HandleBoundaries returns the boundary features annotated with the units
// and fill colour of the selection.
func (h *APIHandlers) HandleBoundaries(w http.ResponseWriter, r *http.Request) {
	sel, err := selectionFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	fc, err := h.dashboard.Features(ctx, sel)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	errors.WriteSuccessWithHeaders(w, fc, cacheHeaders)
}

func (h *APIHandlers) HandleUnmatched(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccess(w, h.dashboard.Unmatched())
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccess(w, h.dashboard.Stats())
}
