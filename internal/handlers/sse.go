package handlers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"

	"carsales-dashboard/internal/errors"
	"carsales-dashboard/internal/models"
	"carsales-dashboard/internal/observability"
	"carsales-dashboard/internal/services"
	"carsales-dashboard/internal/ui/templates"
	"github.com/a-h/templ"
	"github.com/starfederation/datastar-go/datastar"
)

// dashboardSignals mirrors the data-signals of the page.
type dashboardSignals struct {
	Period      string `json:"period"`
	VehicleType string `json:"vehicleType"`
	Origin      string `json:"origin"`
}

func (s dashboardSignals) selection() models.Selection {
	return models.Selection{
		Period:      s.Period,
		VehicleType: s.VehicleType,
		Origin:      s.Origin,
	}
}

func signalsFor(sel models.Selection) dashboardSignals {
	return dashboardSignals{
		Period:      sel.Period,
		VehicleType: sel.VehicleType,
		Origin:      sel.Origin,
	}
}

type SSEHandlers struct {
	dashboard *services.Dashboard
	logger    *slog.Logger
}

func NewSSEHandlers(dashboard *services.Dashboard, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		dashboard: dashboard,
		logger:    logger,
	}
}

func (h *SSEHandlers) readSelection(r *http.Request) (models.Selection, error) {
	var signals dashboardSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		return models.Selection{}, errors.BadRequestWrap(err, "invalid datastar signals")
	}
	return signals.selection(), nil
}

func (h *SSEHandlers) patch(ctx context.Context, sse *datastar.ServerSentEventGenerator, components ...templ.Component) error {
	for _, c := range components {
		html, err := templates.String(ctx, c)
		if err != nil {
			return err
		}
		if err := sse.PatchElements(html); err != nil {
			return err
		}
	}
	return nil
}

// patchAlert reports a rejected selection in the page's alert slot. Other
// errors are only logged since the stream is already open.
func (h *SSEHandlers) patchAlert(ctx context.Context, sse *datastar.ServerSentEventGenerator, err error) {
	logger := observability.RequestLogger(ctx, h.logger)

	var selErr *services.SelectionError
	if !stderrors.As(err, &selErr) {
		logger.Error("render dashboard", "error", err)
		return
	}

	logger.Warn("selection rejected", "field", selErr.Field, "value", selErr.Value)
	if err := h.patch(ctx, sse, templates.Alert(selErr.Error())); err != nil {
		logger.Error("patch alert", "error", err)
	}
}

// HandleDashboard resolves the selection carried by the signals and
// patches the selectors, map and ranking in one stream.
func (h *SSEHandlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	sel, err := h.readSelection(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	sse := datastar.NewSSE(w, r)

	view, err := h.dashboard.View(ctx, sel)
	if err != nil {
		h.patchAlert(ctx, sse, err)
		return
	}

	if err := sse.MarshalAndPatchSignals(signalsFor(view.Selection)); err != nil {
		h.logger.Error("patch signals", "error", err)
		return
	}

	maxUnits := 0
	if len(view.Ranked) > 0 {
		maxUnits = view.Ranked[0].UnitsSold
	}
	err = h.patch(ctx, sse,
		templates.Selectors(view.Options),
		templates.MapView(h.dashboard.Map(view), view.Choropleth),
		templates.RankTable(view.Ranked, maxUnits),
		templates.Alert(""),
	)
	if err != nil {
		h.logger.Error("patch dashboard", "error", err)
		return
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleSelectors patches only the cascading dropdowns.
func (h *SSEHandlers) HandleSelectors(w http.ResponseWriter, r *http.Request) {
	sel, err := h.readSelection(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sse := datastar.NewSSE(w, r)

	opts, err := h.dashboard.Options(sel)
	if err != nil {
		h.patchAlert(r.Context(), sse, err)
		return
	}

	if err := sse.MarshalAndPatchSignals(signalsFor(opts.Selection)); err != nil {
		h.logger.Error("patch signals", "error", err)
		return
	}
	if err := h.patch(r.Context(), sse, templates.Selectors(opts), templates.Alert("")); err != nil {
		h.logger.Error("patch selectors", "error", err)
		return
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
