package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	"carsales-dashboard/internal/models"
	"carsales-dashboard/internal/observability"
	"github.com/paulmach/orb/geojson"
)

const (
	MapWidth  = 900
	MapHeight = 350
)

// Dashboard runs the selection pipeline and view projection over one
// immutable dataset.
type Dashboard struct {
	data      *Dataset
	logger    *slog.Logger
	unmatched []string
	views     atomic.Int64
	rejected  atomic.Int64
}

func NewDashboard(data *Dataset, logger *slog.Logger) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dashboard{
		data:      data,
		logger:    logger,
		unmatched: UnmatchedProvinces(data.Records(), data.Boundaries()),
	}
	if len(d.unmatched) > 0 {
		logger.Warn("provinces without boundary geometry", "provinces", d.unmatched)
	}
	return d
}

// Options resolves sel, defaulting empty selectors, and returns the
// candidate list of every level.
func (d *Dashboard) Options(sel models.Selection) (models.SelectorOptions, error) {
	records := d.data.Records()

	resolved, err := Resolve(records, sel)
	if err != nil {
		d.rejected.Add(1)
		return models.SelectorOptions{}, err
	}
	return Candidates(records, resolved)
}

// View filters the dataset by sel and projects the result into the map and
// ranking views.
func (d *Dashboard) View(ctx context.Context, sel models.Selection) (models.DashboardView, error) {
	_, span := observability.StartSpan(ctx, "dashboard.view")
	defer span.Finish()

	records := d.data.Records()

	opts, err := d.Options(sel)
	if err != nil {
		span.SetError(err)
		return models.DashboardView{}, err
	}

	filtered, err := ApplySelection(records, opts.Selection)
	if err != nil {
		span.SetError(err)
		d.rejected.Add(1)
		return models.DashboardView{}, err
	}

	ch := RenderChoropleth(filtered, d.data.Boundaries())
	if len(ch.Unmatched) > 0 {
		d.logger.Warn("selected provinces missing from map",
			"provinces", ch.Unmatched,
			"period", opts.Selection.Period,
			"vehicle_type", opts.Selection.VehicleType,
			"origin", opts.Selection.Origin,
		)
	}

	span.SetTag("period", opts.Selection.Period)
	span.SetTag("records", strconv.Itoa(len(filtered)))
	d.views.Add(1)

	return models.DashboardView{
		Selection:   opts.Selection,
		Options:     opts,
		Choropleth:  ch,
		Ranked:      RankedRows(RankByUnits(filtered)),
		RecordCount: len(filtered),
	}, nil
}

func (d *Dashboard) Map(view models.DashboardView) models.MapLayout {
	return MapSVG(view.Choropleth, d.data.Boundaries(), MapWidth, MapHeight)
}

func (d *Dashboard) Features(ctx context.Context, sel models.Selection) (*geojson.FeatureCollection, error) {
	view, err := d.View(ctx, sel)
	if err != nil {
		return nil, err
	}
	return AnnotatedFeatures(view.Choropleth, d.data.Boundaries()), nil
}

// Unmatched returns the dataset-wide province codes with no boundary.
func (d *Dashboard) Unmatched() []string {
	return d.unmatched
}

// Utility method for monitoring
func (d *Dashboard) Stats() map[string]any {
	records := d.data.Records()
	return map[string]any{
		"record_count":        len(records),
		"loaded_at":           d.data.LoadedAt(),
		"periods":             len(DistinctValues(records, models.FieldPeriod)),
		"vehicle_types":       len(DistinctValues(records, models.FieldVehicleType)),
		"origins":             len(DistinctValues(records, models.FieldOrigin)),
		"provinces":           len(DistinctValues(records, models.FieldProvince)),
		"boundaries":          d.data.Boundaries().Len(),
		"unmatched_provinces": d.unmatched,
		"views_rendered":      d.views.Load(),
		"selections_rejected": d.rejected.Load(),
	}
}
