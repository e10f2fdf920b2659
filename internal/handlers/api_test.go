package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"carsales-dashboard/internal/models"
	"carsales-dashboard/internal/services"
)

const testGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"Province": "ON"},
     "geometry": {"type": "Polygon", "coordinates": [[[-95,42],[-74,42],[-74,56],[-95,56],[-95,42]]]}},
    {"type": "Feature", "properties": {"Province": "QC"},
     "geometry": {"type": "Polygon", "coordinates": [[[-79,45],[-57,45],[-57,62],[-79,62],[-79,45]]]}}
  ]
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestDashboard(t *testing.T) *services.Dashboard {
	t.Helper()

	boundaries, err := services.ParseBoundaries([]byte(testGeoJSON), services.DefaultFeatureKey)
	if err != nil {
		t.Fatalf("ParseBoundaries() failed: %v", err)
	}

	rec := func(period, vtype, origin, province, name string, units int) models.SalesRecord {
		return models.SalesRecord{
			Period: period, VehicleType: vtype, Origin: origin,
			Province: province, ProvinceName: name, UnitsSold: units,
		}
	}
	records := []models.SalesRecord{
		rec("2024-01", "Car", "Domestic", "ON", "Ontario", 100),
		rec("2024-01", "Car", "Domestic", "QC", "Quebec", 200),
		rec("2024-01", "Car", "Imported", "ON", "Ontario", 50),
		rec("2024-02", "Truck", "Imported", "AB", "Alberta", 90),
	}

	return services.NewDashboard(services.NewDataset(records, boundaries), testLogger())
}

type envelope[T any] struct {
	Data    T    `json:"data"`
	Success bool `json:"success"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp envelope[T]
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success to be true")
	}
	return resp.Data
}

func TestNewAPIHandlers(t *testing.T) {
	dashboard := createTestDashboard(t)
	logger := testLogger()
	handlers := NewAPIHandlers(dashboard, logger)

	if handlers == nil {
		t.Fatal("NewAPIHandlers() returned nil")
	}
	if handlers.dashboard != dashboard {
		t.Error("NewAPIHandlers() should set dashboard field")
	}
	if handlers.logger != logger {
		t.Error("NewAPIHandlers() should set logger field")
	}
}

func TestAPIHandlers_HandleOptions(t *testing.T) {
	handlers := NewAPIHandlers(createTestDashboard(t), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/options?period=2024-01", nil)
	w := httptest.NewRecorder()
	handlers.HandleOptions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}

	opts := decode[models.SelectorOptions](t, w)
	if len(opts.Periods) != 2 || opts.Periods[0] != "2024-02" {
		t.Errorf("unexpected periods %v", opts.Periods)
	}
	want := models.Selection{Period: "2024-01", VehicleType: "Car", Origin: "Imported"}
	if opts.Selection != want {
		t.Errorf("selection = %+v, want %+v", opts.Selection, want)
	}
	if len(opts.Origins) != 2 {
		t.Errorf("unexpected origins %v", opts.Origins)
	}
}

func TestAPIHandlers_HandleView(t *testing.T) {
	handlers := NewAPIHandlers(createTestDashboard(t), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/view?period=2024-01&vehicle_type=Car&origin=Domestic", nil)
	w := httptest.NewRecorder()
	handlers.HandleView(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	view := decode[viewResponse](t, w)
	if view.RecordCount != 2 {
		t.Errorf("record count = %d, want 2", view.RecordCount)
	}
	if len(view.Ranked) != 2 || view.Ranked[0].ProvinceName != "Quebec" || view.Ranked[0].UnitsSold != 200 {
		t.Errorf("unexpected ranking %+v", view.Ranked)
	}
	if view.Choropleth.Max != 200 {
		t.Errorf("choropleth max = %d, want 200", view.Choropleth.Max)
	}
	if len(view.Map.Paths) != 2 {
		t.Errorf("expected 2 map paths, got %d", len(view.Map.Paths))
	}
}

func TestAPIHandlers_HandleView_InvalidSelection(t *testing.T) {
	handlers := NewAPIHandlers(createTestDashboard(t), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/view?period=1999-01", nil)
	w := httptest.NewRecorder()
	handlers.HandleView(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
	}

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Details struct {
				Field      string   `json:"field"`
				Value      string   `json:"value"`
				Candidates []string `json:"candidates"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Success || resp.Error.Code != "INVALID_SELECTION" {
		t.Errorf("unexpected error response %+v", resp)
	}
	if resp.Error.Details.Field != "period" || resp.Error.Details.Value != "1999-01" {
		t.Errorf("unexpected details %+v", resp.Error.Details)
	}
	if len(resp.Error.Details.Candidates) != 2 {
		t.Errorf("expected 2 candidate periods, got %v", resp.Error.Details.Candidates)
	}
}

func TestAPIHandlers_RepeatedSelector(t *testing.T) {
	handlers := NewAPIHandlers(createTestDashboard(t), testLogger())

	routes := map[string]http.HandlerFunc{
		"/api/options":    handlers.HandleOptions,
		"/api/view":       handlers.HandleView,
		"/api/boundaries": handlers.HandleBoundaries,
	}
	for path, handle := range routes {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path+"?period=2024-01&period=2024-02", nil)
			w := httptest.NewRecorder()
			handle(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			var resp struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error.Code != "BAD_REQUEST" || resp.Error.Message != `query parameter "period" given 2 times` {
				t.Errorf("unexpected error %+v", resp.Error)
			}
		})
	}
}

func TestAPIHandlers_HandleBoundaries(t *testing.T) {
	handlers := NewAPIHandlers(createTestDashboard(t), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/boundaries?period=2024-01&vehicle_type=Car&origin=Domestic", nil)
	w := httptest.NewRecorder()
	handlers.HandleBoundaries(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	type feature struct {
		Properties map[string]any `json:"properties"`
	}
	fc := decode[struct {
		Type     string    `json:"type"`
		Features []feature `json:"features"`
	}](t, w)

	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("unexpected collection %+v", fc)
	}
	units := map[string]float64{}
	for _, f := range fc.Features {
		units[f.Properties["Province"].(string)] = f.Properties["units_sold"].(float64)
	}
	if units["ON"] != 100 || units["QC"] != 200 {
		t.Errorf("unexpected units %v", units)
	}
}

func TestAPIHandlers_HandleUnmatched(t *testing.T) {
	handlers := NewAPIHandlers(createTestDashboard(t), testLogger())

	w := httptest.NewRecorder()
	handlers.HandleUnmatched(w, httptest.NewRequest(http.MethodGet, "/api/unmatched", nil))

	unmatched := decode[[]string](t, w)
	if len(unmatched) != 1 || unmatched[0] != "AB" {
		t.Errorf("unmatched = %v, want [AB]", unmatched)
	}
}

func TestAPIHandlers_HandleHealth(t *testing.T) {
	handlers := NewAPIHandlers(createTestDashboard(t), testLogger())

	w := httptest.NewRecorder()
	handlers.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	health := decode[map[string]string](t, w)
	if health["status"] != "healthy" {
		t.Errorf("expected status healthy, got %q", health["status"])
	}
	if health["timestamp"] == "" {
		t.Error("expected timestamp in health response")
	}
}

func TestAPIHandlers_HandleStats(t *testing.T) {
	handlers := NewAPIHandlers(createTestDashboard(t), testLogger())

	w := httptest.NewRecorder()
	handlers.HandleStats(w, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))

	stats := decode[map[string]any](t, w)
	if stats["record_count"] != float64(4) {
		t.Errorf("record_count = %v, want 4", stats["record_count"])
	}
	if stats["boundaries"] != float64(2) {
		t.Errorf("boundaries = %v, want 2", stats["boundaries"])
	}
}
