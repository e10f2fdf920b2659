package templates

import (
	"context"
	"strings"
	"testing"

	"carsales-dashboard/internal/models"
)

func TestSelectors(t *testing.T) {
	html, err := String(context.Background(), Selectors(models.SelectorOptions{
		Periods:      []string{"2024-02", "2024-01"},
		VehicleTypes: []string{"Trucks", "Passenger cars"},
		Origins:      []string{"Overseas"},
		Selection:    models.Selection{Period: "2024-01", VehicleType: "Trucks", Origin: "Overseas"},
	}))
	if err != nil {
		t.Fatalf("Selectors() failed: %v", err)
	}

	expected := []string{
		`<div id="selectors">`,
		`data-bind:period`,
		`data-bind:vehicle-type`,
		`<option value="2024-01" selected>2024-01</option>`,
		`<option value="2024-02">2024-02</option>`,
		`<option value="Trucks" selected>`,
		`data-on:change="$vehicleType = ''; $origin = ''; @get('/sse/dashboard')"`,
	}
	for _, content := range expected {
		if !strings.Contains(html, content) {
			t.Errorf("expected HTML to contain %q\n%s", content, html)
		}
	}
}

func TestSelectors_EscapesValues(t *testing.T) {
	html, err := String(context.Background(), Selectors(models.SelectorOptions{
		Periods: []string{`<script>"x"</script>`},
	}))
	if err != nil {
		t.Fatalf("Selectors() failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("option values must be escaped: %s", html)
	}
}

func TestMapView(t *testing.T) {
	layout := models.MapLayout{
		Width:  900,
		Height: 350,
		Paths: []models.MapPath{
			{Province: "ON", ProvinceName: "Ontario", D: "M0,0L1,1Z", Fill: "#f0f921", UnitsSold: 100, HasData: true},
			{Province: "NL", ProvinceName: "NL", D: "M2,2L3,3Z", Fill: "#2b2d42"},
		},
	}
	ch := models.Choropleth{Min: 0, Max: 100, Unmatched: []string{"YT"}}

	html, err := String(context.Background(), MapView(layout, ch))
	if err != nil {
		t.Fatalf("MapView() failed: %v", err)
	}

	expected := []string{
		`<div id="map">`,
		`viewBox="0 0 900 350"`,
		`<path d="M0,0L1,1Z" fill="#f0f921"`,
		`<title>Ontario: 100 units</title>`,
		`<title>NL</title>`,
		`100 units</span>`,
		`Not on map: YT`,
	}
	for _, content := range expected {
		if !strings.Contains(html, content) {
			t.Errorf("expected HTML to contain %q", content)
		}
	}
}

func TestMapView_Empty(t *testing.T) {
	html, err := String(context.Background(), MapView(models.MapLayout{}, models.Choropleth{}))
	if err != nil {
		t.Fatalf("MapView() failed: %v", err)
	}
	if strings.Contains(html, "<svg") {
		t.Error("empty layout must not render an svg")
	}
}

func TestRankTable(t *testing.T) {
	rows := []models.RankedRow{
		{Province: "QC", ProvinceName: "Québec", UnitsSold: 200},
		{Province: "ON", ProvinceName: "Ontario", UnitsSold: 50},
	}

	html, err := String(context.Background(), RankTable(rows, 200))
	if err != nil {
		t.Fatalf("RankTable() failed: %v", err)
	}

	if got := strings.Count(html, "<tr>") - 1; got != 2 {
		t.Errorf("expected 2 body rows, got %d", got)
	}
	for _, content := range []string{"Québec", "<strong>200</strong>", `style="width:100%;"`, `style="width:25%;"`} {
		if !strings.Contains(html, content) {
			t.Errorf("expected HTML to contain %q", content)
		}
	}
}

func TestAlert(t *testing.T) {
	html, _ := String(context.Background(), Alert(""))
	if html != `<div id="alert"></div>` {
		t.Errorf("empty alert = %q", html)
	}

	html, _ = String(context.Background(), Alert(`invalid period "1999-01"`))
	if !strings.Contains(html, `role="alert"`) || !strings.Contains(html, "invalid period &#34;1999-01&#34;") {
		t.Errorf("alert = %q", html)
	}
}

func TestDashboard(t *testing.T) {
	html, err := String(context.Background(), Dashboard())
	if err != nil {
		t.Fatalf("Dashboard() failed: %v", err)
	}
	for _, content := range []string{"<!doctype html>", "<title>" + Title + "</title>", datastarCDN, "@get('/sse/dashboard')"} {
		if !strings.Contains(html, content) {
			t.Errorf("expected page to contain %q", content)
		}
	}
}

func TestRankTable_ZeroMax(t *testing.T) {
	html, err := String(context.Background(), RankTable([]models.RankedRow{{ProvinceName: "Yukon"}}, 0))
	if err != nil {
		t.Fatalf("RankTable() failed: %v", err)
	}
	if !strings.Contains(html, `style="width:0%;"`) {
		t.Errorf("expected an empty bar: %s", html)
	}
}

func TestAlert_EscapesMessage(t *testing.T) {
	html, err := String(context.Background(), Alert(`<script>alert(1)</script>`))
	if err != nil {
		t.Fatalf("Alert() failed: %v", err)
	}
	if strings.Contains(html, "<script>") || !strings.Contains(html, "&lt;script&gt;") {
		t.Errorf("alert message must be escaped: %s", html)
	}
}

func TestMapView_EscapesProvinceData(t *testing.T) {
	layout := models.MapLayout{
		Width:  10,
		Height: 10,
		Paths:  []models.MapPath{{ProvinceName: `<b>"ON"</b>`, D: `M0,0"/><script>`, Fill: "#000"}},
	}
	html, err := String(context.Background(), MapView(layout, models.Choropleth{Unmatched: []string{"<i>YT</i>"}}))
	if err != nil {
		t.Fatalf("MapView() failed: %v", err)
	}
	for _, raw := range []string{"<script>", "<b>", "<i>"} {
		if strings.Contains(html, raw) {
			t.Errorf("expected %q to be escaped: %s", raw, html)
		}
	}
}

func TestDashboard_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := String(ctx, Dashboard()); err == nil {
		t.Error("expected rendering to stop on a cancelled context")
	}
}
