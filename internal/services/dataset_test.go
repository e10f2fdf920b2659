package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"carsales-dashboard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeader = "REF_DATE,GEO,Vehicle_type,Origin_of_manufacture,Province,Name_of_Province,Units_Sold\n"

const testGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"Province": "ON", "Name": "Ontario"},
     "geometry": {"type": "Polygon", "coordinates": [[[-95,42],[-74,42],[-74,56],[-95,56],[-95,42]]]}},
    {"type": "Feature", "properties": {"Province": "QC", "Name": "Quebec"},
     "geometry": {"type": "Polygon", "coordinates": [[[-79,45],[-57,45],[-57,62],[-79,62],[-79,45]]]}},
    {"type": "Feature", "properties": {"Province": "NL"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-60,47],[-52,47],[-52,52],[-60,52],[-60,47]]]]}}
  ]
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestLoader_LoadRecords_Latin1(t *testing.T) {
	content := []byte(testHeader +
		"2024-01,Canada,Passenger cars,North America,QC,Qu\xe9bec,200\n" +
		"2024-01,Canada,Passenger cars,North America,ON,Ontario,100\n")
	path := writeTemp(t, "cars.csv", content)

	records, err := NewLoader(discardLogger(), "").LoadRecords(context.Background(), path, "latin-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, models.SalesRecord{
		Period:       "2024-01",
		VehicleType:  "Passenger cars",
		Origin:       "North America",
		Province:     "QC",
		ProvinceName: "Québec",
		UnitsSold:    200,
	}, records[0])
	assert.Equal(t, "ON", records[1].Province, "file order must be preserved")
}

func TestLoader_LoadRecords_UTF8WithBOM(t *testing.T) {
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte(testHeader+"2024-02,Canada,Trucks,Overseas,BC,British Columbia,120.0\n")...)
	path := writeTemp(t, "cars.csv", content)

	records, err := NewLoader(discardLogger(), "").LoadRecords(context.Background(), path, "utf-8")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2024-02", records[0].Period)
	assert.Equal(t, 120, records[0].UnitsSold)
}

func TestLoader_LoadRecords_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  []byte
		encoding string
	}{
		{name: "empty file", content: []byte(""), encoding: "latin-1"},
		{name: "header only", content: []byte(testHeader), encoding: "latin-1"},
		{name: "missing column", content: []byte("REF_DATE,Vehicle_type,Province,Units_Sold\n2024-01,Car,ON,1\n"), encoding: "latin-1"},
		{name: "non-integer units", content: []byte(testHeader + "2024-01,Canada,Car,Domestic,ON,Ontario,many\n"), encoding: "latin-1"},
		{name: "fractional units", content: []byte(testHeader + "2024-01,Canada,Car,Domestic,ON,Ontario,1.5\n"), encoding: "latin-1"},
		{name: "negative units", content: []byte(testHeader + "2024-01,Canada,Car,Domestic,ON,Ontario,-3\n"), encoding: "latin-1"},
		{name: "wrong field count", content: []byte(testHeader + "2024-01,Canada,Car,Domestic,ON\n"), encoding: "latin-1"},
		{name: "invalid utf-8", content: []byte(testHeader + "2024-01,Canada,Car,Domestic,QC,Qu\xe9bec,1\n"), encoding: "utf-8"},
		{name: "unknown encoding", content: []byte(testHeader + "2024-01,Canada,Car,Domestic,ON,Ontario,1\n"), encoding: "klingon-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "cars.csv", tt.content)

			records, err := NewLoader(discardLogger(), "").LoadRecords(context.Background(), path, tt.encoding)
			require.Error(t, err)
			assert.Nil(t, records)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr), "want *LoadError, got %T", err)
			assert.Equal(t, path, loadErr.Path)
		})
	}
}

func TestLoader_LoadRecords_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.csv")

	_, err := NewLoader(discardLogger(), "").LoadRecords(context.Background(), path, "latin-1")

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_LoadRecords_Cache(t *testing.T) {
	cacheDir := t.TempDir()
	path := writeTemp(t, "cars.csv", []byte(testHeader+"2024-01,Canada,Car,Domestic,ON,Ontario,100\n"))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	loader := NewLoader(discardLogger(), cacheDir)
	first, err := loader.LoadRecords(context.Background(), path, "latin-1")
	require.NoError(t, err)

	cached, err := loader.loadFromCache(path, "latin-1")
	require.NoError(t, err)
	assert.Equal(t, first, cached.Records)

	// A newer source file invalidates the cache.
	require.NoError(t, os.WriteFile(path, []byte(testHeader+"2024-01,Canada,Car,Domestic,ON,Ontario,999\n"), 0644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	second, err := loader.LoadRecords(context.Background(), path, "latin-1")
	require.NoError(t, err)
	assert.Equal(t, 999, second[0].UnitsSold)
}

func TestLoader_Load(t *testing.T) {
	csvPath := writeTemp(t, "cars.csv", []byte(testHeader+
		"2024-01,Canada,Car,Domestic,ON,Ontario,100\n"+
		"2024-01,Canada,Car,Domestic,QC,Quebec,200\n"))
	geoPath := writeTemp(t, "cars.geojson", []byte(testGeoJSON))

	ds, err := NewLoader(discardLogger(), "").Load(context.Background(), DataSource{
		CSVFile:     csvPath,
		Encoding:    "latin-1",
		GeoJSONFile: geoPath,
		FeatureKey:  "Province",
	})
	require.NoError(t, err)

	assert.Len(t, ds.Records(), 2)
	assert.Equal(t, 3, ds.Boundaries().Len())
	assert.False(t, ds.LoadedAt().IsZero())
}

func TestLoader_Load_FailsWithoutPartialResult(t *testing.T) {
	csvPath := writeTemp(t, "cars.csv", []byte(testHeader+"2024-01,Canada,Car,Domestic,ON,Ontario,100\n"))

	ds, err := NewLoader(discardLogger(), "").Load(context.Background(), DataSource{
		CSVFile:     csvPath,
		Encoding:    "latin-1",
		GeoJSONFile: filepath.Join(t.TempDir(), "missing.geojson"),
	})
	require.Error(t, err)
	assert.Nil(t, ds)

	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoader_LoadThenSelectFirstRecord(t *testing.T) {
	csvPath := writeTemp(t, "cars.csv", []byte(testHeader+
		"2024-01,Canada,Car,Domestic,ON,Ontario,100\n"+
		"2024-02,Canada,Truck,Overseas,QC,Quebec,200\n"))

	records, err := NewLoader(discardLogger(), "").LoadRecords(context.Background(), csvPath, "latin-1")
	require.NoError(t, err)

	first := records[0]
	got, err := ApplySelection(records, models.Selection{
		Period:      first.Period,
		VehicleType: first.VehicleType,
		Origin:      first.Origin,
	})
	require.NoError(t, err)
	assert.Contains(t, got, first)
}

func TestNewDataset_Defaults(t *testing.T) {
	ds := NewDataset(nil, nil)
	assert.NotNil(t, ds.Records())
	assert.Empty(t, ds.Records())
	assert.Equal(t, 0, ds.Boundaries().Len())
	assert.Equal(t, DefaultFeatureKey, ds.Boundaries().FeatureKey())
}
