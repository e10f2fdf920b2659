package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testBoundaries(t *testing.T) *Boundaries {
	t.Helper()
	b, err := ParseBoundaries([]byte(testGeoJSON), "Province")
	if err != nil {
		t.Fatalf("ParseBoundaries() error = %v", err)
	}
	return b
}

func TestParseBoundaries(t *testing.T) {
	b := testBoundaries(t)

	if diff := cmp.Diff([]string{"ON", "QC", "NL"}, b.Provinces()); diff != "" {
		t.Errorf("Provinces() mismatch (-want +got):\n%s", diff)
	}
	if !b.Has("QC") || b.Has("BC") {
		t.Error("Has() reports wrong membership")
	}
	if len(b.Features("ON")) != 1 {
		t.Errorf("Features(ON) = %d, want 1", len(b.Features("ON")))
	}

	bound, ok := b.Bound()
	if !ok {
		t.Fatal("Bound() should be set")
	}
	if bound.Min.Lon() != -95 || bound.Max.Lon() != -52 || bound.Min.Lat() != 42 || bound.Max.Lat() != 62 {
		t.Errorf("Bound() = %v", bound)
	}
}

func TestParseBoundaries_DefaultKeyAndNumericCodes(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"Province":35},"geometry":{"type":"Point","coordinates":[-80,44]}},
	  {"type":"Feature","properties":{"Province":35},"geometry":{"type":"Point","coordinates":[-79,45]}}
	]}`

	b, err := ParseBoundaries([]byte(doc), "")
	if err != nil {
		t.Fatalf("ParseBoundaries() error = %v", err)
	}
	if b.FeatureKey() != DefaultFeatureKey {
		t.Errorf("FeatureKey() = %q", b.FeatureKey())
	}
	if b.Len() != 1 || !b.Has("35") {
		t.Errorf("expected one province keyed \"35\", got %v", b.Provinces())
	}
	if len(b.Features("35")) != 2 {
		t.Errorf("features of a repeated key should accumulate, got %d", len(b.Features("35")))
	}
}

func TestParseBoundaries_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing key", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"Name":"Ontario"},"geometry":null}]}`},
		{"null key", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"Province":null},"geometry":null}]}`},
		{"object key", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"Province":{"a":1}},"geometry":null}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBoundaries([]byte(tt.doc), "Province"); err == nil {
				t.Error("ParseBoundaries() expected error")
			}
		})
	}
}

func TestLoader_LoadBoundaries_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.geojson")
	_, err := NewLoader(discardLogger(), "").LoadBoundaries(context.Background(), path, "Province")

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("error = %v, want *LoadError", err)
	}
	if loadErr.Op != "read geojson" {
		t.Errorf("Op = %q", loadErr.Op)
	}
}
