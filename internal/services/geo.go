package services

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const DefaultFeatureKey = "Province"

// Boundaries is the province code to geometry mapping read from a GeoJSON
// feature collection. A province may span several features.
type Boundaries struct {
	featureKey string
	features   map[string][]*geojson.Feature
	order      []string
	bound      orb.Bound
	hasBound   bool
}

func emptyBoundaries(featureKey string) *Boundaries {
	return &Boundaries{
		featureKey: featureKey,
		features:   make(map[string][]*geojson.Feature),
		order:      []string{},
	}
}

// LoadBoundaries reads the GeoJSON document at path and keys its features by
// properties[featureKey].
func (l *Loader) LoadBoundaries(ctx context.Context, path, featureKey string) (*Boundaries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Op: "read geojson", Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := ParseBoundaries(data, featureKey)
	if err != nil {
		return nil, &LoadError{Op: "parse geojson", Path: path, Err: err}
	}

	l.logger.Info("boundaries loaded", "path", path, "provinces", b.Len(), "feature_key", b.featureKey)
	return b, nil
}

func ParseBoundaries(data []byte, featureKey string) (*Boundaries, error) {
	if featureKey == "" {
		featureKey = DefaultFeatureKey
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}

	b := emptyBoundaries(featureKey)
	for i, f := range fc.Features {
		code, err := featureCode(f, featureKey)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if _, seen := b.features[code]; !seen {
			b.order = append(b.order, code)
		}
		b.features[code] = append(b.features[code], f)

		if f.Geometry == nil {
			continue
		}
		if b.hasBound {
			b.bound = b.bound.Union(f.Geometry.Bound())
		} else {
			b.bound = f.Geometry.Bound()
			b.hasBound = true
		}
	}
	return b, nil
}

// featureCode reads the join key. Numeric keys are formatted the way they
// would be written in the CSV.
func featureCode(f *geojson.Feature, key string) (string, error) {
	v, ok := f.Properties[key]
	if !ok {
		return "", fmt.Errorf("missing property %q", key)
	}
	switch code := v.(type) {
	case string:
		return code, nil
	case float64:
		return strconv.FormatFloat(code, 'f', -1, 64), nil
	case nil:
		return "", fmt.Errorf("property %q is null", key)
	default:
		return "", fmt.Errorf("property %q is not a string or number", key)
	}
}

func (b *Boundaries) FeatureKey() string {
	return b.featureKey
}

func (b *Boundaries) Len() int {
	return len(b.order)
}

func (b *Boundaries) Has(province string) bool {
	_, ok := b.features[province]
	return ok
}

// Provinces returns the province codes in document order.
func (b *Boundaries) Provinces() []string {
	return slices.Clone(b.order)
}

func (b *Boundaries) Features(province string) []*geojson.Feature {
	return b.features[province]
}

// Bound is the bounding box of every geometry. ok is false when the
// collection holds no geometry.
func (b *Boundaries) Bound() (orb.Bound, bool) {
	return b.bound, b.hasBound
}
