package services

import (
	"math"
	"strconv"
	"strings"

	"carsales-dashboard/internal/models"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	NoDataFill = "#2b2d42"
	mapPadding = 8.0
)

// Plasma colour stops, dark to bright.
var plasma = mustPalette(
	"#0d0887", "#46039f", "#7201a8", "#9c179e", "#bd3786",
	"#d8576b", "#ed7953", "#fb9f3a", "#fdca26", "#f0f921",
)

func mustPalette(hexes ...string) []colorful.Color {
	palette := make([]colorful.Color, len(hexes))
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic("invalid palette colour " + h + ": " + err.Error())
		}
		palette[i] = c
	}
	return palette
}

// ColorFor maps value onto the plasma scale bounded by [lo, hi]. Values
// outside the range are clamped.
func ColorFor(value, lo, hi int) string {
	t := 0.0
	if hi > lo {
		t = float64(value-lo) / float64(hi-lo)
	}
	t = math.Max(0, math.Min(1, t))

	pos := t * float64(len(plasma)-1)
	i := int(math.Floor(pos))
	if i >= len(plasma)-1 {
		return plasma[len(plasma)-1].Hex()
	}
	return plasma[i].BlendRgb(plasma[i+1], pos-float64(i)).Hex()
}

// RenderChoropleth projects the origin-filtered records onto provinces. The
// colour range runs from 0 to the largest units sold in records. When a
// province appears more than once the last record wins, as overlapping map
// traces do. Provinces without a boundary are reported in Unmatched and left
// off the map.
func RenderChoropleth(records []models.SalesRecord, boundaries *Boundaries) models.Choropleth {
	ch := models.Choropleth{
		Regions:   []models.RegionValue{},
		Unmatched: []string{},
	}
	for _, r := range records {
		if r.UnitsSold > ch.Max {
			ch.Max = r.UnitsSold
		}
	}

	index := make(map[string]int)
	unmatched := make(map[string]struct{})
	for _, r := range records {
		if !boundaries.Has(r.Province) {
			if _, seen := unmatched[r.Province]; !seen {
				unmatched[r.Province] = struct{}{}
				ch.Unmatched = append(ch.Unmatched, r.Province)
			}
			continue
		}

		region := models.RegionValue{
			Province:     r.Province,
			ProvinceName: r.ProvinceName,
			UnitsSold:    r.UnitsSold,
			Color:        ColorFor(r.UnitsSold, ch.Min, ch.Max),
		}
		if i, ok := index[r.Province]; ok {
			ch.Regions[i] = region
			continue
		}
		index[r.Province] = len(ch.Regions)
		ch.Regions = append(ch.Regions, region)
	}
	return ch
}

func RankedRows(ranked []models.SalesRecord) []models.RankedRow {
	rows := make([]models.RankedRow, len(ranked))
	for i, r := range ranked {
		rows[i] = models.RankedRow{
			Province:     r.Province,
			ProvinceName: r.ProvinceName,
			UnitsSold:    r.UnitsSold,
		}
	}
	return rows
}

// UnmatchedProvinces lists, in first-seen order, the province codes of
// records that have no boundary geometry.
func UnmatchedProvinces(records []models.SalesRecord, boundaries *Boundaries) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0)
	for _, r := range records {
		if boundaries.Has(r.Province) {
			continue
		}
		if _, dup := seen[r.Province]; dup {
			continue
		}
		seen[r.Province] = struct{}{}
		result = append(result, r.Province)
	}
	return result
}

type projection struct {
	minLon, maxLat float64
	cosLat         float64
	scale          float64
	offX, offY     float64
}

func newProjection(bound orb.Bound, width, height float64) projection {
	midLat := (bound.Min.Lat() + bound.Max.Lat()) / 2
	p := projection{
		minLon: bound.Min.Lon(),
		maxLat: bound.Max.Lat(),
		cosLat: math.Cos(midLat * math.Pi / 180),
	}

	spanX := (bound.Max.Lon() - bound.Min.Lon()) * p.cosLat
	spanY := bound.Max.Lat() - bound.Min.Lat()
	innerW, innerH := width-2*mapPadding, height-2*mapPadding

	switch {
	case spanX <= 0 && spanY <= 0:
		p.scale = 1
	case spanX <= 0:
		p.scale = innerH / spanY
	case spanY <= 0:
		p.scale = innerW / spanX
	default:
		p.scale = math.Min(innerW/spanX, innerH/spanY)
	}

	p.offX = mapPadding + (innerW-spanX*p.scale)/2
	p.offY = mapPadding + (innerH-spanY*p.scale)/2
	return p
}

func (p projection) point(pt orb.Point) (float64, float64) {
	x := (pt.Lon()-p.minLon)*p.cosLat*p.scale + p.offX
	y := (p.maxLat-pt.Lat())*p.scale + p.offY
	return x, y
}

func (p projection) writeRing(sb *strings.Builder, ring orb.Ring) {
	for i, pt := range ring {
		x, y := p.point(pt)
		if i == 0 {
			sb.WriteByte('M')
		} else {
			sb.WriteByte('L')
		}
		sb.WriteString(strconv.FormatFloat(x, 'f', 1, 64))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(y, 'f', 1, 64))
	}
	if len(ring) > 0 {
		sb.WriteByte('Z')
	}
}

func (p projection) writeGeometry(sb *strings.Builder, g orb.Geometry) {
	switch geom := g.(type) {
	case orb.Polygon:
		for _, ring := range geom {
			p.writeRing(sb, ring)
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			p.writeGeometry(sb, poly)
		}
	case orb.Collection:
		for _, child := range geom {
			p.writeGeometry(sb, child)
		}
	}
}

// MapSVG lays out every boundary as an SVG path in a width x height
// viewport, filled with the colour of its province in ch. Boundaries without
// data get NoDataFill.
func MapSVG(ch models.Choropleth, boundaries *Boundaries, width, height int) models.MapLayout {
	layout := models.MapLayout{Width: width, Height: height, Paths: []models.MapPath{}}

	bound, ok := boundaries.Bound()
	if !ok {
		return layout
	}
	proj := newProjection(bound, float64(width), float64(height))

	regions := make(map[string]models.RegionValue, len(ch.Regions))
	for _, r := range ch.Regions {
		regions[r.Province] = r
	}

	for _, code := range boundaries.Provinces() {
		var sb strings.Builder
		for _, f := range boundaries.Features(code) {
			if f.Geometry != nil {
				proj.writeGeometry(&sb, f.Geometry)
			}
		}
		if sb.Len() == 0 {
			continue
		}

		path := models.MapPath{
			Province:     code,
			ProvinceName: code,
			D:            sb.String(),
			Fill:         NoDataFill,
		}
		if r, ok := regions[code]; ok {
			path.ProvinceName = r.ProvinceName
			path.Fill = r.Color
			path.UnitsSold = r.UnitsSold
			path.HasData = true
		}
		layout.Paths = append(layout.Paths, path)
	}
	return layout
}

// AnnotatedFeatures returns the boundary features with units_sold and fill
// properties added for provinces present in ch.
func AnnotatedFeatures(ch models.Choropleth, boundaries *Boundaries) *geojson.FeatureCollection {
	regions := make(map[string]models.RegionValue, len(ch.Regions))
	for _, r := range ch.Regions {
		regions[r.Province] = r
	}

	fc := geojson.NewFeatureCollection()
	for _, code := range boundaries.Provinces() {
		for _, src := range boundaries.Features(code) {
			f := geojson.NewFeature(src.Geometry)
			f.ID = src.ID
			if src.Properties != nil {
				f.Properties = src.Properties.Clone()
			}
			if r, ok := regions[code]; ok {
				f.Properties["units_sold"] = r.UnitsSold
				f.Properties["province_name"] = r.ProvinceName
				f.Properties["fill"] = r.Color
			} else {
				f.Properties["fill"] = NoDataFill
			}
			fc.Append(f)
		}
	}
	return fc
}
