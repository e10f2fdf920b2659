package models

type Field string

const (
	FieldPeriod       Field = "period"
	FieldVehicleType  Field = "vehicle_type"
	FieldOrigin       Field = "origin"
	FieldProvince     Field = "province"
	FieldProvinceName Field = "province_name"
)

// CascadeFields lists the selector fields in the order they narrow the data.
var CascadeFields = []Field{FieldPeriod, FieldVehicleType, FieldOrigin}

type SalesRecord struct {
	Period       string `json:"period"`
	VehicleType  string `json:"vehicle_type"`
	Origin       string `json:"origin"`
	Province     string `json:"province"`
	ProvinceName string `json:"province_name"`
	UnitsSold    int    `json:"units_sold"`
}

// Value returns the string value of a categorical field. UnitsSold is not
// addressable through Field.
func (r SalesRecord) Value(f Field) (string, bool) {
	switch f {
	case FieldPeriod:
		return r.Period, true
	case FieldVehicleType:
		return r.VehicleType, true
	case FieldOrigin:
		return r.Origin, true
	case FieldProvince:
		return r.Province, true
	case FieldProvinceName:
		return r.ProvinceName, true
	default:
		return "", false
	}
}

type Selection struct {
	Period      string `json:"period"`
	VehicleType string `json:"vehicle_type"`
	Origin      string `json:"origin"`
}

func (s Selection) Value(f Field) string {
	switch f {
	case FieldPeriod:
		return s.Period
	case FieldVehicleType:
		return s.VehicleType
	case FieldOrigin:
		return s.Origin
	default:
		return ""
	}
}

func (s *Selection) Set(f Field, value string) {
	switch f {
	case FieldPeriod:
		s.Period = value
	case FieldVehicleType:
		s.VehicleType = value
	case FieldOrigin:
		s.Origin = value
	}
}

type SelectorOptions struct {
	Periods      []string  `json:"periods"`
	VehicleTypes []string  `json:"vehicle_types"`
	Origins      []string  `json:"origins"`
	Selection    Selection `json:"selection"`
}

type RankedRow struct {
	Province     string `json:"province"`
	ProvinceName string `json:"province_name"`
	UnitsSold    int    `json:"units_sold"`
}

type RegionValue struct {
	Province     string `json:"province"`
	ProvinceName string `json:"province_name"`
	UnitsSold    int    `json:"units_sold"`
	Color        string `json:"color"`
}

type Choropleth struct {
	Min       int           `json:"min"`
	Max       int           `json:"max"`
	Regions   []RegionValue `json:"regions"`
	Unmatched []string      `json:"unmatched"`
}

type DashboardView struct {
	Selection   Selection       `json:"selection"`
	Options     SelectorOptions `json:"options"`
	Choropleth  Choropleth      `json:"choropleth"`
	Ranked      []RankedRow     `json:"ranked"`
	RecordCount int             `json:"record_count"`
}

type MapPath struct {
	Province     string `json:"province"`
	ProvinceName string `json:"province_name"`
	D            string `json:"d"`
	Fill         string `json:"fill"`
	UnitsSold    int    `json:"units_sold"`
	HasData      bool   `json:"has_data"`
}

type MapLayout struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Paths  []MapPath `json:"paths"`
}
