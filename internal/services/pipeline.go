package services

import (
	"fmt"
	"slices"
	"strings"

	"carsales-dashboard/internal/models"
)

// SelectionError reports a selector value that is not among the candidates
// of its cascade level.
type SelectionError struct {
	Field      models.Field
	Value      string
	Candidates []string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid %s %q: must be one of [%s]", e.Field, e.Value, strings.Join(e.Candidates, ", "))
}

// DistinctValues returns the distinct values of field in reverse first-seen
// order: the value discovered last comes first.
func DistinctValues(records []models.SalesRecord, field models.Field) []string {
	seen := make(map[string]struct{})
	values := make([]string, 0)
	for _, r := range records {
		v, ok := r.Value(field)
		if !ok {
			return []string{}
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	slices.Reverse(values)
	return values
}

// FilterBy returns the records whose field equals value exactly, in input order.
func FilterBy(records []models.SalesRecord, field models.Field, value string) []models.SalesRecord {
	result := make([]models.SalesRecord, 0)
	for _, r := range records {
		if v, ok := r.Value(field); ok && v == value {
			result = append(result, r)
		}
	}
	return result
}

// ApplySelection narrows records by period, then vehicle type, then origin.
// Each value must be a candidate of its stage.
func ApplySelection(records []models.SalesRecord, sel models.Selection) ([]models.SalesRecord, error) {
	current := records
	for _, field := range models.CascadeFields {
		value := sel.Value(field)
		candidates := DistinctValues(current, field)
		if !slices.Contains(candidates, value) {
			return nil, &SelectionError{Field: field, Value: value, Candidates: candidates}
		}
		current = FilterBy(current, field, value)
	}
	return current, nil
}

// MatchAll filters records with the three selection predicates conjoined in a
// single pass. It performs no candidate validation.
func MatchAll(records []models.SalesRecord, sel models.Selection) []models.SalesRecord {
	result := make([]models.SalesRecord, 0)
	for _, r := range records {
		if r.Period == sel.Period && r.VehicleType == sel.VehicleType && r.Origin == sel.Origin {
			result = append(result, r)
		}
	}
	return result
}

// RankByUnits returns a copy of records sorted by units sold, highest first.
// Ties keep their input order.
func RankByUnits(records []models.SalesRecord) []models.SalesRecord {
	ranked := slices.Clone(records)
	if ranked == nil {
		ranked = make([]models.SalesRecord, 0)
	}
	slices.SortStableFunc(ranked, func(a, b models.SalesRecord) int {
		switch {
		case a.UnitsSold > b.UnitsSold:
			return -1
		case a.UnitsSold < b.UnitsSold:
			return 1
		default:
			return 0
		}
	})
	return ranked
}

// Candidates derives the option list of every selector from the records that
// match all higher-level selections. Levels below an empty or invalid
// selection are left empty.
func Candidates(records []models.SalesRecord, sel models.Selection) (models.SelectorOptions, error) {
	opts := models.SelectorOptions{
		Periods:      []string{},
		VehicleTypes: []string{},
		Origins:      []string{},
		Selection:    sel,
	}

	current := records
	for _, field := range models.CascadeFields {
		candidates := DistinctValues(current, field)
		switch field {
		case models.FieldPeriod:
			opts.Periods = candidates
		case models.FieldVehicleType:
			opts.VehicleTypes = candidates
		case models.FieldOrigin:
			opts.Origins = candidates
		}

		value := sel.Value(field)
		if value == "" {
			return opts, nil
		}
		if !slices.Contains(candidates, value) {
			return opts, &SelectionError{Field: field, Value: value, Candidates: candidates}
		}
		current = FilterBy(current, field, value)
	}
	return opts, nil
}

// Resolve fills every empty selector with the first candidate of its level,
// the way a freshly populated dropdown defaults to its first entry. Values
// that are set must be valid candidates.
func Resolve(records []models.SalesRecord, sel models.Selection) (models.Selection, error) {
	resolved := sel
	current := records
	for _, field := range models.CascadeFields {
		candidates := DistinctValues(current, field)
		value := resolved.Value(field)
		if value == "" {
			if len(candidates) == 0 {
				return resolved, &SelectionError{Field: field, Value: value, Candidates: candidates}
			}
			value = candidates[0]
			resolved.Set(field, value)
		} else if !slices.Contains(candidates, value) {
			return resolved, &SelectionError{Field: field, Value: value, Candidates: candidates}
		}
		current = FilterBy(current, field, value)
	}
	return resolved, nil
}
