// Package templates holds the templ components of the dashboard page and
// the fragments patched into it over SSE. Components are declared in
// dashboard.templ; run `templ generate` after editing it.
package templates

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"carsales-dashboard/internal/models"
)

const (
	Title       = "Canada Automobiles Sales Dashboard"
	datastarCDN = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.6/bundles/datastar.js"
)

func viewBox(layout models.MapLayout) string {
	return "0 0 " + strconv.Itoa(layout.Width) + " " + strconv.Itoa(layout.Height)
}

// pathTitle is the hover text of a province. Provinces without sales in
// the selection show their name only.
func pathTitle(p models.MapPath) string {
	if !p.HasData {
		return p.ProvinceName
	}
	return fmt.Sprintf("%s: %d units", p.ProvinceName, p.UnitsSold)
}

func barStyle(units, maxUnits int) map[string]string {
	pct := 0
	if maxUnits > 0 {
		pct = units * 100 / maxUnits
	}
	return map[string]string{"width": strconv.Itoa(pct) + "%"}
}

// String renders c into a string for SSE patches.
func String(ctx context.Context, c templ.Component) (string, error) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
