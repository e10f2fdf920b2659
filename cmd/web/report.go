package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"carsales-dashboard/internal/config"
	"carsales-dashboard/internal/models"
	"carsales-dashboard/internal/observability"
	"carsales-dashboard/internal/ui/templates"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f0f921"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9c179e"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ed7953"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newReportCmd(configFile *string) *cobra.Command {
	var sel models.Selection

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the province ranking for a selection",
		Long: "Print the province ranking for a selection. Empty selectors " +
			"default to the first value offered at their level.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := observability.NewLoggerWithWriter(cfg.Logger, cmd.ErrOrStderr())

			dashboard, err := loadDashboard(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			view, err := dashboard.View(cmd.Context(), sel)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), view)
		},
	}

	cmd.Flags().StringVar(&sel.Period, "period", "", "reference month, e.g. 2024-01")
	cmd.Flags().StringVar(&sel.VehicleType, "vehicle-type", "", "vehicle type")
	cmd.Flags().StringVar(&sel.Origin, "origin", "", "origin of manufacture")

	return cmd
}

func writeReport(w io.Writer, view models.DashboardView) error {
	rows := make([][]string, 0, len(view.Ranked))
	for i, r := range view.Ranked {
		rows = append(rows, []string{strconv.Itoa(i + 1), r.ProvinceName, strconv.Itoa(r.UnitsSold)})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 {
				return cellStyle.Align(lipgloss.Right)
			}
			return cellStyle
		}).
		Headers("#", "Province", "Units Sold").
		Rows(rows...)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(templates.Title) + "\n")
	for _, line := range [][2]string{
		{"Month", view.Selection.Period},
		{"Vehicle type", view.Selection.VehicleType},
		{"Origin", view.Selection.Origin},
	} {
		sb.WriteString(labelStyle.Render(line[0]+":") + " " + line[1] + "\n")
	}
	sb.WriteString(t.String() + "\n")
	if len(view.Choropleth.Unmatched) > 0 {
		sb.WriteString(warnStyle.Render("not on map: "+strings.Join(view.Choropleth.Unmatched, ", ")) + "\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
