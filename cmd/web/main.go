package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"carsales-dashboard/internal/config"
	"carsales-dashboard/internal/services"
	"carsales-dashboard/internal/ui/templates"
)

const (
	version        = "1.0.0"
	renderTimeout  = 10 * time.Second
	csvLoadTimeout = 30 * time.Second
	cacheMaxAge    = "public, max-age=300"
)

// Template handler functions that can access the template functions
func handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	w.Header().Set("Cache-Control", cacheMaxAge)
	if err := templates.Dashboard().Render(ctx, w); err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "carsales-dashboard",
		Short:         templates.Title,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "path to a YAML config file")
	flags.String("host", "", "listen host")
	flags.Int("port", 0, "listen port")
	flags.String("csv", "", "sales CSV file")
	flags.String("encoding", "", "CSV text encoding (latin-1, utf-8, ...)")
	flags.String("geojson", "", "province boundaries GeoJSON file")
	flags.String("feature-key", "", "GeoJSON property holding the province code")
	flags.String("cache-dir", "", "directory for the decoded CSV cache")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "json or text")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the dashboard over HTTP",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, configFile)
			},
		},
		newReportCmd(&configFile),
	)

	return root
}

// loadDashboard reads the CSV and boundary files under csvLoadTimeout.
func loadDashboard(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services.Dashboard, error) {
	ctx, cancel := context.WithTimeout(ctx, csvLoadTimeout)
	defer cancel()

	start := time.Now()
	loader := services.NewLoader(logger, cfg.Data.CacheDir)
	data, err := loader.Load(ctx, services.DataSource{
		CSVFile:     cfg.Data.CSVFile,
		Encoding:    cfg.Data.Encoding,
		GeoJSONFile: cfg.Data.GeoJSONFile,
		FeatureKey:  cfg.Data.FeatureKey,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("dataset loaded successfully",
		"duration", time.Since(start),
		"records", len(data.Records()),
		"boundaries", data.Boundaries().Len(),
	)

	return services.NewDashboard(data, logger), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
