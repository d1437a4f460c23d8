package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/leann-go/internal/extract"
	"github.com/54b3r/leann-go/internal/ingestion"
	"github.com/54b3r/leann-go/internal/logging"
	"github.com/54b3r/leann-go/internal/server"
	"github.com/54b3r/leann-go/internal/version"
	"github.com/54b3r/leann-go/internal/watch"
)

// NewServeCmd constructs the `leann serve` command, which prepares the
// collection, indexes the documents directory and starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var watchDocs bool
	var skipIndex bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the leann HTTP API",
		Long: `Start the leann HTTP API.

On startup the vector collection is created if missing (failure is fatal),
then the documents directory is indexed once unless --skip-index is given.
With --watch, changes under the documents directory trigger a re-index.

Endpoints:
  POST /search, POST /ask, POST /index, GET /index/runs
  GET /health, GET /ready, GET /metrics

Examples:
  leann serve
  leann serve --port 9000 --watch
  STORE_BACKEND=memory leann serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("LEANN_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("LEANN_PORT", port)
			}
			docs := documentsDir()

			log.Info("serve starting",
				slog.String("version", version.Version),
				slog.String("documents_dir", docs),
			)

			b, err := openBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer b.Close()

			svc, err := b.service()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			runs := openRunStore(log)
			if runs != nil {
				defer func() { _ = runs.Close() }()
			}

			pipeline, err := b.pipeline(runs, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}

			if skipIndex {
				log.Info("startup index skipped")
			} else if _, err := pipeline.Index(ctx, docs); err != nil {
				// A failed pass leaves the previous index in place; keep serving.
				log.Error("startup index failed", slog.Any("error", err))
			}

			if watchDocs {
				if err := startWatcher(ctx, log, pipeline, docs); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			srvCfg := &server.Config{
				Host:         host,
				Port:         port,
				Logger:       log,
				Pingers:      b.pingers,
				Indexer:      pipeline,
				DocumentsDir: docs,
				APIKey:       os.Getenv("LEANN_API_KEY"),
			}
			if runs != nil {
				srvCfg.Runs = runs
			}

			srv, err := server.New(svc, srvCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host address to bind to (env LEANN_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (env LEANN_PORT)")
	cmd.Flags().BoolVarP(&watchDocs, "watch", "w", false, "Re-index when files under the documents directory change")
	cmd.Flags().BoolVar(&skipIndex, "skip-index", false, "Do not index the documents directory on startup")

	return cmd
}

// startWatcher re-indexes docs after each debounced burst of file changes.
// A missing documents directory disables watching with a warning.
func startWatcher(ctx context.Context, log *slog.Logger, pipeline *ingestion.Pipeline, docs string) error {
	if _, err := os.Stat(docs); err != nil {
		log.Warn("documents directory unavailable, watching disabled", slog.Any("error", err))
		return nil
	}

	w, err := watch.New(docs, func(ctx context.Context) {
		_, err := pipeline.Index(ctx, docs)
		switch {
		case errors.Is(err, ingestion.ErrIndexInProgress):
			log.Info("re-index skipped, a pass is already running")
		case err != nil:
			log.Error("re-index failed", slog.Any("error", err))
		}
	}, &watch.Config{Extensions: extract.SupportedExtensions})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error("watcher exited", slog.Any("error", err))
		}
	}()
	return nil
}
