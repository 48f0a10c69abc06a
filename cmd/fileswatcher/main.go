// Command fileswatcher watches the incoming directories of every active file
// type, moves stable files into their staging directories and records each
// one as a new intake record. It exposes an admin API with health, metrics,
// record queries and a live feed, and shuts down gracefully on SIGTERM or
// SIGINT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/intake/fileswatcher/internal/agent"
	"github.com/intake/fileswatcher/internal/catalog"
	"github.com/intake/fileswatcher/internal/config"
	"github.com/intake/fileswatcher/internal/intake"
	"github.com/intake/fileswatcher/internal/journal"
	"github.com/intake/fileswatcher/internal/logging"
	"github.com/intake/fileswatcher/internal/metrics"
	"github.com/intake/fileswatcher/internal/records"
	"github.com/intake/fileswatcher/internal/server/rest"
	ws "github.com/intake/fileswatcher/internal/server/websocket"
	"github.com/intake/fileswatcher/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "/etc/fileswatcher/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fileswatcher: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("watch_backend", cfg.Watch.Backend),
		slog.String("records_driver", cfg.Records.Driver),
		slog.String("catalog_source", cfg.Catalog.Source),
		slog.String("admin_addr", cfg.AdminAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fileswatcher: exiting", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("fileswatcher exited cleanly")
}

// run wires the components and blocks until ctx is cancelled or the watch
// loop stops on its own.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()

	store, err := records.Open(ctx, cfg.Records.Driver, cfg.Records.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	cat, closeCatalog, err := openCatalog(ctx, cfg.Catalog)
	if err != nil {
		return err
	}
	defer closeCatalog()

	feed := ws.NewBroadcaster(logger, ws.DefaultBufferSize)
	defer feed.Close()

	listeners := []intake.Listener{feed}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Warn("journal: close failed", slog.Any("error", err))
			}
		}()
		listeners = append(listeners, j)
	}

	processor := intake.NewProcessor(store,
		intake.NewProber(cfg.Watch.QuiescenceWindow, logger),
		logger,
		intake.WithMetrics(m),
		intake.WithUTC(cfg.Watch.TimestampUTC),
		intake.WithListeners(listeners...),
	)

	newService := func() (watcher.Service, error) {
		return watcher.New(watcher.Config{
			Backend:      cfg.Watch.Backend,
			PollInterval: cfg.Watch.PollInterval,
		}, logger)
	}
	ag := agent.New(cat, processor, newService, logger, agent.WithMetrics(m))
	processor.AddListener(ag)

	var admin *http.Server
	if cfg.AdminAddr != config.AdminDisabled {
		var auth *rest.JWTConfig
		if cfg.API.JWTPublicKeyPath != "" {
			key, err := rest.LoadRSAPublicKey(cfg.API.JWTPublicKeyPath)
			if err != nil {
				return err
			}
			auth = &rest.JWTConfig{
				PublicKey: key,
				Issuer:    cfg.API.Issuer,
				Audience:  cfg.API.Audience,
				Logger:    logger,
			}
		}
		srv := rest.NewServer(ag, store, logger,
			rest.WithMetricsHandler(m.Handler()),
			rest.WithFeed(ws.NewHandler(feed, logger, ws.DefaultWriteTimeout)),
		)
		admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           rest.NewRouter(srv, auth),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin server listening", slog.String("addr", cfg.AdminAddr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server error", slog.Any("error", err))
			}
		}()
	}

	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		ag.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case <-agentDone:
		logger.Warn("watch loop stopped; shutting down")
	}

	// Stop the watch loop first so no record is created after the store
	// closes.
	ag.Stop()
	<-agentDone

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		feed.Close()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin server shutdown error", slog.Any("error", err))
		}
	}
	return nil
}

// openCatalog returns the catalog selected by cfg and its release func.
func openCatalog(ctx context.Context, cfg config.CatalogConfig) (intake.Catalog, func(), error) {
	switch cfg.Source {
	case "postgres":
		pg, err := catalog.NewPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return catalog.NewStatic(cfg.FileTypes), func() {}, nil
	}
}
