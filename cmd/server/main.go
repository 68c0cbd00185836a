// Command server runs the reference relay: room codes, the websocket rooms
// two draft clients play through, and the scoring API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/anifight-draft/internal/catalog"
	"github.com/DoyleJ11/anifight-draft/internal/config"
	"github.com/DoyleJ11/anifight-draft/internal/httpapi"
	"github.com/DoyleJ11/anifight-draft/internal/hub"
	"github.com/DoyleJ11/anifight-draft/internal/lobby"
	"github.com/DoyleJ11/anifight-draft/internal/logging"
	"github.com/DoyleJ11/anifight-draft/internal/ws"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cat, err := openCatalog(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, cat.Close()) }()

	h := hub.NewHub(ctx, lobby.Config{
		Logger:       logger,
		Catalog:      cat,
		PingInterval: cfg.PingInterval,
		TickInterval: cfg.TickInterval,
		GraceTicks:   cfg.GraceTicks,
		IdleTimeout:  10 * time.Minute,
	})

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:     h,
			Catalog: cat,
			Logger:  logger,
			WS:      ws.Options{ReadTimeout: cfg.HeartbeatCheckInterval * time.Duration(cfg.HeartbeatMaxMissed)},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func openCatalog(cfg *config.Config, logger *zap.Logger) (catalog.Catalog, error) {
	if cfg.DatabaseURL != "" {
		cat, err := catalog.OpenPostgres(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		logger.Info("catalog from postgres")
		return cat, nil
	}
	cat, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("loading catalog file: %w", err)
	}
	logger.Info("catalog from file", zap.String("path", cfg.CatalogFile))
	return cat, nil
}
