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

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/printquote/internal/bridge"
	cfgpkg "github.com/local/printquote/internal/config"
	"github.com/local/printquote/internal/coverage"
	logpkg "github.com/local/printquote/internal/logger"
	"github.com/local/printquote/internal/metrics"
	"github.com/local/printquote/internal/orchestrator"
	"github.com/local/printquote/internal/preview"
	"github.com/local/printquote/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("worker exited with error")
		logpkg.Close()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logpkg.Close()
}

func run() error {
	cfg := cfgpkg.Load()
	if err := logpkg.Init(logpkg.OptionsFromConfig("worker", cfg)); err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	br, closeBridge, err := bridge.Open(ctx, cfg.Bridge, cfg.Store.CredentialsFile)
	if err != nil {
		return err
	}
	defer func() { _ = closeBridge() }()

	orch := orchestrator.New(orchestrator.Config{
		WorkerID:     cfg.Worker.ID,
		BatchLimit:   cfg.Worker.BatchLimit,
		PollInterval: cfg.Worker.PollInterval,
		RunWindow:    cfg.Worker.RunWindow,
		OrderID:      cfg.Worker.OrderID,
		OrderWait:    cfg.Worker.OrderWait,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
		RunOnce:      cfg.Worker.RunOnce,
	}, orchestrator.Dependencies{
		Store:    st,
		Bridge:   br,
		Analyzer: coverage.New(cfg.Render.AnalysisDPI),
		Preview:  preview.New(cfg.Render.PreviewDPI),
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	if addr := cfg.Worker.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// A finished bounded run ends the process, metrics server included.
		defer cancelRun()
		return orch.Run(runCtx)
	})

	return g.Wait()
}
