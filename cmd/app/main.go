package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/printquote/internal/config"
	"github.com/local/printquote/internal/coverage"
	"github.com/local/printquote/internal/httpapi"
	logpkg "github.com/local/printquote/internal/logger"
	"github.com/local/printquote/internal/metrics"
	"github.com/local/printquote/internal/preview"
	"github.com/local/printquote/internal/statuscheck"
	"github.com/local/printquote/internal/store"
)

func main() {
	cfg := cfgpkg.Load()

	if err := logpkg.Init(logpkg.OptionsFromConfig("app", cfg)); err != nil {
		log.Fatal().Err(err).Msg("failed to init logger")
	}
	defer logpkg.Close()

	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	metrics.Init()

	// The order store only feeds /health here; the API works without it.
	checkOpts := statuscheck.Options{
		StoreBackend: cfg.Store.Backend,
		BridgeKind:   cfg.Bridge.Kind,
		BridgeURL:    cfg.Bridge.URL,
		S3Bucket:     cfg.Bridge.S3Bucket,
		GCSBucket:    cfg.Bridge.GCSBucket,
	}
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.Open(openCtx, cfg.Store)
	cancelOpen()
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.Store.Backend).Msg("order store unavailable; health will report it")
	} else {
		checkOpts.Store = st
		defer func() { _ = st.Close() }()
	}

	api := httpapi.New(
		coverage.New(cfg.Render.AnalysisDPI),
		preview.New(cfg.Render.PreviewDPI),
		statuscheck.New(checkOpts),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info().Msg("shutdown complete")
}
