// Package orchestrator drives uploaded orders through analysis, preview and
// quoting. Each worker process claims orders one at a time; running several
// workers against the same store is safe because claims are atomic.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/printquote/internal/bridge"
	"github.com/local/printquote/internal/coverage"
	"github.com/local/printquote/internal/metrics"
	"github.com/local/printquote/internal/order"
)

// Analyzer measures a document's first page.
type Analyzer interface {
	Analyze(data []byte, filename string) (*coverage.Analysis, error)
}

// PreviewRenderer builds the one-page preview PDF.
type PreviewRenderer interface {
	Render(data []byte, orderID string, a coverage.Analysis) ([]byte, error)
}

type Config struct {
	WorkerID     string
	BatchLimit   int
	PollInterval time.Duration
	// RunWindow bounds RunBounded.
	RunWindow time.Duration
	// OrderID targets one order instead of the queue.
	OrderID   string
	OrderWait time.Duration
	// OrderPoll is the re-read interval while waiting for OrderID to appear.
	OrderPoll    time.Duration
	ErrorBackoff time.Duration
	// Settle is the pause between batches in a bounded run.
	Settle  time.Duration
	RunOnce bool
	// TempDir is where per-order working directories are created.
	TempDir    string
	TempMaxAge time.Duration
}

type Dependencies struct {
	Store    order.Store
	Bridge   bridge.Bridge
	Analyzer Analyzer
	Preview  PreviewRenderer
}

type Orchestrator struct {
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if cfg.RunWindow <= 0 {
		cfg.RunWindow = 240 * time.Second
	}
	if cfg.OrderPoll <= 0 {
		cfg.OrderPoll = time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = cfg.PollInterval
	}
	if cfg.Settle <= 0 {
		cfg.Settle = time.Second
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = time.Hour
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Run picks the loop matching cfg.RunOnce.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.RunOnce {
		return o.RunBounded(ctx)
	}
	return o.RunDaemon(ctx)
}

// RunDaemon polls until ctx is cancelled. Loop errors are logged and retried
// after ErrorBackoff.
func (o *Orchestrator) RunDaemon(ctx context.Context) error {
	o.logStart("daemon")
	for {
		if ctx.Err() != nil {
			log.Info().Str("worker", o.cfg.WorkerID).Msg("worker stopping")
			return nil
		}
		n, _, err := o.poll(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			metrics.IncLoopError()
			log.Error().Err(err).Str("worker", o.cfg.WorkerID).Msg("loop error; backing off")
			_ = sleep(ctx, o.cfg.ErrorBackoff)
		case n == 0:
			_ = sleep(ctx, o.cfg.PollInterval)
		}
	}
}

// RunBounded polls until RunWindow elapses or the targeted order reaches a
// terminal state. Loop errors end the run and are returned to the caller.
// An order already being processed always runs to completion first.
func (o *Orchestrator) RunBounded(ctx context.Context) error {
	o.logStart("run_once")
	deadline := time.Now().Add(o.cfg.RunWindow)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, done, err := o.poll(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		if err != nil {
			metrics.IncLoopError()
			log.Error().Err(err).Str("worker", o.cfg.WorkerID).Msg("loop error in bounded run")
			return err
		}
		if done {
			log.Info().Str("order_id", o.cfg.OrderID).Msg("target order finished; exiting")
			return nil
		}
		if !time.Now().Before(deadline) {
			log.Info().Int("processed", n).Msg("run window ended; exiting")
			return nil
		}
		pause := o.cfg.PollInterval
		if n > 0 {
			pause = o.cfg.Settle
		}
		if err := sleep(ctx, minDuration(pause, time.Until(deadline))); err != nil {
			return nil
		}
	}
}

// poll runs one fetch-claim-process cycle. It returns the number of orders
// this worker processed and, when targeting one order, whether that order
// is now terminal.
func (o *Orchestrator) poll(ctx context.Context) (int, bool, error) {
	orders, err := o.fetch(ctx)
	if err != nil {
		return 0, false, err
	}
	processed := 0
	for _, ord := range orders {
		ok, err := o.claim(ctx, ord)
		if err != nil {
			return processed, false, err
		}
		if !ok {
			continue
		}
		o.process(ctx, ord)
		processed++
	}
	if processed > 0 {
		CleanupTemps(o.cfg.TempDir, o.cfg.TempMaxAge)
	}

	if o.cfg.OrderID == "" {
		return processed, false, nil
	}
	cur, err := o.deps.Store.Get(context.WithoutCancel(ctx), o.cfg.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return processed, false, nil
		}
		return processed, false, err
	}
	return processed, cur.Status.Terminal(), nil
}

func (o *Orchestrator) claim(ctx context.Context, ord *order.Order) (bool, error) {
	ok, err := o.deps.Store.TryClaim(ctx, ord.ID, order.StatusUploaded, order.StatusInProgress, o.cfg.WorkerID)
	switch {
	case err != nil:
		metrics.IncClaim("error")
		return false, err
	case !ok:
		metrics.IncClaim("skipped")
		log.Debug().Str("order_id", ord.ID).Msg("order already claimed; skipping")
		return false, nil
	}
	metrics.IncClaim("claimed")
	log.Info().Str("order_id", ord.ID).Str("worker", o.cfg.WorkerID).Msg("order claimed")
	return true, nil
}

func (o *Orchestrator) logStart(mode string) {
	target := "queue"
	if o.cfg.OrderID != "" {
		target = "order:" + o.cfg.OrderID
	}
	log.Info().
		Str("worker", o.cfg.WorkerID).
		Str("mode", mode).
		Str("target", target).
		Int("batch_limit", o.cfg.BatchLimit).
		Dur("poll_interval", o.cfg.PollInterval).
		Msg("worker started")
}

// sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
