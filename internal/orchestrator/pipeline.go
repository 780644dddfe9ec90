package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/printquote/internal/coverage"
	"github.com/local/printquote/internal/metrics"
	"github.com/local/printquote/internal/order"
	"github.com/local/printquote/internal/preview"
	"github.com/local/printquote/internal/quote"
)

// process runs every stage for a claimed order and persists exactly one
// outcome: quoted with all results, or error with message and trace.
// Cancelling ctx does not interrupt an order in progress.
func (o *Orchestrator) process(ctx context.Context, ord *order.Order) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	l := log.With().Str("order_id", ord.ID).Str("worker", o.cfg.WorkerID).Logger()
	l.Info().Msg("processing order")

	res, err := o.runStages(ctx, ord, l)
	if err == nil {
		if err = o.deps.Store.MarkQuoted(ctx, ord.ID, *res); err != nil {
			err = errors.Wrap(err, "persist result")
		}
	}
	if err != nil {
		o.fail(ctx, ord.ID, err, l)
		return
	}
	metrics.IncProcessed(string(order.StatusQuoted))
	l.Info().
		Int64("total_clp", res.Quote.TotalCLP).
		Float64("coverage_pct", res.Analysis.CoveragePct).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("order quoted")
}

func (o *Orchestrator) fail(ctx context.Context, id string, err error, l zerolog.Logger) {
	metrics.IncProcessed(string(order.StatusError))
	l.Error().Err(err).Msg("order failed")
	f := order.Failure{Message: err.Error(), Trace: fmt.Sprintf("%+v", err)}
	if merr := o.deps.Store.MarkFailed(ctx, id, f); merr != nil {
		l.Error().Err(merr).Msg("could not record order failure")
	}
}

// runStages is download → analyze → render → upload → quote. Nothing is
// written to the order until every stage has succeeded.
func (o *Orchestrator) runStages(ctx context.Context, ord *order.Order, l zerolog.Logger) (res *order.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic during processing: %v", r)
		}
	}()

	if ord.File == nil || ord.File.DriveFileID == "" {
		return nil, errors.New("order has no uploaded file reference (file.driveFileId)")
	}

	ws, err := newWorkspace(o.cfg.TempDir)
	if err != nil {
		return nil, errors.Wrap(err, "create workspace")
	}
	defer func() {
		if rerr := ws.remove(); rerr != nil {
			l.Warn().Err(rerr).Str("dir", ws.dir).Msg("workspace cleanup failed")
		}
	}()

	var (
		source       []byte
		filename     string
		originalPath string
		analysis     *coverage.Analysis
		previewPath  string
		uploaded     order.Preview
	)

	err = o.stage(l, "download", func() error {
		f, err := o.deps.Bridge.Download(ctx, ord.File.DriveFileID)
		if err != nil {
			return err
		}
		filename = f.Filename
		originalPath, err = ws.save(filename, f.Data)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Later stages work from the workspace copy of the original.
	err = o.stage(l, "analyze", func() error {
		data, err := os.ReadFile(originalPath)
		if err != nil {
			return err
		}
		source = data
		a, err := o.deps.Analyzer.Analyze(source, filename)
		if err != nil {
			return err
		}
		analysis = a
		metrics.ObserveCoverage(a.CoveragePct)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(l, "preview", func() error {
		pdf, err := o.deps.Preview.Render(source, ord.ID, *analysis)
		if err != nil {
			return err
		}
		previewPath, err = ws.save(preview.Filename(ord.ID), pdf)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(l, "upload", func() error {
		pdf, err := os.ReadFile(previewPath)
		if err != nil {
			return err
		}
		up, err := o.deps.Bridge.UploadPreview(ctx, ord.ID, preview.Filename(ord.ID), preview.ContentType, pdf)
		if err != nil {
			return err
		}
		uploaded = order.Preview{Provider: up.Provider, FileID: up.FileID, URL: up.URL, ContentType: preview.ContentType}
		return nil
	})
	if err != nil {
		return nil, err
	}

	quoteStart := time.Now()
	q := quote.Calculate(ord.Options, *analysis)
	metrics.ObserveStage("quote", time.Since(quoteStart))

	return &order.Result{Analysis: *analysis, Preview: uploaded, Quote: q}, nil
}

// stage times fn and annotates its error with the stage name and a stack.
func (o *Orchestrator) stage(l zerolog.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	dur := time.Since(start)
	metrics.ObserveStage(name, dur)
	if err != nil {
		l.Warn().Err(err).Str("stage", name).Int64("duration_ms", dur.Milliseconds()).Msg("stage failed")
		return errors.Wrap(err, name)
	}
	l.Debug().Str("stage", name).Int64("duration_ms", dur.Milliseconds()).Msg("stage done")
	return nil
}
