package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	cfgpkg "github.com/local/printquote/internal/config"
)

// Options defines logger initialization parameters.
type Options struct {
	Service    string
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	SendToAxiom  bool
	AxiomAPIKey  string
	AxiomOrgID   string
	AxiomDataset string
	AxiomFlush   time.Duration
}

// OptionsFromConfig maps the process configuration onto logger options.
func OptionsFromConfig(service string, cfg cfgpkg.Config) Options {
	return Options{
		Service:      service,
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	}
}

var (
	global zerolog.Logger
	ax     *axiomClient
)

// Init sets up the global logger: stdout (JSON or console), optional rotated
// file, optional Axiom forwarding.
func Init(opts Options) error {
	var writers []io.Writer

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}

	if opts.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stdout)
	}

	if opts.SendToAxiom && opts.AxiomAPIKey != "" {
		client, err := newAxiomClient(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
		} else {
			ax = client
			writers = append(writers, &axiomWriter{shipper: client, service: opts.Service})
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	global = ctx.Logger()
	log.Logger = global
	return nil
}

// Close flushes any buffered external loggers.
func Close() {
	if ax != nil {
		_ = ax.Close()
	}
}

// Get returns the global logger.
func Get() *zerolog.Logger { return &global }

// axiomWriter ships info-and-above events to Axiom. Debug output stays local.
type axiomWriter struct {
	shipper *axiomClient
	service string
}

func (w *axiomWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *axiomWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < zerolog.InfoLevel {
		return len(p), nil
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = map[string]interface{}{"message": string(p), "level": l.String()}
	}
	if _, ok := ev["service"]; !ok && w.service != "" {
		ev["service"] = w.service
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	w.shipper.Send(axiom.Event(ev))
	return len(p), nil
}

const (
	axiomBuffer   = 1000
	axiomMaxBatch = 200
)

type ingestFunc func(ctx context.Context, dataset string, events []axiom.Event) error

// axiomClient batches events and ingests them from a single goroutine,
// flushing every interval, when a batch fills, and on Close.
type axiomClient struct {
	ingest  ingestFunc
	dataset string
	ch      chan axiom.Event
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func newAxiomClient(token, orgID, dataset string, flushEvery time.Duration) (*axiomClient, error) {
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	ingestEvents := func(ctx context.Context, dataset string, events []axiom.Event) error {
		_, err := c.IngestEvents(ctx, dataset, events)
		return err
	}
	return startBatcher(ingestEvents, dataset, flushEvery), nil
}

func startBatcher(fn ingestFunc, dataset string, flushEvery time.Duration) *axiomClient {
	if dataset == "" {
		dataset = "dev_printquote"
	}
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &axiomClient{
		ingest:  fn,
		dataset: dataset,
		ch:      make(chan axiom.Event, axiomBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	a.wg.Add(1)
	go a.loop(flushEvery)
	return a
}

// Send enqueues an event; it is dropped when the buffer is full.
func (a *axiomClient) Send(ev axiom.Event) {
	select {
	case a.ch <- ev:
	default:
	}
}

func (a *axiomClient) loop(flushEvery time.Duration) {
	defer a.wg.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	batch := make([]axiom.Event, 0, axiomMaxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := a.ingest(ctx, a.dataset, batch); err != nil {
			fmt.Fprintf(os.Stderr, "axiom ingest failed (%d events): %v\n", len(batch), err)
		}
		cancel()
		batch = make([]axiom.Event, 0, axiomMaxBatch)
	}
	for {
		select {
		case <-a.ctx.Done():
			for {
				select {
				case ev := <-a.ch:
					batch = append(batch, ev)
					if len(batch) >= axiomMaxBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case ev := <-a.ch:
			batch = append(batch, ev)
			if len(batch) >= axiomMaxBatch {
				flush()
			}
		}
	}
}

func (a *axiomClient) Close() error {
	a.cancel()
	a.wg.Wait()
	return nil
}
