// Package workspace wires a docledger directory: its configuration, ledgers,
// ingestion pipeline, audit log and git history.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/docledger/docledger/internal/batchlog"
	"github.com/docledger/docledger/internal/config"
	"github.com/docledger/docledger/internal/currency"
	"github.com/docledger/docledger/internal/extract"
	"github.com/docledger/docledger/internal/gitops"
	"github.com/docledger/docledger/internal/ingest"
	"github.com/docledger/docledger/internal/ledger"
	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/model"
)

// ErrNotWorkspace means the directory has no docledger.yaml.
var ErrNotWorkspace = errors.New("not a docledger workspace (run 'docledger init')")

// Totals summarizes both ledgers.
type Totals struct {
	Cost    ledger.Summary  `json:"cost"`
	Revenue ledger.Summary  `json:"revenue"`
	Net     decimal.Decimal `json:"net"`
}

type Option func(*Workspace)

// WithExtractor replaces the configured extraction backend.
func WithExtractor(ex ingest.Extractor) Option {
	return func(w *Workspace) { w.extractor = ex }
}

// WithRateProvider replaces the chart-history rate provider.
func WithRateProvider(rp currency.RateProvider) Option {
	return func(w *Workspace) { w.rates = rp }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Workspace) { w.log = l }
}

// Workspace is an opened docledger directory. Ingestion and overwrites are
// serialized per direction.
type Workspace struct {
	Root    string
	Config  *config.Config
	Ledgers *ledger.Ledgers

	log       *logging.Logger
	extractor ingest.Extractor
	rates     currency.RateProvider

	prepareOnce sync.Once
	prepareErr  error
	pipeline    *ingest.Pipeline
	redis       *redis.Client

	locks map[model.Direction]*sync.Mutex
}

// Open loads root/docledger.yaml. Extraction and rate services are not
// touched until Prepare.
func Open(root string, opts ...Option) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	cfg, err := config.Load(filepath.Join(abs, config.FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotWorkspace
		}
		return nil, err
	}

	w := &Workspace{
		Root:    abs,
		Config:  cfg,
		Ledgers: ledger.Open(abs),
		log:     logging.New("workspace"),
		locks:   make(map[model.Direction]*sync.Mutex),
	}
	for _, d := range model.Directions {
		w.locks[d] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Prepare validates the configuration and builds the ingestion pipeline. It
// returns a *config.FatalError when the configuration cannot work.
func (w *Workspace) Prepare(ctx context.Context) error {
	w.prepareOnce.Do(func() {
		w.prepareErr = w.prepare(ctx)
	})
	return w.prepareErr
}

func (w *Workspace) prepare(ctx context.Context) error {
	cfg := w.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	if w.extractor == nil {
		backend, err := extract.NewGemini(ctx, extract.GeminiConfig{
			Backend:  cfg.Extraction.Backend,
			APIKey:   cfg.APIKey(),
			Project:  cfg.Extraction.Project,
			Location: cfg.Extraction.Location,
			Model:    cfg.Extraction.Model,
			Timeout:  cfg.ExtractionTimeout(),
		}, logging.New("extract"))
		if err != nil {
			return &config.FatalError{Problems: []string{err.Error()}}
		}
		w.extractor = extract.New(backend, extract.Options{
			BaseCurrency:      cfg.Currency.Base,
			ForeignCurrency:   cfg.Currency.Foreign,
			Timeout:           cfg.ExtractionTimeout(),
			RequestsPerSecond: cfg.Extraction.RequestsPerSecond,
			Burst:             cfg.Extraction.Concurrency,
		}, logging.New("extract"))
	}

	rates := w.rates
	if rates == nil {
		source := currency.NewChartSource(cfg.Currency.RateSourceURL, cfg.RateTimeout())
		rates = currency.NewHistory(source, cfg.Currency.RateSymbol, cfg.Currency.LookbackDays)
	}
	if cfg.Rates.RedisAddr != "" {
		client, err := currency.NewRedisClient(ctx, cfg.Rates.RedisAddr)
		if err != nil {
			w.log.Warn("rate cache disabled", "error", err)
		} else {
			w.redis = client
			rates = currency.NewCache(client, rates, cfg.Currency.RateSymbol, cfg.CacheTTL(), logging.New("rates"))
		}
	}

	norm := currency.NewNormalizer(rates, cfg.Currency.Base, cfg.Currency.Foreign, cfg.RateTimeout(), logging.New("currency"))
	w.pipeline = ingest.New(ingest.Options{
		BaseCurrency: cfg.Currency.Base,
		Tolerance:    decimal.NewFromFloat(cfg.Validation.Tolerance),
		Concurrency:  cfg.Extraction.Concurrency,
	}, w.extractor, norm, w.Ledgers, logging.New("ingest"))
	return nil
}

// Close releases the rate cache connection.
func (w *Workspace) Close() error {
	if w.redis != nil {
		return w.redis.Close()
	}
	return nil
}

func (w *Workspace) lock(d model.Direction) func() {
	mu, ok := w.locks[d]
	if !ok {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

// Ingest runs a batch, records it in the batch log and, when git auto-commit
// is on, commits the log together with the ledger. The report is returned
// even when committing fails.
func (w *Workspace) Ingest(ctx context.Context, b ingest.Batch) (*model.Report, error) {
	if err := w.Prepare(ctx); err != nil {
		return nil, err
	}
	unlock := w.lock(b.Direction)
	defer unlock()

	report, runErr := w.pipeline.Run(ctx, b)
	if report == nil {
		return nil, runErr
	}

	if err := batchlog.Append(w.Root, batchlog.FromReport(report, time.Now().UTC())); err != nil {
		w.log.Warn("writing batch log failed", "error", err)
	}

	paths := []string{batchlog.Path(w.Root)}
	msg := fmt.Sprintf("ingest: nothing accepted for %s, batch %s", b.Direction, report.BatchID)
	if accepted := len(report.Accepted()); accepted > 0 {
		paths = append(paths, w.Ledgers.File(b.Direction).Path())
		msg = fmt.Sprintf("ingest: %d %s document(s), batch %s", accepted, b.Direction, report.BatchID)
	}
	hash, err := w.commit(msg, paths...)
	if err != nil {
		w.log.Warn("git commit failed", "error", err)
	} else if hash != "" {
		w.log.Info("batch committed", "batch", report.BatchID, "commit", hash)
	}
	return report, runErr
}

// Rows returns the ledger for d in insertion order.
func (w *Workspace) Rows(d model.Direction) ([]model.Row, error) {
	return w.Ledgers.Store(d).ReadAll()
}

// Replace overwrites the ledger for d and commits the change.
func (w *Workspace) Replace(d model.Direction, rows []model.Row, message string) error {
	unlock := w.lock(d)
	defer unlock()

	if err := w.Ledgers.Store(d).Overwrite(rows); err != nil {
		return err
	}
	if _, err := w.commit(message, w.Ledgers.File(d).Path()); err != nil {
		w.log.Warn("git commit failed", "error", err)
	}
	return nil
}

// Summary totals both ledgers.
func (w *Workspace) Summary() (Totals, error) {
	cost, err := w.Rows(model.DirectionCost)
	if err != nil {
		return Totals{}, err
	}
	revenue, err := w.Rows(model.DirectionRevenue)
	if err != nil {
		return Totals{}, err
	}
	t := Totals{Cost: ledger.Summarize(cost), Revenue: ledger.Summarize(revenue)}
	t.Net = ledger.Net(t.Cost, t.Revenue)
	return t, nil
}

func (w *Workspace) commit(message string, paths ...string) (string, error) {
	if !w.Config.Git.AutoCommit || !gitops.IsRepo(w.Root) {
		return "", nil
	}
	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		r, err := filepath.Rel(w.Root, p)
		if err != nil {
			return "", err
		}
		rel = append(rel, r)
	}
	return gitops.CommitPaths(w.Root, message, w.author(), rel...)
}

func (w *Workspace) author() gitops.Author {
	return gitops.Author{Name: w.Config.Git.AuthorName, Email: w.Config.Git.AuthorEmail}
}
