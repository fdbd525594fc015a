// Package ingest runs a batch of documents through extraction,
// deduplication, currency normalization and validation, and commits the
// accepted rows to the direction's ledger in one write.
package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/docledger/docledger/internal/currency"
	"github.com/docledger/docledger/internal/extract"
	"github.com/docledger/docledger/internal/ledger"
	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/metrics"
	"github.com/docledger/docledger/internal/model"
	"github.com/docledger/docledger/internal/signature"
	"github.com/docledger/docledger/internal/validate"
)

// Extractor turns one document into a record or an error.
type Extractor interface {
	Extract(ctx context.Context, doc model.Document, role model.Role) (model.ExtractedRecord, error)
}

// Normalizer converts foreign-currency records into the base currency.
type Normalizer interface {
	Normalize(ctx context.Context, rec model.ExtractedRecord) currency.Conversion
}

// Ledgers resolves the store for a direction.
type Ledgers interface {
	Store(d model.Direction) ledger.Store
}

type Options struct {
	BaseCurrency string
	Tolerance    decimal.Decimal
	Concurrency  int
}

// Batch is one submission of documents against a ledger.
type Batch struct {
	Direction       model.Direction
	Documents       []model.Document
	AllowDuplicates bool
}

// Pipeline processes batches. It holds no per-batch state.
type Pipeline struct {
	opts       Options
	extractor  Extractor
	normalizer Normalizer
	ledgers    Ledgers
	log        *logging.Logger
	now        func() time.Time
}

func New(opts Options, ex Extractor, norm Normalizer, ledgers Ledgers, log *logging.Logger) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Tolerance.IsZero() {
		opts.Tolerance = validate.Tolerance
	}
	opts.BaseCurrency = model.NormalizeText(opts.BaseCurrency)
	if log == nil {
		log = logging.Discard()
	}
	return &Pipeline{
		opts:       opts,
		extractor:  ex,
		normalizer: norm,
		ledgers:    ledgers,
		log:        log,
		now:        time.Now,
	}
}

// SetClock replaces the clock used for batch timestamps and fallback names.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

type extraction struct {
	rec model.ExtractedRecord
	err error
}

// Run processes a batch. Per-document problems are recorded in the report;
// an error is returned only when the ledger cannot be read or written. On a
// write error the report is still returned.
func (p *Pipeline) Run(ctx context.Context, b Batch) (*model.Report, error) {
	started := p.now()
	report := &model.Report{
		BatchID:   uuid.NewString(),
		Direction: b.Direction,
		StartedAt: started,
		Outcomes:  make([]model.Outcome, len(b.Documents)),
	}
	log := p.log.With("batch", report.BatchID, "direction", string(b.Direction))

	store := p.ledgers.Store(b.Direction)
	existing, err := store.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s ledger: %w", b.Direction, err)
	}
	index := signature.FromRows(existing)
	log.Info("batch started", "documents", len(b.Documents), "known_signatures", index.Len(), "allow_duplicates", b.AllowDuplicates)

	docs := make([]model.Document, len(b.Documents))
	for i, doc := range b.Documents {
		if doc.Name == "" {
			doc.Name = fmt.Sprintf("Photo_%s.jpg", started.Format("150405"))
		}
		docs[i] = doc
		report.Outcomes[i] = model.Outcome{Index: i, SourceName: doc.Name, State: model.StatePending}
	}

	results := p.extractAll(ctx, docs, b.Direction.Role())

	var accepted []model.Row
	for i, res := range results {
		out := &report.Outcomes[i]
		if res.err != nil {
			out.State = model.StateFailed
			out.Reason = extract.AsFailure(res.err).Error()
			log.Warn("document failed", "document", out.SourceName, "reason", out.Reason)
			continue
		}
		out.State = model.StateExtracted

		sig := res.rec.Signature()
		duplicate := index.Contains(sig)
		if duplicate && !b.AllowDuplicates {
			out.State = model.StateDuplicateSkipped
			out.Reason = fmt.Sprintf("duplicate of %s / %s", sig.DocumentNumber, sig.Total)
			log.Info("duplicate skipped", "document", out.SourceName, "document_number", sig.DocumentNumber, "total", sig.Total)
			continue
		}

		row := p.buildRow(ctx, res.rec, out.SourceName, duplicate)
		out.State = model.StateAccepted
		out.Row = &row
		if row.Verdict == model.VerdictMathError {
			if mismatch := validate.Check(res.rec.Subtotal, res.rec.Tax, res.rec.Total, p.opts.Tolerance); mismatch != nil {
				out.Reason = mismatch.Error()
				log.Warn("arithmetic mismatch", "document", out.SourceName, "document_number", row.DocumentNumber, "detail", out.Reason)
			}
		}
		accepted = append(accepted, row)
		index.Add(sig)
	}

	var appendErr error
	if err := store.Append(accepted); err != nil {
		appendErr = fmt.Errorf("appending to %s ledger: %w", b.Direction, err)
		for i := range report.Outcomes {
			out := &report.Outcomes[i]
			if out.State == model.StateAccepted {
				out.State = model.StateFailed
				out.Reason = "ledger write failed"
				out.Row = nil
			}
		}
		log.Error("ledger append failed", "rows", len(accepted), "error", err)
	}

	p.observe(report, started)
	log.Info("batch finished",
		"accepted", len(report.Accepted()),
		"skipped", len(report.Skipped()),
		"failed", len(report.Failed()),
		"flagged", len(report.Flagged()),
	)
	return report, appendErr
}

// extractAll extracts every document and returns results in submission
// order.
func (p *Pipeline) extractAll(ctx context.Context, docs []model.Document, role model.Role) []extraction {
	results := make([]extraction, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i := range docs {
		g.Go(func() error {
			results[i] = p.extractOne(gctx, docs[i], role)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) extractOne(ctx context.Context, doc model.Document, role model.Role) (res extraction) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("extractor panicked", "document", doc.Name, "panic", r, "stack", string(debug.Stack()))
			res = extraction{err: &extract.Failure{Kind: extract.KindInternal, Reason: "internal error", Err: fmt.Errorf("%v", r)}}
		}
	}()
	rec, err := p.extractor.Extract(ctx, doc, role)
	return extraction{rec: rec, err: err}
}

func (p *Pipeline) buildRow(ctx context.Context, rec model.ExtractedRecord, source string, duplicate bool) model.Row {
	row := model.Row{
		Date:           rec.Date,
		DocumentNumber: rec.DocumentNumber,
		Counterparty:   rec.Counterparty,
		Subtotal:       rec.Subtotal,
		Tax:            rec.Tax,
		Total:          rec.Total,
		Currency:       rec.Currency,
		SourceName:     source,
		Rate:           model.IdentityRate,
	}
	if rec.Currency != p.opts.BaseCurrency {
		conv := p.normalizer.Normalize(ctx, rec)
		row.Subtotal = conv.Subtotal
		row.Tax = conv.Tax
		row.Total = conv.Total
		row.ForeignTotal = conv.ForeignTotal
		row.Rate = conv.Rate
	}
	row.Verdict = validate.Verdict(rec, p.opts.BaseCurrency, p.opts.Tolerance, duplicate)
	return row
}

func (p *Pipeline) observe(r *model.Report, started time.Time) {
	direction := string(r.Direction)
	for _, o := range r.Outcomes {
		metrics.ObserveDocument(direction, string(o.State))
		if o.Row != nil {
			metrics.ObserveVerdict(direction, string(o.Row.Verdict))
		}
	}
	metrics.ObserveBatch(direction, p.now().Sub(started))
}
