// Package extract turns a raw document into an ExtractedRecord using an
// external vision model, and guards everything that comes back.
package extract

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/metrics"
	"github.com/docledger/docledger/internal/model"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 60 * time.Second

// Request is what a backend sees for one document.
type Request struct {
	Data      []byte
	MediaType string
	Role      model.Role
}

// Backend returns the raw structured response for one document.
type Backend interface {
	Extract(ctx context.Context, req Request) ([]byte, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) ([]byte, error)

func (f BackendFunc) Extract(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

type Options struct {
	BaseCurrency      string
	ForeignCurrency   string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Extractor validates documents, calls the backend and parses its answer.
type Extractor struct {
	backend  Backend
	cur      Currencies
	timeout  time.Duration
	limiter  *rate.Limiter
	log      *logging.Logger
	pageFunc func([]byte) (int, error)
}

func New(backend Backend, opts Options, log *logging.Logger) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Extractor{
		backend:  backend,
		cur:      Currencies{Base: model.NormalizeText(opts.BaseCurrency), Foreign: model.NormalizeText(opts.ForeignCurrency)},
		timeout:  opts.Timeout,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		log:      log,
		pageFunc: PageCount,
	}
}

// Extract never panics: every problem comes back as a *Failure.
func (e *Extractor) Extract(ctx context.Context, doc model.Document, role model.Role) (rec model.ExtractedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("extraction panicked", "document", doc.Name, "panic", r, "stack", string(debug.Stack()))
			rec = model.ExtractedRecord{}
			err = fail(KindInternal, "internal error", fmt.Errorf("%v", r))
		}
	}()

	mediaType, ok := Sniff(doc.Name, doc.MediaType, doc.Data)
	if !ok || len(doc.Data) == 0 {
		return model.ExtractedRecord{}, fail(KindNotDocument, "not a document", nil)
	}
	if mediaType == mediaPDF {
		pages, perr := e.pageFunc(doc.Data)
		if perr != nil || pages == 0 {
			return model.ExtractedRecord{}, fail(KindNotDocument, "unreadable pdf", perr)
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return model.ExtractedRecord{}, fail(KindTransport, "transport error", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	raw, err := e.backend.Extract(callCtx, Request{Data: doc.Data, MediaType: mediaType, Role: role})
	metrics.CaptureDependency("extraction", time.Since(start))
	if err != nil {
		e.log.Warn("extraction backend failed", "document", doc.Name, "error", err)
		return model.ExtractedRecord{}, AsFailure(err)
	}

	rec, err = ParsePayload(raw, role, e.cur)
	if err != nil {
		e.log.Debug("extraction rejected", "document", doc.Name, "error", err)
		return model.ExtractedRecord{}, err
	}
	return rec, nil
}
