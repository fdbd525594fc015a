package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/internal/currency"
	"github.com/docledger/docledger/internal/currency/mocks"
	"github.com/docledger/docledger/internal/extract"
	"github.com/docledger/docledger/internal/ingest"
	"github.com/docledger/docledger/internal/ledger"
	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeExtractor answers by document name.
type fakeExtractor struct {
	mu      sync.Mutex
	records map[string]model.ExtractedRecord
	errs    map[string]error
	panics  map[string]bool
	roles   []model.Role
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		records: map[string]model.ExtractedRecord{},
		errs:    map[string]error{},
		panics:  map[string]bool{},
	}
}

func (f *fakeExtractor) Extract(_ context.Context, doc model.Document, role model.Role) (model.ExtractedRecord, error) {
	f.mu.Lock()
	f.roles = append(f.roles, role)
	rec, hasRec := f.records[doc.Name]
	err := f.errs[doc.Name]
	boom := f.panics[doc.Name]
	f.mu.Unlock()

	if boom {
		panic("nil pointer in parser")
	}
	if err != nil {
		return model.ExtractedRecord{}, err
	}
	if !hasRec {
		return model.ExtractedRecord{}, &extract.Failure{Kind: extract.KindModelError, Reason: "Image unclear/Not invoice"}
	}
	return rec, nil
}

func zar(num string, sub, tax, total string) model.ExtractedRecord {
	return model.ExtractedRecord{
		Date:           date(2025, 3, 14),
		DocumentNumber: num,
		Counterparty:   "ACME",
		Subtotal:       dec(sub),
		Tax:            dec(tax),
		Total:          dec(total),
		Currency:       "ZAR",
	}
}

func docs(names ...string) []model.Document {
	out := make([]model.Document, len(names))
	for i, n := range names {
		out[i] = model.Document{Name: n, MediaType: "image/png", Data: []byte("img")}
	}
	return out
}

// countingLedgers wraps real file stores and counts appends.
type countingLedgers struct {
	inner   *ledger.Ledgers
	appends int
	fail    error
}

func (c *countingLedgers) Store(d model.Direction) ledger.Store {
	return &countingStore{Store: c.inner.Store(d), parent: c}
}

type countingStore struct {
	ledger.Store
	parent *countingLedgers
}

func (s *countingStore) Append(rows []model.Row) error {
	s.parent.appends++
	if s.parent.fail != nil {
		return s.parent.fail
	}
	return s.Store.Append(rows)
}

type harness struct {
	ex      *fakeExtractor
	ledgers *countingLedgers
	rates   *mocks.MockRateProvider
	p       *ingest.Pipeline
}

func newHarness(t *testing.T, concurrency int) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	h := &harness{
		ex:      newFakeExtractor(),
		ledgers: &countingLedgers{inner: ledger.Open(t.TempDir())},
		rates:   mocks.NewMockRateProvider(ctrl),
	}
	norm := currency.NewNormalizer(h.rates, "ZAR", "USD", time.Second, logging.Discard())
	h.p = ingest.New(ingest.Options{BaseCurrency: "ZAR", Concurrency: concurrency}, h.ex, norm, h.ledgers, logging.Discard())
	return h
}

func (h *harness) rows(t *testing.T, d model.Direction) []model.Row {
	t.Helper()
	rows, err := h.ledgers.inner.Store(d).ReadAll()
	require.NoError(t, err)
	return rows
}

func states(r *model.Report) []model.State {
	out := make([]model.State, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.State
	}
	return out
}

func TestRun_IdempotentReingestion(t *testing.T) {
	h := newHarness(t, 1)
	h.ex.records["inv.png"] = zar("INV-1", "100.00", "15.00", "115.00")
	ctx := context.Background()

	first, err := h.p.Run(ctx, ingest.Batch{Direction: model.DirectionCost, Documents: docs("inv.png")})
	require.NoError(t, err)
	assert.Equal(t, []model.State{model.StateAccepted}, states(first))

	second, err := h.p.Run(ctx, ingest.Batch{Direction: model.DirectionCost, Documents: docs("inv.png")})
	require.NoError(t, err)
	assert.Equal(t, []model.State{model.StateDuplicateSkipped}, states(second))
	assert.NotEqual(t, first.BatchID, second.BatchID)

	assert.Len(t, h.rows(t, model.DirectionCost), 1)
	assert.Empty(t, h.rows(t, model.DirectionRevenue), "other direction untouched")
}

func TestRun_IntraBatchDedup(t *testing.T) {
	t.Run("skipped", func(t *testing.T) {
		h := newHarness(t, 1)
		h.ex.records["a.png"] = zar("INV-7", "100", "15", "115")
		h.ex.records["b.png"] = zar(" inv-7 ", "100", "15", "115.00")

		r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("a.png", "b.png")})
		require.NoError(t, err)
		assert.Equal(t, []model.State{model.StateAccepted, model.StateDuplicateSkipped}, states(r))
		assert.Contains(t, r.Outcomes[1].Reason, "INV-7")
		assert.Len(t, h.rows(t, model.DirectionCost), 1)
	})

	t.Run("allowed and flagged", func(t *testing.T) {
		h := newHarness(t, 1)
		h.ex.records["a.png"] = zar("INV-7", "100", "15", "115")
		h.ex.records["b.png"] = zar("INV-7", "100", "15", "115")
		h.ex.records["c.png"] = zar("INV-7", "100", "15", "115")

		r, err := h.p.Run(context.Background(), ingest.Batch{
			Direction:       model.DirectionCost,
			Documents:       docs("a.png", "b.png", "c.png"),
			AllowDuplicates: true,
		})
		require.NoError(t, err)

		rows := h.rows(t, model.DirectionCost)
		require.Len(t, rows, 3)
		assert.Equal(t, model.VerdictOK, rows[0].Verdict)
		assert.Equal(t, model.VerdictDuplicate, rows[1].Verdict)
		assert.Equal(t, model.VerdictDuplicate, rows[2].Verdict)
		assert.Len(t, r.Flagged(), 2)
	})
}

func TestRun_DuplicateOverridesMathError(t *testing.T) {
	h := newHarness(t, 1)
	h.ex.records["a.png"] = zar("INV-9", "100", "15", "999")
	h.ex.records["b.png"] = zar("INV-9", "100", "15", "999")

	_, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("a.png", "b.png"), AllowDuplicates: true})
	require.NoError(t, err)

	rows := h.rows(t, model.DirectionCost)
	require.Len(t, rows, 2)
	assert.Equal(t, model.VerdictMathError, rows[0].Verdict)
	assert.Equal(t, model.VerdictDuplicate, rows[1].Verdict)
}

func TestRun_CurrencyConversion(t *testing.T) {
	h := newHarness(t, 1)
	h.rates.EXPECT().RateFor(gomock.Any(), date(2025, 3, 15)).Return(dec("18.34567"), nil)
	h.ex.records["us.pdf"] = model.ExtractedRecord{
		Date:           date(2025, 3, 15),
		DocumentNumber: "US-77",
		Counterparty:   "GLOBEX",
		Subtotal:       dec("123.45"),
		Tax:            dec("9.00"),
		Total:          dec("132.45"),
		Currency:       "USD",
	}

	r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionRevenue, Documents: docs("us.pdf")})
	require.NoError(t, err)
	require.Len(t, r.Accepted(), 1)

	rows := h.rows(t, model.DirectionRevenue)
	require.Len(t, rows, 1)
	row := rows[0]
	want := dec("123.45").Mul(dec("18.34567")).Round(2)
	assert.True(t, row.Total.Equal(want), "got %s want %s", row.Total, want)
	assert.True(t, row.Subtotal.Equal(want))
	assert.True(t, row.Tax.IsZero())
	assert.True(t, row.ForeignTotal.Equal(dec("132.45")))
	assert.Equal(t, "18.3457", row.Rate.String())
	assert.Equal(t, model.VerdictConverted, row.Verdict)
	assert.Equal(t, []model.Role{model.RoleClient}, h.ex.roles)

	// The same foreign invoice is recognised on the next batch.
	again, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionRevenue, Documents: docs("us.pdf")})
	require.NoError(t, err)
	assert.Equal(t, []model.State{model.StateDuplicateSkipped}, states(again))
}

func TestRun_RateUnavailable(t *testing.T) {
	h := newHarness(t, 1)
	h.rates.EXPECT().RateFor(gomock.Any(), gomock.Any()).Return(decimal.Zero, currency.ErrRateUnavailable)
	rec := zar("US-1", "50.00", "5.00", "55.00")
	rec.Currency = "USD"
	h.ex.records["us.png"] = rec

	_, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("us.png")})
	require.NoError(t, err)

	rows := h.rows(t, model.DirectionCost)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Total.Equal(dec("50")), "amount kept unconverted")
	assert.True(t, rows[0].Rate.Unavailable)
	assert.Equal(t, model.RateErrorMarker, rows[0].Rate.String())
	assert.Equal(t, model.VerdictConverted, rows[0].Verdict)
}

func TestRun_ArithmeticTolerance(t *testing.T) {
	h := newHarness(t, 1)
	h.ex.records["ok.png"] = zar("A", "100.00", "15.00", "115.00")
	h.ex.records["off.png"] = zar("B", "100.00", "15.00", "115.20")

	r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("ok.png", "off.png")})
	require.NoError(t, err)

	rows := h.rows(t, model.DirectionCost)
	require.Len(t, rows, 2)
	assert.Equal(t, model.VerdictOK, rows[0].Verdict)
	assert.Equal(t, model.VerdictMathError, rows[1].Verdict)

	assert.Empty(t, r.Outcomes[0].Reason)
	assert.Equal(t, "subtotal + tax = 115.00 but total is 115.20 (off by 0.20)", r.Outcomes[1].Reason)
}

func TestRun_FailuresNeverAbortBatch(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			h := newHarness(t, concurrency)
			h.ex.records["one.png"] = zar("1", "10", "0", "10")
			h.ex.panics["two.png"] = true
			h.ex.records["three.png"] = zar("3", "30", "0", "30")

			r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("one.png", "two.png", "three.png")})
			require.NoError(t, err)

			assert.Equal(t, []model.State{model.StateAccepted, model.StateFailed, model.StateAccepted}, states(r))
			assert.Contains(t, r.Outcomes[1].Reason, "internal error")

			rows := h.rows(t, model.DirectionCost)
			require.Len(t, rows, 2)
			assert.Equal(t, "1", rows[0].DocumentNumber)
			assert.Equal(t, "3", rows[1].DocumentNumber)
		})
	}
}

func TestRun_BulkWrite(t *testing.T) {
	h := newHarness(t, 1)
	h.ex.records["a.png"] = zar("A", "10", "0", "10")
	h.ex.errs["b.png"] = &extract.Failure{Kind: extract.KindMissingFields, Reason: "missing required fields"}
	h.ex.records["c.png"] = zar("C", "20", "0", "20")

	r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("a.png", "b.png", "c.png")})
	require.NoError(t, err)

	assert.Equal(t, 1, h.ledgers.appends, "one write per batch")
	rows := h.rows(t, model.DirectionCost)
	require.Len(t, rows, 2)
	assert.Equal(t, "a.png", rows[0].SourceName)
	assert.Equal(t, "c.png", rows[1].SourceName)

	require.Len(t, r.Failed(), 1)
	assert.Equal(t, "b.png", r.Failed()[0].SourceName)
	assert.Equal(t, "missing required fields", r.Failed()[0].Reason)
}

func TestRun_TransportErrorBecomesFailure(t *testing.T) {
	h := newHarness(t, 1)
	h.ex.errs["a.png"] = errors.New("dial tcp: i/o timeout")

	r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("a.png")})
	require.NoError(t, err)
	require.Len(t, r.Failed(), 1)
	assert.Equal(t, "transport error: dial tcp: i/o timeout", r.Failed()[0].Reason)
}

func TestRun_AppendFailure(t *testing.T) {
	h := newHarness(t, 1)
	h.ledgers.fail = errors.New("disk full")
	h.ex.records["a.png"] = zar("A", "10", "0", "10")

	r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("a.png")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, r)
	assert.Equal(t, []model.State{model.StateFailed}, states(r))
	assert.Empty(t, r.Accepted())
}

func TestRun_FallbackNames(t *testing.T) {
	h := newHarness(t, 1)
	h.p.SetClock(func() time.Time { return time.Date(2025, 3, 14, 9, 5, 7, 0, time.UTC) })
	h.ex.records["Photo_090507.jpg"] = zar("A", "10", "0", "10")

	in := []model.Document{{MediaType: "image/jpeg", Data: []byte("x")}}
	r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: in})
	require.NoError(t, err)

	assert.Equal(t, "Photo_090507.jpg", r.Outcomes[0].SourceName)
	assert.Equal(t, model.StateAccepted, r.Outcomes[0].State)
	assert.Empty(t, in[0].Name, "caller's documents are not modified")
}

func TestRun_EmptyBatch(t *testing.T) {
	h := newHarness(t, 1)
	r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost})
	require.NoError(t, err)
	assert.Empty(t, r.Outcomes)
	assert.Empty(t, h.rows(t, model.DirectionCost))
}

func TestRun_HistoricalDuplicatesFromExistingLedger(t *testing.T) {
	h := newHarness(t, 1)
	require.NoError(t, h.ledgers.inner.Store(model.DirectionCost).Append([]model.Row{{
		Date:           date(2025, 1, 2),
		DocumentNumber: "OLD-1",
		Total:          dec("99.5"),
		Currency:       "ZAR",
		Verdict:        model.VerdictOK,
		Rate:           model.IdentityRate,
	}}))
	h.ex.records["old.png"] = zar("old-1", "99.50", "0", "99.50")
	h.ex.records["new.png"] = zar("old-1", "99.51", "0", "99.51")

	r, err := h.p.Run(context.Background(), ingest.Batch{Direction: model.DirectionCost, Documents: docs("old.png", "new.png")})
	require.NoError(t, err)
	assert.Equal(t, []model.State{model.StateDuplicateSkipped, model.StateAccepted}, states(r))
}
