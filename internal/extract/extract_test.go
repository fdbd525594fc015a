package extract_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/internal/extract"
	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/model"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newExtractor(b extract.Backend, timeout time.Duration) *extract.Extractor {
	return extract.New(b, extract.Options{
		BaseCurrency:    "ZAR",
		ForeignCurrency: "USD",
		Timeout:         timeout,
	}, logging.Discard())
}

func TestExtractor_PassesRequestThrough(t *testing.T) {
	var got extract.Request
	backend := extract.BackendFunc(func(ctx context.Context, req extract.Request) ([]byte, error) {
		got = req
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "backend calls are bounded")
		return []byte(`{"date":"2025-03-14","document_number":"INV-1","client":"Beta","total":230,"tax":30,"subtotal":200}`), nil
	})

	doc := model.Document{Name: "scan.png", Data: pngBytes}
	rec, err := newExtractor(backend, time.Second).Extract(context.Background(), doc, model.RoleClient)
	require.NoError(t, err)

	assert.Equal(t, "image/png", got.MediaType)
	assert.Equal(t, model.RoleClient, got.Role)
	assert.Equal(t, pngBytes, got.Data)
	assert.Equal(t, "BETA", rec.Counterparty)
	assert.True(t, rec.Total.Equal(dec("230")))
}

func TestExtractor_RejectsNonDocuments(t *testing.T) {
	called := false
	backend := extract.BackendFunc(func(context.Context, extract.Request) ([]byte, error) {
		called = true
		return nil, nil
	})
	ex := newExtractor(backend, time.Second)

	tests := []struct {
		name   string
		doc    model.Document
		reason string
	}{
		{"empty", model.Document{Name: "blank.png", MediaType: "image/png"}, "not a document"},
		{"text file", model.Document{Name: "notes.txt", Data: []byte("hello there")}, "not a document"},
		{"broken pdf", model.Document{Name: "bill.pdf", Data: []byte("%PDF-1.4\nnot really")}, "unreadable pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.Extract(context.Background(), tt.doc, model.RoleVendor)
			var f *extract.Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, extract.KindNotDocument, f.Kind)
			assert.Equal(t, tt.reason, f.Reason)
		})
	}
	assert.False(t, called)
}

func TestExtractor_TransportErrors(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		backend := extract.BackendFunc(func(context.Context, extract.Request) ([]byte, error) {
			return nil, errors.New("connection reset by peer")
		})
		_, err := newExtractor(backend, time.Second).Extract(context.Background(), model.Document{Name: "a.png", Data: pngBytes}, model.RoleVendor)
		assert.Equal(t, extract.KindTransport, kindOf(t, err))
		assert.True(t, strings.HasPrefix(err.Error(), "transport error: "), err.Error())
	})

	t.Run("timeout", func(t *testing.T) {
		backend := extract.BackendFunc(func(ctx context.Context, _ extract.Request) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		_, err := newExtractor(backend, 20*time.Millisecond).Extract(context.Background(), model.Document{Name: "a.png", Data: pngBytes}, model.RoleVendor)
		assert.Equal(t, extract.KindTransport, kindOf(t, err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("typed backend failure kept", func(t *testing.T) {
		backend := extract.BackendFunc(func(context.Context, extract.Request) ([]byte, error) {
			return nil, &extract.Failure{Kind: extract.KindModelError, Reason: "model rejected request"}
		})
		_, err := newExtractor(backend, time.Second).Extract(context.Background(), model.Document{Name: "a.png", Data: pngBytes}, model.RoleVendor)
		assert.Equal(t, extract.KindModelError, kindOf(t, err))
	})
}

func TestExtractor_RecoversFromPanics(t *testing.T) {
	backend := extract.BackendFunc(func(context.Context, extract.Request) ([]byte, error) {
		var m map[string]int
		m["boom"]++
		return nil, nil
	})
	assert.NotPanics(t, func() {
		_, err := newExtractor(backend, time.Second).Extract(context.Background(), model.Document{Name: "a.png", Data: pngBytes}, model.RoleVendor)
		assert.Equal(t, extract.KindInternal, kindOf(t, err))
	})
}

func TestExtractor_RateLimited(t *testing.T) {
	backend := extract.BackendFunc(func(context.Context, extract.Request) ([]byte, error) {
		return []byte(`{"date":"2025-03-14","total":1}`), nil
	})
	ex := extract.New(backend, extract.Options{BaseCurrency: "ZAR", RequestsPerSecond: 20, Burst: 1}, logging.Discard())
	doc := model.Document{Name: "a.png", Data: pngBytes}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := ex.Extract(context.Background(), doc, model.RoleVendor)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestExtractor_CancelledWhileWaiting(t *testing.T) {
	backend := extract.BackendFunc(func(context.Context, extract.Request) ([]byte, error) {
		return []byte(`{"date":"2025-03-14","total":1}`), nil
	})
	ex := extract.New(backend, extract.Options{BaseCurrency: "ZAR", RequestsPerSecond: 0.01, Burst: 1}, logging.Discard())
	doc := model.Document{Name: "a.png", Data: pngBytes}

	_, err := ex.Extract(context.Background(), doc, model.RoleVendor)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = ex.Extract(ctx, doc, model.RoleVendor)
	assert.Equal(t, extract.KindTransport, kindOf(t, err))
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		declared string
		data     []byte
		want     string
		ok       bool
	}{
		{"declared wins", "x.bin", "image/jpeg; charset=binary", nil, "image/jpeg", true},
		{"extension", "scan.PDF", "", nil, "application/pdf", true},
		{"content", "upload", "", pngBytes, "image/png", true},
		{"octet stream falls through", "upload", "application/octet-stream", pngBytes, "image/png", true},
		{"text rejected", "notes", "", []byte("plain words"), "text/plain", false},
		{"nothing known", "", "", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extract.Sniff(tt.file, tt.declared, tt.data)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestPrompt(t *testing.T) {
	assert.Contains(t, extract.Prompt(model.RoleVendor), `"vendor"`)
	assert.Contains(t, extract.Prompt(model.RoleClient), `"client"`)
	assert.Contains(t, extract.Prompt(model.RoleClient), `"document_number"`)
}
