// Package server exposes batch submission and ledger queries over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docledger/docledger/internal/config"
	"github.com/docledger/docledger/internal/inbox"
	"github.com/docledger/docledger/internal/ingest"
	"github.com/docledger/docledger/internal/ledger"
	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/model"
	"github.com/docledger/docledger/internal/workspace"
)

const (
	maxUploadBytes   = 64 << 20
	maxMemoryBytes   = 32 << 20
	readTimeout      = 30 * time.Second
	writeTimeout     = 10 * time.Minute
	idleTimeout      = 2 * time.Minute
	shutdownTimeout  = 30 * time.Second
	requestIDHeader  = "X-Request-ID"
	documentsField   = "documents"
	allowDupesField  = "allow_duplicates"
	contentTypeJSON  = "application/json"
	contentTypeCSV   = "text/csv; charset=utf-8"
	directionURLName = "direction"
)

// Service is the workspace behaviour the HTTP surface needs.
type Service interface {
	Ingest(ctx context.Context, b ingest.Batch) (*model.Report, error)
	Rows(d model.Direction) ([]model.Row, error)
	Replace(d model.Direction, rows []model.Row, message string) error
	Summary() (workspace.Totals, error)
}

type Server struct {
	svc Service
	log *logging.Logger
	mux *chi.Mux
}

func New(svc Service, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{svc: svc, log: log, mux: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.mux
	r.Use(s.requestID, s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/summary", s.handleSummary)

	r.Route("/ledgers/{direction}", func(r chi.Router) {
		r.Get("/", s.handleRows)
		r.Put("/", s.handleReplace)
		r.Get("/export", s.handleExport)
		r.Post("/batches", s.handleBatch)
	})
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestIDFrom(r.Context())})
}

func (s *Server) direction(w http.ResponseWriter, r *http.Request) (model.Direction, bool) {
	d, err := model.ParseDirection(chi.URLParam(r, directionURLName))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return "", false
	}
	return d, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	totals, err := s.svc.Summary()
	if err != nil {
		s.log.Error("summary failed", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "could not read ledgers")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	d, ok := s.direction(w, r)
	if !ok {
		return
	}
	rows, err := s.svc.Rows(d)
	if err != nil {
		s.log.Error("reading ledger failed", "direction", string(d), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "could not read ledger")
		return
	}
	out := make([]map[string]string, len(rows))
	for i, row := range rows {
		out[i] = ledger.Fields(row)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	d, ok := s.direction(w, r)
	if !ok {
		return
	}
	var in []map[string]string
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&in); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "body must be a JSON array of rows")
		return
	}
	rows := make([]model.Row, len(in))
	for i, fields := range in {
		row, err := ledger.FromFields(fields)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("row %d: %v", i+1, err))
			return
		}
		rows[i] = row
	}
	if err := s.svc.Replace(d, rows, fmt.Sprintf("ledger: replace %s (%d rows) via api", d, len(rows))); err != nil {
		s.log.Error("overwrite failed", "direction", string(d), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "could not write ledger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rows": len(rows)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	d, ok := s.direction(w, r)
	if !ok {
		return
	}
	rows, err := s.svc.Rows(d)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "could not read ledger")
		return
	}
	data, err := ledger.EncodeRows(rows, true)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "could not encode ledger")
		return
	}
	w.Header().Set("Content-Type", contentTypeCSV)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, d))
	_, _ = w.Write(data)
}

type outcomeResponse struct {
	Index      int           `json:"index"`
	SourceName string        `json:"source_name"`
	State      model.State   `json:"state"`
	Verdict    model.Verdict `json:"verdict,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

type batchResponse struct {
	BatchID   string            `json:"batch_id"`
	Direction model.Direction   `json:"direction"`
	StartedAt time.Time         `json:"started_at"`
	Accepted  int               `json:"accepted"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Flagged   int               `json:"flagged"`
	Outcomes  []outcomeResponse `json:"outcomes"`
	Error     string            `json:"error,omitempty"`
}

func newBatchResponse(r *model.Report) batchResponse {
	resp := batchResponse{
		BatchID:   r.BatchID,
		Direction: r.Direction,
		StartedAt: r.StartedAt,
		Accepted:  len(r.Accepted()),
		Skipped:   len(r.Skipped()),
		Failed:    len(r.Failed()),
		Flagged:   len(r.Flagged()),
		Outcomes:  make([]outcomeResponse, len(r.Outcomes)),
	}
	for i, o := range r.Outcomes {
		out := outcomeResponse{Index: o.Index, SourceName: o.SourceName, State: o.State, Reason: o.Reason}
		if o.Row != nil {
			out.Verdict = o.Row.Verdict
		}
		resp.Outcomes[i] = out
	}
	return resp
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	d, ok := s.direction(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "expected a multipart form with documents")
		return
	}
	defer r.MultipartForm.RemoveAll()

	allow := false
	if v := r.FormValue(allowDupesField); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, allowDupesField+" must be true or false")
			return
		}
		allow = b
	}

	files := r.MultipartForm.File[documentsField]
	if len(files) == 0 {
		s.writeError(w, r, http.StatusBadRequest, "no documents uploaded")
		return
	}
	docs := make([]model.Document, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "could not read "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "could not read "+fh.Filename)
			return
		}
		mediaType := fh.Header.Get("Content-Type")
		if mediaType == "" || mediaType == "application/octet-stream" {
			mediaType = inbox.MediaType(fh.Filename)
		}
		docs = append(docs, model.Document{Name: fh.Filename, MediaType: mediaType, Data: data})
	}

	report, err := s.svc.Ingest(r.Context(), ingest.Batch{Direction: d, Documents: docs, AllowDuplicates: allow})
	switch {
	case err != nil && config.IsFatal(err):
		s.log.Error("ingestion unavailable", "error", err)
		s.writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case report == nil:
		s.log.Error("batch failed", "direction", string(d), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "batch failed")
	case err != nil:
		resp := newBatchResponse(report)
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		writeJSON(w, http.StatusOK, newBatchResponse(report))
	}
}

type ctxKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}
