// Package batchlog keeps an audit trail of every document a batch touched.
package batchlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docledger/docledger/internal/model"
)

// Entry is one row in the batch log. The batch id also appears in the
// message of the commit that recorded the batch.
type Entry struct {
	Timestamp time.Time
	BatchID   string
	Direction model.Direction
	Document  string
	State     model.State
	Verdict   model.Verdict
	Reason    string
}

// Header is the CSV header for batch-log.csv.
const Header = "timestamp,batch_id,direction,document,state,verdict,reason"

// File is the log location relative to the workspace root.
const File = "logs/batch-log.csv"

const (
	numFields    = 7
	logDir       = "logs"
	colTimestamp = 0
	colBatchID   = 1
	colDirection = 2
	colDocument  = 3
	colState     = 4
	colVerdict   = 5
	colReason    = 6
)

// FromReport produces one entry per document outcome.
func FromReport(r *model.Report, at time.Time) []Entry {
	entries := make([]Entry, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		e := Entry{
			Timestamp: at,
			BatchID:   r.BatchID,
			Direction: r.Direction,
			Document:  o.SourceName,
			State:     o.State,
			Reason:    o.Reason,
		}
		if o.Row != nil {
			e.Verdict = o.Row.Verdict
		}
		entries = append(entries, e)
	}
	return entries
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.Format(time.RFC3339)
	row[colBatchID] = e.BatchID
	row[colDirection] = string(e.Direction)
	row[colDocument] = e.Document
	row[colState] = string(e.State)
	row[colVerdict] = string(e.Verdict)
	row[colReason] = e.Reason
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	return Entry{
		Timestamp: ts,
		BatchID:   record[colBatchID],
		Direction: model.Direction(record[colDirection]),
		Document:  record[colDocument],
		State:     model.State(record[colState]),
		Verdict:   model.Verdict(record[colVerdict]),
		Reason:    record[colReason],
	}, nil
}

// Path returns the log path under root.
func Path(root string) string {
	return filepath.Join(root, File)
}

// Append writes entries to <root>/logs/batch-log.csv, creating the file and header if needed.
func Append(root string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(root, logDir), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := Path(root)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening batch log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <root>/logs/batch-log.csv.
// Returns an empty slice if the file does not exist.
func Read(root string) ([]Entry, error) {
	f, err := os.Open(Path(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening batch log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading batch log CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
