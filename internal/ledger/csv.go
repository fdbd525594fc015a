package ledger

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/docledger/docledger/internal/model"
)

// Header is the CSV header of a ledger file.
const Header = "Date,Document Number,Counterparty,Subtotal,Tax,Total,Currency,Validation,Source Name,Foreign Total,Exchange Rate"

// bom is written at the start of new ledger files so spreadsheet tools
// detect UTF-8.
const bom = "\ufeff"

const (
	numFields     = 11
	dateFormat    = "2006-01-02"
	colDate       = 0
	colDocNumber  = 1
	colCparty     = 2
	colSubtotal   = 3
	colTax        = 4
	colTotal      = 5
	colCurrency   = 6
	colValidation = 7
	colSource     = 8
	colForeign    = 9
	colRate       = 10
)

// Columns returns the header column names in order.
func Columns() []string {
	return strings.Split(Header, ",")
}

// ReadRows reads all rows from a ledger CSV reader. A leading byte-order
// mark is skipped.
func ReadRows(r io.Reader) ([]model.Row, error) {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(len(bom)); err == nil && string(lead) == bom {
		_, _ = br.Discard(len(bom))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading ledger CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	// Skip header row.
	var rows []model.Row
	for i, rec := range records[1:] {
		row, err := UnmarshalRow(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteRows writes rows to w, preceded by the byte-order mark and header.
func WriteRows(w io.Writer, rows []model.Row) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("writing byte-order mark: %w", err)
	}

	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(Columns()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, row := range rows {
		if err := cw.Write(MarshalRow(row)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return cw.Error()
}

// AppendRows writes rows to w without a header.
func AppendRows(w io.Writer, rows []model.Row) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	for i, row := range rows {
		if err := cw.Write(MarshalRow(row)); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	return cw.Error()
}

// EncodeRows renders rows as CSV bytes, with header when withHeader is set.
func EncodeRows(rows []model.Row, withHeader bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if withHeader {
		err = WriteRows(&buf, rows)
	} else {
		err = AppendRows(&buf, rows)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalRow converts a Row to a CSV record.
func MarshalRow(row model.Row) []string {
	rec := make([]string, numFields)
	if !row.Date.IsZero() {
		rec[colDate] = row.Date.Format(dateFormat)
	}
	rec[colDocNumber] = row.DocumentNumber
	rec[colCparty] = row.Counterparty
	rec[colSubtotal] = row.Subtotal.StringFixed(2)
	rec[colTax] = row.Tax.StringFixed(2)
	rec[colTotal] = row.Total.StringFixed(2)
	rec[colCurrency] = row.Currency
	rec[colValidation] = string(row.Verdict)
	rec[colSource] = row.SourceName

	if row.Converted() {
		rec[colForeign] = row.ForeignTotal.StringFixed(2)
	}

	rec[colRate] = row.Rate.String()
	return rec
}

// UnmarshalRow converts a CSV record to a Row. Ledgers are hand-edited, so
// values are read leniently: unparseable amounts become zero and an
// unparseable date becomes the zero time.
func UnmarshalRow(rec []string) (model.Row, error) {
	if len(rec) != numFields {
		return model.Row{}, fmt.Errorf("expected %d fields, got %d", numFields, len(rec))
	}

	date, err := time.Parse(dateFormat, strings.TrimSpace(rec[colDate]))
	if err != nil {
		date = time.Time{}
	}

	return model.Row{
		Date:           date,
		DocumentNumber: rec[colDocNumber],
		Counterparty:   rec[colCparty],
		Subtotal:       lenientAmount(rec[colSubtotal]),
		Tax:            lenientAmount(rec[colTax]),
		Total:          lenientAmount(rec[colTotal]),
		Currency:       rec[colCurrency],
		Verdict:        model.Verdict(rec[colValidation]),
		SourceName:     rec[colSource],
		ForeignTotal:   lenientAmount(rec[colForeign]),
		Rate:           model.ParseRate(rec[colRate]),
	}, nil
}

func lenientAmount(s string) decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero
	}
	d, err := model.ParseAmount(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
