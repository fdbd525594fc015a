package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docledger/docledger/internal/model"
)

// ErrRowOutOfRange is returned when an edit targets a row that does not exist.
var ErrRowOutOfRange = errors.New("row out of range")

// ColumnIndex returns the position of a header column, matched
// case-insensitively, or -1.
func ColumnIndex(name string) int {
	for i, c := range Columns() {
		if strings.EqualFold(c, strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

// Edit returns a copy of rows with row i updated. Updates map column names to
// new cell values. Amount and date cells must parse.
func Edit(rows []model.Row, i int, updates map[string]string) ([]model.Row, error) {
	if i < 0 || i >= len(rows) {
		return nil, fmt.Errorf("%w: %d (ledger has %d rows)", ErrRowOutOfRange, i, len(rows))
	}

	rec := MarshalRow(rows[i])
	for name, value := range updates {
		col := ColumnIndex(name)
		if col < 0 {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		if err := checkCell(col, value); err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		rec[col] = value
	}

	row, err := UnmarshalRow(rec)
	if err != nil {
		return nil, err
	}

	out := make([]model.Row, len(rows))
	copy(out, rows)
	out[i] = row
	return out, nil
}

// Delete returns a copy of rows without row i.
func Delete(rows []model.Row, i int) ([]model.Row, error) {
	if i < 0 || i >= len(rows) {
		return nil, fmt.Errorf("%w: %d (ledger has %d rows)", ErrRowOutOfRange, i, len(rows))
	}
	out := make([]model.Row, 0, len(rows)-1)
	out = append(out, rows[:i]...)
	return append(out, rows[i+1:]...), nil
}

func checkCell(col int, value string) error {
	switch col {
	case colDate:
		if _, err := time.Parse(dateFormat, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", value)
		}
	case colSubtotal, colTax, colTotal:
		if _, err := model.ParseAmount(value); err != nil {
			return err
		}
	case colForeign:
		if strings.TrimSpace(value) == "" {
			return nil
		}
		if _, err := model.ParseAmount(value); err != nil {
			return err
		}
	}
	return nil
}

// Fields returns the row keyed by column name, formatted as in the CSV file.
func Fields(row model.Row) map[string]string {
	rec := MarshalRow(row)
	out := make(map[string]string, len(rec))
	for i, c := range Columns() {
		out[c] = rec[i]
	}
	return out
}

// FromFields builds a row from cells keyed by column name. Missing or empty
// cells read as empty; unknown columns and unparseable amounts or dates are
// errors.
func FromFields(fields map[string]string) (model.Row, error) {
	rec := make([]string, numFields)
	for name, value := range fields {
		col := ColumnIndex(name)
		if col < 0 {
			return model.Row{}, fmt.Errorf("unknown column %q", name)
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		if err := checkCell(col, value); err != nil {
			return model.Row{}, fmt.Errorf("column %q: %w", name, err)
		}
		rec[col] = value
	}
	return UnmarshalRow(rec)
}
