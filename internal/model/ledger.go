package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Row is a single persisted ledger record. Amounts are in the base currency.
type Row struct {
	Date           time.Time
	DocumentNumber string
	Counterparty   string
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	Currency       string
	Verdict        Verdict
	SourceName     string
	ForeignTotal   decimal.Decimal // zero unless the row was converted
	Rate           Rate
}

// Converted reports whether the row carries a foreign amount.
func (r Row) Converted() bool {
	return !r.ForeignTotal.IsZero()
}

// Signature returns the dedup key of a persisted row. Converted rows are
// keyed by the foreign total, the amount as originally stated.
func (r Row) Signature() Signature {
	if r.Converted() {
		return NewSignature(r.DocumentNumber, r.ForeignTotal)
	}
	return NewSignature(r.DocumentNumber, r.Total)
}
