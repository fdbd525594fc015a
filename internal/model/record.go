package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownDocumentNumber is used when a document carries no identifier.
const UnknownDocumentNumber = "UNKNOWN"

// ExtractedRecord is the validated output of the extractor.
type ExtractedRecord struct {
	Date           time.Time
	DocumentNumber string // trimmed, upper case
	Counterparty   string // trimmed, upper case
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	Currency       string
}

// Signature is the business key used for deduplication.
type Signature struct {
	DocumentNumber string
	Total          string // canonical decimal, trailing zeros trimmed
}

// NewSignature normalizes the identifier and canonicalizes the total.
func NewSignature(documentNumber string, total decimal.Decimal) Signature {
	return Signature{
		DocumentNumber: NormalizeText(documentNumber),
		Total:          total.String(),
	}
}

// Signature derives the dedup key from the identifier and the stated total.
func (r ExtractedRecord) Signature() Signature {
	return NewSignature(r.DocumentNumber, r.Total)
}

// NormalizeText trims surrounding whitespace and upper-cases s.
func NormalizeText(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Verdict is the validation outcome attached to a ledger row.
type Verdict string

const (
	VerdictOK        Verdict = "OK"
	VerdictMathError Verdict = "MATH_ERROR"
	VerdictConverted Verdict = "CONVERTED"
	VerdictDuplicate Verdict = "DUPLICATE"
)

// Flagged reports whether the verdict needs manual review.
func (v Verdict) Flagged() bool {
	return v == VerdictMathError || v == VerdictDuplicate
}

// RateErrorMarker is persisted in place of a rate that could not be resolved.
const RateErrorMarker = "Error"

// Rate is the exchange rate applied to a row.
type Rate struct {
	Value       decimal.Decimal
	Unavailable bool
}

// IdentityRate is the rate applied to base-currency records.
var IdentityRate = Rate{Value: decimal.NewFromInt(1)}

// String renders the rate the way it is stored in the ledger.
func (r Rate) String() string {
	if r.Unavailable {
		return RateErrorMarker
	}
	return r.Value.StringFixed(4)
}

// ParseRate reads a stored rate. An empty value is the identity rate; the
// error marker and unparseable values read as unavailable.
func ParseRate(s string) Rate {
	s = strings.TrimSpace(s)
	if s == "" {
		return IdentityRate
	}
	if strings.EqualFold(s, RateErrorMarker) {
		return Rate{Value: decimal.NewFromInt(1), Unavailable: true}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Rate{Value: decimal.NewFromInt(1), Unavailable: true}
	}
	return Rate{Value: v}
}
