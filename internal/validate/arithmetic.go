// Package validate checks the internal arithmetic of extracted records.
package validate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/docledger/docledger/internal/model"
)

// Tolerance is the largest difference between subtotal+tax and total that
// still counts as consistent. Differences strictly below it pass.
var Tolerance = decimal.RequireFromString("0.15")

// MathError describes a base-currency record whose components do not add up.
// It is surfaced as a MATH_ERROR verdict, never as a failure.
type MathError struct {
	Computed   decimal.Decimal
	Stated     decimal.Decimal
	Difference decimal.Decimal
}

func (e *MathError) Error() string {
	return fmt.Sprintf("subtotal + tax = %s but total is %s (off by %s)",
		e.Computed.StringFixed(2), e.Stated.StringFixed(2), e.Difference.StringFixed(2))
}

// Check compares round(subtotal + tax, 2) with total. It returns nil when the
// difference is below tolerance.
func Check(subtotal, tax, total, tolerance decimal.Decimal) *MathError {
	computed := subtotal.Add(tax).Round(2)
	diff := computed.Sub(total).Abs()
	if diff.LessThan(tolerance) {
		return nil
	}
	return &MathError{Computed: computed, Stated: total, Difference: diff}
}

// Arithmetic returns OK or MATH_ERROR for a base-currency record.
func Arithmetic(subtotal, tax, total, tolerance decimal.Decimal) model.Verdict {
	if Check(subtotal, tax, total, tolerance) != nil {
		return model.VerdictMathError
	}
	return model.VerdictOK
}

// Verdict decides the verdict of a record: DUPLICATE beats CONVERTED, which
// beats the arithmetic check. Converted records are not checked because their
// components are no longer independent after normalization.
func Verdict(rec model.ExtractedRecord, baseCurrency string, tolerance decimal.Decimal, duplicate bool) model.Verdict {
	switch {
	case duplicate:
		return model.VerdictDuplicate
	case rec.Currency != baseCurrency:
		return model.VerdictConverted
	}
	return Arithmetic(rec.Subtotal, rec.Tax, rec.Total, tolerance)
}
