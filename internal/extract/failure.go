package extract

import (
	"errors"
	"fmt"
)

// Kind classifies why extraction failed.
type Kind string

const (
	KindNotDocument       Kind = "not_document"
	KindTransport         Kind = "transport"
	KindMalformed         Kind = "malformed"
	KindModelError        Kind = "model_error"
	KindMissingFields     Kind = "missing_fields"
	KindUnparseableAmount Kind = "unparseable_amount"
	KindUnparseableDate   Kind = "unparseable_date"
	KindCurrency          Kind = "currency"
	KindInternal          Kind = "internal"
)

// Failure means the document did not yield a usable record. The batch
// records it and moves on.
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(kind Kind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: err}
}

// AsFailure returns err as a *Failure, wrapping anything else as a transport
// failure.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return fail(KindTransport, "transport error", err)
}
