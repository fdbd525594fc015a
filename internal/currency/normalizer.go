package currency

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/model"
)

// Conversion is a record's amounts expressed in the base currency.
type Conversion struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
	ForeignTotal decimal.Decimal // zero for base-currency records
	Rate         model.Rate
	// Err is why the rate could not be resolved. It is informational; the
	// conversion has already fallen back to the identity rate.
	Err error
}

// Normalizer converts foreign-currency records into the base currency.
type Normalizer struct {
	rates   RateProvider
	base    string
	foreign string
	timeout time.Duration
	log     *logging.Logger
}

// NewNormalizer returns a normalizer from foreign into base. Every rate
// lookup is bounded by timeout.
func NewNormalizer(rates RateProvider, base, foreign string, timeout time.Duration, log *logging.Logger) *Normalizer {
	return &Normalizer{
		rates:   rates,
		base:    model.NormalizeText(base),
		foreign: model.NormalizeText(foreign),
		timeout: timeout,
		log:     log,
	}
}

// Normalize converts rec. Base-currency records pass through unchanged at the
// identity rate. Foreign records are converted at the historical rate for
// their date: the subtotal is the gross amount, or the stated total when the
// subtotal is zero, and tax is dropped. When no rate can be resolved the
// gross amount passes through unconverted and the rate is marked unavailable.
func (n *Normalizer) Normalize(ctx context.Context, rec model.ExtractedRecord) Conversion {
	if rec.Currency == n.base {
		return Conversion{
			Subtotal: rec.Subtotal,
			Tax:      rec.Tax,
			Total:    rec.Total,
			Rate:     model.IdentityRate,
		}
	}

	gross := rec.Subtotal
	if gross.IsZero() {
		gross = rec.Total
	}

	rate, err := n.lookup(ctx, rec.Date)
	if err != nil {
		n.log.Warn("rate unavailable, keeping amount unconverted",
			"document", rec.DocumentNumber,
			"date", rec.Date.Format(time.DateOnly),
			"currency", rec.Currency,
			"pair", n.foreign+"/"+n.base,
			"transport", isTransport(err),
			"error", err)
		return Conversion{
			Subtotal:     gross,
			Tax:          decimal.Zero,
			Total:        gross,
			ForeignTotal: rec.Total,
			Rate:         model.Rate{Value: decimal.NewFromInt(1), Unavailable: true},
			Err:          err,
		}
	}

	amount := gross.Mul(rate).Round(2)
	return Conversion{
		Subtotal:     amount,
		Tax:          decimal.Zero,
		Total:        amount,
		ForeignTotal: rec.Total,
		Rate:         model.Rate{Value: rate.Round(4)},
	}
}

func (n *Normalizer) lookup(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	rate, err := n.rates.RateFor(ctx, date)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrRateUnavailable
	}
	return rate, nil
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}
