// Package currency converts foreign-currency amounts into the base currency
// using historical exchange rates.
package currency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable is returned when no observation exists in the lookback
// window.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// TransportError wraps a network or timeout failure talking to a rate
// service.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateProvider resolves the base-per-foreign exchange rate for a date.
//
//go:generate mockgen -destination=mocks/mock_rates.go -package=mocks -source=rates.go RateProvider
type RateProvider interface {
	RateFor(ctx context.Context, date time.Time) (decimal.Decimal, error)
}

// Quote is one daily close.
type Quote struct {
	Day   time.Time
	Close decimal.Decimal
}

// QuoteSource lists daily closes for a symbol in [from, to).
type QuoteSource interface {
	Quotes(ctx context.Context, symbol string, from, to time.Time) ([]Quote, error)
}

// History resolves rates from daily closes, falling back to the most recent
// close within the lookback window so weekend and holiday dates still
// resolve.
type History struct {
	source       QuoteSource
	symbol       string
	lookbackDays int
}

// NewHistory returns a RateProvider for symbol backed by source.
func NewHistory(source QuoteSource, symbol string, lookbackDays int) *History {
	return &History{source: source, symbol: symbol, lookbackDays: lookbackDays}
}

// Window returns the quote range searched for date: lookbackDays before it
// up to the end of the date itself.
func (h *History) Window(date time.Time) (from, to time.Time) {
	day := truncateDay(date)
	return day.AddDate(0, 0, -h.lookbackDays), day.AddDate(0, 0, 1)
}

// RateFor returns the latest positive close in the window for date.
func (h *History) RateFor(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	from, to := h.Window(date)
	quotes, err := h.source.Quotes(ctx, h.symbol, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	var best *Quote
	for i := range quotes {
		q := &quotes[i]
		if q.Day.Before(from) || !q.Day.Before(to) || !q.Close.IsPositive() {
			continue
		}
		if best == nil || q.Day.After(best.Day) {
			best = q
		}
	}
	if best == nil {
		return decimal.Zero, fmt.Errorf("%w: no %s close between %s and %s",
			ErrRateUnavailable, h.symbol, from.Format(time.DateOnly), to.AddDate(0, 0, -1).Format(time.DateOnly))
	}
	return best.Close, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
