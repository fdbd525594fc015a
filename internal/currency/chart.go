package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/docledger/docledger/internal/metrics"
)

const chartService = "rates"

// ChartSource reads daily closes from a chart-history HTTP API that answers
// GET {base}/{symbol}?period1=&period2=&interval=1d.
type ChartSource struct {
	baseURL string
	client  *http.Client
}

// NewChartSource returns a source for baseURL. Every request is bounded by
// timeout.
func NewChartSource(baseURL string, timeout time.Duration) *ChartSource {
	return &ChartSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				GMTOffset int64 `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quotes fetches daily closes for symbol in [from, to).
func (s *ChartSource) Quotes(ctx context.Context, symbol string, from, to time.Time) ([]Quote, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	q.Set("interval", "1d")
	endpoint := s.baseURL + "/" + url.PathEscape(symbol) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "docledger/1.0")

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.CaptureDependency(chartService, time.Since(start))
	if err != nil {
		return nil, &TransportError{Service: chartService, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransportError{Service: chartService, Err: fmt.Errorf("reading response: %w", err)}
	}

	var parsed chartResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode == http.StatusNotFound && decodeErr == nil && parsed.Chart.Error != nil {
		// Unknown symbol or no data for the range.
		return nil, fmt.Errorf("%w: %s", ErrRateUnavailable, parsed.Chart.Error.Description)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Service: chartService, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if decodeErr != nil {
		return nil, &TransportError{Service: chartService, Err: fmt.Errorf("decoding response: %w", decodeErr)}
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrRateUnavailable, parsed.Chart.Error.Description)
	}

	var quotes []Quote
	for _, res := range parsed.Chart.Result {
		if len(res.Indicators.Quote) == 0 {
			continue
		}
		closes := res.Indicators.Quote[0].Close
		for i, ts := range res.Timestamp {
			if i >= len(closes) || closes[i] == nil {
				continue
			}
			day := truncateDay(time.Unix(ts+res.Meta.GMTOffset, 0).UTC())
			quotes = append(quotes, Quote{Day: day, Close: decimal.NewFromFloat(*closes[i])})
		}
	}
	return quotes, nil
}
