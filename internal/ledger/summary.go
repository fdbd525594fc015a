package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/docledger/docledger/internal/model"
)

// Summary aggregates one ledger.
type Summary struct {
	Rows    int             `json:"rows"`
	Total   decimal.Decimal `json:"total"`
	Flagged int             `json:"flagged"`
}

// Sum returns the sum of the Total column.
func Sum(rows []model.Row) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Total)
	}
	return total
}

// Summarize counts rows and flagged rows and sums the Total column.
func Summarize(rows []model.Row) Summary {
	s := Summary{Rows: len(rows), Total: Sum(rows)}
	for _, r := range rows {
		if r.Verdict.Flagged() {
			s.Flagged++
		}
	}
	return s
}

// Net returns revenue minus cost.
func Net(cost, revenue Summary) decimal.Decimal {
	return revenue.Total.Sub(cost.Total)
}
