package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
	}{
		{"cost", DirectionCost},
		{"COST", DirectionCost},
		{" vendor ", DirectionCost},
		{"input", DirectionCost},
		{"revenue", DirectionRevenue},
		{"client", DirectionRevenue},
		{"output", DirectionRevenue},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		require.NoError(t, err, "ParseDirection(%q)", tt.in)
		assert.Equal(t, tt.want, got, "ParseDirection(%q)", tt.in)
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestDirectionRole(t *testing.T) {
	assert.Equal(t, RoleVendor, DirectionCost.Role())
	assert.Equal(t, RoleClient, DirectionRevenue.Role())
}

func TestSignatureNormalization(t *testing.T) {
	a := ExtractedRecord{DocumentNumber: "  inv-001 ", Total: dec("115.00")}
	b := ExtractedRecord{DocumentNumber: "INV-001", Total: dec("115")}
	c := ExtractedRecord{DocumentNumber: "INV-001", Total: dec("115.01")}

	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), c.Signature())
	assert.Equal(t, "INV-001", a.Signature().DocumentNumber)
}

func TestRowSignatureUsesStatedTotal(t *testing.T) {
	base := Row{DocumentNumber: "A1", Total: dec("230.00")}
	assert.Equal(t, Signature{DocumentNumber: "A1", Total: "230"}, base.Signature())

	converted := Row{DocumentNumber: "A1", Total: dec("1850.00"), ForeignTotal: dec("100.00")}
	assert.Equal(t, Signature{DocumentNumber: "A1", Total: "100"}, converted.Signature())
}

func TestRateString(t *testing.T) {
	assert.Equal(t, "1.0000", IdentityRate.String())
	assert.Equal(t, "18.5123", Rate{Value: dec("18.51234")}.String())
	assert.Equal(t, RateErrorMarker, Rate{Value: dec("1"), Unavailable: true}.String())
}

func TestParseRate(t *testing.T) {
	assert.True(t, ParseRate("18.5000").Value.Equal(dec("18.5")))
	assert.False(t, ParseRate("18.5000").Unavailable)
	assert.True(t, ParseRate("Error").Unavailable)
	assert.True(t, ParseRate("garbage").Unavailable)
	assert.Equal(t, IdentityRate, ParseRate(""))
}

func TestVerdictFlagged(t *testing.T) {
	assert.False(t, VerdictOK.Flagged())
	assert.False(t, VerdictConverted.Flagged())
	assert.True(t, VerdictMathError.Flagged())
	assert.True(t, VerdictDuplicate.Flagged())
}

func TestReportPartitions(t *testing.T) {
	ok := Row{DocumentNumber: "A", Verdict: VerdictOK}
	bad := Row{DocumentNumber: "B", Verdict: VerdictMathError}
	r := &Report{Outcomes: []Outcome{
		{Index: 0, State: StateAccepted, Row: &ok},
		{Index: 1, State: StateFailed, Reason: "missing required fields"},
		{Index: 2, State: StateDuplicateSkipped, Reason: "duplicate of A"},
		{Index: 3, State: StateAccepted, Row: &bad},
	}}

	require.Len(t, r.Accepted(), 2)
	assert.Equal(t, "A", r.Accepted()[0].DocumentNumber)
	assert.Len(t, r.Failed(), 1)
	assert.Len(t, r.Skipped(), 1)
	require.Len(t, r.Flagged(), 1)
	assert.Equal(t, "B", r.Flagged()[0].DocumentNumber)
	assert.True(t, StateAccepted.Terminal())
	assert.False(t, StateExtracted.Terminal())
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1,234.50", "1234.50"},
		{" 115.00 ", "115"},
		{"R 1 500.00", "1500"},
		{"$99.99", "99.99"},
		{"USD 10", "10"},
		{"0", "0"},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		require.NoError(t, err, "ParseAmount(%q)", tt.in)
		assert.True(t, got.Equal(dec(tt.want)), "ParseAmount(%q) = %s", tt.in, got)
	}

	for _, bad := range []string{"", "  ", "abc", "12.3.4", "R"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, "ParseAmount(%q)", bad)
	}
}
