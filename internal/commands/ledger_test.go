package commands_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/internal/ledger"
	"github.com/docledger/docledger/internal/model"
)

func seedRows() []model.Row {
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return []model.Row{
		{Date: day, DocumentNumber: "INV-1", Counterparty: "ACME", Subtotal: decimal.NewFromInt(100), Tax: decimal.NewFromInt(15), Total: decimal.NewFromInt(115), Currency: "ZAR", Verdict: model.VerdictOK, SourceName: "a.pdf", Rate: model.IdentityRate},
		{Date: day, DocumentNumber: "INV-2", Counterparty: "Globex", Subtotal: decimal.NewFromInt(50), Tax: decimal.Zero, Total: decimal.NewFromInt(60), Currency: "ZAR", Verdict: model.VerdictMathError, SourceName: "b.pdf", Rate: model.IdentityRate},
	}
}

func seedLedger(t *testing.T, dir string, d model.Direction) {
	t.Helper()
	data, err := ledger.EncodeRows(seedRows(), true)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "edited.csv")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := runDocledger(t, nil, "-C", dir, "ledger", "replace", string(d), path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Replaced "+string(d)+" ledger with 2 rows")
}

func readLedger(t *testing.T, dir string, d model.Direction) []model.Row {
	t.Helper()
	rows, err := ledger.Open(dir).Store(d).ReadAll()
	require.NoError(t, err)
	return rows
}

func lastCommit(t *testing.T, dir string) string {
	t.Helper()
	cmd := exec.Command("git", "log", "--format=%s", "-1")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}

func TestLedger_ReplaceAndShow(t *testing.T) {
	dir := initWorkspace(t)
	seedLedger(t, dir, model.DirectionCost)

	assert.Equal(t, "ledger: replace cost (2 rows)", lastCommit(t, dir))

	out, err := runDocledger(t, nil, "-C", dir, "ledger", "show", "cost")
	require.NoError(t, err, out)
	assert.Contains(t, out, "INV-1")
	assert.Contains(t, out, "MATH_ERROR")

	out, err = runDocledger(t, nil, "-C", dir, "ledger", "show", "revenue")
	require.NoError(t, err, out)
	assert.Contains(t, out, "empty")
}

func TestLedger_Edit(t *testing.T) {
	dir := initWorkspace(t)
	seedLedger(t, dir, model.DirectionCost)

	out, err := runDocledger(t, nil, "-C", dir, "ledger", "edit", "cost", "2",
		"--set", "Total=50.00", "--set", "Validation=OK")
	require.NoError(t, err, out)

	rows := readLedger(t, dir, model.DirectionCost)
	require.Len(t, rows, 2)
	assert.True(t, rows[1].Total.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, model.VerdictOK, rows[1].Verdict)
	assert.Equal(t, "ledger: edit cost row 2", lastCommit(t, dir))

	_, err = runDocledger(t, nil, "-C", dir, "ledger", "edit", "cost", "1", "--set", "Total=abc")
	assert.Error(t, err, "unparseable amount is refused")

	_, err = runDocledger(t, nil, "-C", dir, "ledger", "edit", "cost", "9", "--set", "Total=1")
	assert.Error(t, err, "row out of range")
}

func TestLedger_Delete(t *testing.T) {
	dir := initWorkspace(t)
	seedLedger(t, dir, model.DirectionRevenue)

	out, err := runDocledger(t, nil, "-C", dir, "ledger", "delete", "revenue", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "INV-1")

	rows := readLedger(t, dir, model.DirectionRevenue)
	require.Len(t, rows, 1)
	assert.Equal(t, "INV-2", rows[0].DocumentNumber)

	_, err = runDocledger(t, nil, "-C", dir, "ledger", "delete", "revenue", "0")
	assert.Error(t, err)
}

func TestLedger_Export(t *testing.T) {
	dir := initWorkspace(t)
	seedLedger(t, dir, model.DirectionCost)

	out, err := runDocledger(t, nil, "-C", dir, "ledger", "export", "cost")
	require.NoError(t, err, out)
	rows, err := ledger.ReadRows(strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	path := filepath.Join(t.TempDir(), "cost.csv")
	_, err = runDocledger(t, nil, "-C", dir, "ledger", "export", "cost", "-o", path)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestLedger_Summary(t *testing.T) {
	dir := initWorkspace(t)
	seedLedger(t, dir, model.DirectionCost)

	out, err := runDocledger(t, nil, "-C", dir, "ledger", "summary")
	require.NoError(t, err, out)
	assert.Contains(t, out, "175.00 ZAR")
	assert.Contains(t, out, "-175.00 ZAR")
}

func TestLedger_NotAWorkspace(t *testing.T) {
	out, err := runDocledger(t, nil, "-C", t.TempDir(), "ledger", "summary")
	require.Error(t, err)
	assert.Contains(t, out, "not a docledger workspace")
}
