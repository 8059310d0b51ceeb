package price

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/fundo/internal/domain"
)

func TestImportCSVFixedRate(t *testing.T) {
	repo := newMockRepo()
	in := "date,price_usd\n2024-01-02,100\n2024-01-01,50\n2024-01-03,0\n"

	report, err := ImportCSV(context.Background(), repo, strings.NewReader(in), btc(), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, ImportReport{Rows: 2, Written: 2}, report)

	snap, ok := repo.snapshot(2, "2024-01-02")
	require.True(t, ok)
	assert.True(t, snap.PriceEUR.Equal(dec("92")), "got %s", snap.PriceEUR)
	assert.Equal(t, domain.SourceCSV, snap.Source)
	_, ok = repo.snapshot(2, "2024-01-03")
	assert.False(t, ok, "non-positive prices are dropped")
}

func TestImportCSVCoinGeckoExport(t *testing.T) {
	repo := newMockRepo()
	in := "snapped_at,price,market_cap,total_volume\n" +
		"2024-01-01 00:00:00 UTC,42000.5,800000000000,1\n" +
		"2024-01-02 00:00:00 UTC,43000,810000000000,1\n"

	report, err := ImportCSV(context.Background(), repo, strings.NewReader(in), btc(), CSVOptions{FixedRate: dec("0.5")})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Written)
	snap, _ := repo.snapshot(2, "2024-01-01")
	assert.True(t, snap.PriceEUR.Equal(dec("21000.25")))
}

func TestImportCSVHeaderWithByteOrderMark(t *testing.T) {
	repo := newMockRepo()
	in := "\ufeffdate,price_usd\n2024-01-01,100\n"

	report, err := ImportCSV(context.Background(), repo, strings.NewReader(in), btc(), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written)
	_, ok := repo.snapshot(2, "2024-01-01")
	assert.True(t, ok)
}

func TestImportCSVWithFXSeries(t *testing.T) {
	repo := newMockRepo()
	fx := NewSeries([]domain.PriceSnapshot{
		{Date: day("2024-01-02"), PriceEUR: dec("0.9")},
		{Date: day("2024-01-04"), PriceEUR: dec("0.8")},
	})
	in := "date,price_usd\n2024-01-01,10\n2024-01-03,10\n2024-01-05,10\n"

	report, err := ImportCSV(context.Background(), repo, strings.NewReader(in), btc(), CSVOptions{FX: fx})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FixedRateFX)

	want := map[string]string{"2024-01-01": "9.2", "2024-01-03": "9", "2024-01-05": "8"}
	for d, p := range want {
		snap, ok := repo.snapshot(2, d)
		require.True(t, ok, d)
		assert.True(t, snap.PriceEUR.Equal(dec(p)), "%s: got %s", d, snap.PriceEUR)
	}
}

func TestImportCSVConflictPolicy(t *testing.T) {
	in := "date,price_usd\n2024-01-01,100\n"

	repo := newMockRepo()
	repo.put(2, "2024-01-01", "1", domain.SourceManual)
	report, err := ImportCSV(context.Background(), repo, strings.NewReader(in), btc(), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Kept)
	snap, _ := repo.snapshot(2, "2024-01-01")
	assert.Equal(t, domain.SourceManual, snap.Source)

	report, err = ImportCSV(context.Background(), repo, strings.NewReader(in), btc(), CSVOptions{Policy: domain.Overwrite})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written)
	snap, _ = repo.snapshot(2, "2024-01-01")
	assert.Equal(t, domain.SourceCSV, snap.Source)
}

func TestImportCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		asset domain.Asset
	}{
		{"empty", "", btc()},
		{"missing column", "date,close\n2024-01-01,1\n", btc()},
		{"bad date", "date,price_usd\n01/02/2024,1\n", btc()},
		{"bad price", "date,price_usd\n2024-01-01,abc\n", btc()},
		{"short row", "date,price_usd\n2024-01-01\n", btc()},
		{"eur", "date,price_usd\n2024-01-01,1\n", domain.EURAsset()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportCSV(context.Background(), newMockRepo(), strings.NewReader(tt.in), tt.asset, CSVOptions{})
			assert.Error(t, err)
		})
	}
}
