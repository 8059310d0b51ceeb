// Package export publishes NAV reports as spreadsheets: a local XLSX
// workbook and, when configured, a Google Sheets document.
package export

import (
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/report"
	"github.com/mtlprog/fundo/internal/shares"
)

const (
	sheetNAV        = "NAV"
	sheetShares     = "SHARES"
	sheetHoldings   = "HOLDINGS"
	sheetMonitoring = "MONITORING"
)

// table is the content of one sheet, header row first.
type table struct {
	name string
	rows [][]any
}

func buildTables(data report.Data) []table {
	return []table{
		{name: sheetNAV, rows: buildNAV(data)},
		{name: sheetShares, rows: buildShares(data)},
		{name: sheetHoldings, rows: buildHoldings(data)},
	}
}

// buildNAV builds the NAV sheet as field/value pairs.
func buildNAV(data report.Data) [][]any {
	v := data.Valuation
	return [][]any{
		{"Field", "Value"},
		{"Date", data.Date.Format(domain.DateLayout)},
		{"Cash EUR", toFloat(v.CashEUR)},
		{"Holdings EUR", toFloat(v.HoldingsEUR)},
		{"NAV EUR", toFloat(v.NAV)},
		{"Total shares", toFloat(v.TotalShares)},
		{"NAV per share", toFloat(v.NAVPerShare)},
		{"Missing prices", strings.Join(v.MissingPrices, ", ")},
	}
}

// buildShares builds the share register.
// Columns: Member | Shares | % | Value EUR, closed by a TOTAL row.
func buildShares(data report.Data) [][]any {
	rows := [][]any{{"Member", "Shares", "%", "Value EUR"}}
	for _, o := range data.Register {
		rows = append(rows, []any{o.Name, toFloat(o.Shares), toFloat(o.Pct), toFloat(o.ValueEUR)})
	}
	sum := func(f func(shares.Ownership) decimal.Decimal) decimal.Decimal {
		return lo.Reduce(data.Register, func(acc decimal.Decimal, o shares.Ownership, _ int) decimal.Decimal {
			return acc.Add(f(o))
		}, decimal.Zero)
	}
	rows = append(rows, []any{
		"TOTAL",
		toFloat(sum(func(o shares.Ownership) decimal.Decimal { return o.Shares })),
		toFloat(sum(func(o shares.Ownership) decimal.Decimal { return o.Pct })),
		toFloat(sum(func(o shares.Ownership) decimal.Decimal { return o.ValueEUR })),
	})
	return rows
}

// buildHoldings builds the valued holdings.
// Columns: Symbol | Quantity | Price EUR | Price date | Value EUR | Weight %
func buildHoldings(data report.Data) [][]any {
	v := data.Valuation
	rows := [][]any{{"Symbol", "Quantity", "Price EUR", "Price date", "Value EUR", "Weight %"}}
	rows = append(rows, []any{domain.EURSymbol, toFloat(v.CashEUR), 1.0, "", toFloat(v.CashEUR), weight(v.CashEUR, v.NAV)})
	for _, h := range v.Holdings {
		priceDate := ""
		if h.PriceDate != nil {
			priceDate = h.PriceDate.Format(domain.DateLayout)
		}
		rows = append(rows, []any{
			h.Symbol, toFloat(h.Quantity), toFloat(h.PriceEUR), priceDate, toFloat(h.ValueEUR), weight(h.ValueEUR, v.NAV),
		})
	}
	return rows
}

func weight(value, nav decimal.Decimal) any {
	if !nav.IsPositive() {
		return nil
	}
	return toFloat(domain.Div(value.Mul(decimal.NewFromInt(100)), nav))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
