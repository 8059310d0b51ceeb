package export

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/report"
	"github.com/mtlprog/fundo/internal/shares"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleReport() report.Data {
	day := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	return report.Data{
		Date: day,
		Valuation: nav.Valuation{
			Date:    day,
			CashEUR: d("10"),
			Holdings: []nav.HoldingValue{
				{AssetID: 2, Symbol: "BTC", Quantity: d("0.05"), PriceEUR: d("20"), PriceDate: domain.Ptr(day), ValueEUR: d("1")},
				{AssetID: 3, Symbol: "ADA", Quantity: d("999"), PriceEUR: d("1"), ValueEUR: d("999")},
			},
			HoldingsEUR: d("1000"),
			NAV:         d("1010"),
			TotalShares: d("1000"),
			NAVPerShare: d("1.01"),
		},
		Register: []shares.Ownership{
			{MemberID: 1, Name: "alice", Shares: d("750"), Pct: d("75"), ValueEUR: d("757.5"), NAVPerShare: d("1.01")},
			{MemberID: 2, Name: "bob", Shares: d("250"), Pct: d("25"), ValueEUR: d("252.5"), NAVPerShare: d("1.01")},
			{MemberID: 3, Name: "carol", Shares: d("0"), Pct: d("0"), ValueEUR: d("0"), NAVPerShare: d("1.01")},
		},
	}
}
