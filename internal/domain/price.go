package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource tags where a stored price came from.
type PriceSource string

const (
	SourceCoinGecko PriceSource = "coingecko"
	SourceCSV       PriceSource = "csv"
	SourceFixed     PriceSource = "fixed"
	SourceManual    PriceSource = "manual"
)

// PriceSnapshot is the EUR price of one asset on one day.
type PriceSnapshot struct {
	AssetID  int64           `json:"assetId"`
	Date     time.Time       `json:"date"`
	PriceEUR decimal.Decimal `json:"priceEur"`
	Source   PriceSource     `json:"source"`
}

// ConflictPolicy decides what happens when a snapshot already exists for (asset, date).
type ConflictPolicy int

const (
	KeepExisting ConflictPolicy = iota
	Overwrite
)

func (p ConflictPolicy) String() string {
	if p == Overwrite {
		return "overwrite"
	}
	return "keep-existing"
}
