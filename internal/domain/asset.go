package domain

import "strings"

// EURAssetID is the fixed id of the fund's base currency. It is seeded by the
// first migration and never changes.
const EURAssetID int64 = 1

// EURSymbol is the ticker of the base currency.
const EURSymbol = "EUR"

// Asset is a tradable instrument: fiat EUR, a crypto asset or an on-chain token.
type Asset struct {
	ID              int64  `json:"id"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Chain           string `json:"chain,omitempty"`
	ExternalPriceID string `json:"externalPriceId,omitempty"`
	IsStablecoin    bool   `json:"isStablecoin"`
}

// IsEUR reports whether the asset is the base currency.
func (a Asset) IsEUR() bool {
	return a.ID == EURAssetID || strings.EqualFold(a.Symbol, EURSymbol)
}

// Priceable reports whether the asset can be priced from the external API.
func (a Asset) Priceable() bool {
	return !a.IsEUR() && a.ExternalPriceID != ""
}

// AssetSpec describes an asset to be ensured in the registry.
type AssetSpec struct {
	Symbol          string
	Name            string
	Chain           string
	ExternalPriceID string
	IsStablecoin    bool
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// EURAsset returns the base currency asset.
func EURAsset() Asset {
	return Asset{ID: EURAssetID, Symbol: EURSymbol, Name: "Euro", Chain: "fiat", IsStablecoin: true}
}
