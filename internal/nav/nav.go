// Package nav values the fund: EUR cash from capital movements and trades,
// plus every non-EUR holding at its EUR price.
package nav

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/price"
)

// Flows are the EUR aggregates that make up fund cash as of a date.
type Flows struct {
	// Credits and Debits cover capital movements of non-admin members.
	Credits decimal.Decimal
	Debits  decimal.Decimal
	// BuyCost is the EUR spent on buys, SellProceeds the EUR received from sells.
	BuyCost      decimal.Decimal
	SellProceeds decimal.Decimal
}

// Cash returns credits − debits − buy cost + sell proceeds.
func (f Flows) Cash() decimal.Decimal {
	return f.Credits.Sub(f.Debits).Sub(f.BuyCost).Add(f.SellProceeds)
}

// CashSource aggregates the cash flows dated on or before asOf.
type CashSource interface {
	CashFlows(ctx context.Context, asOf time.Time) (Flows, error)
}

// HoldingsSource returns fund-wide asset quantities as of a date.
type HoldingsSource interface {
	Holdings(ctx context.Context, asOf time.Time) (map[int64]decimal.Decimal, error)
}

// PriceSource prices an asset on a date, carrying the last known price forward.
type PriceSource interface {
	PriceAsOf(ctx context.Context, asset domain.Asset, date time.Time, opts ...price.Option) (decimal.Decimal, time.Time, error)
}

// AssetSource resolves asset metadata.
type AssetSource interface {
	ListAssets(ctx context.Context) ([]domain.Asset, error)
}

// SharesSource returns the shares in circulation as of a date.
type SharesSource interface {
	TotalShares(ctx context.Context, asOf time.Time) (decimal.Decimal, error)
}

// HoldingValue is one non-EUR holding and its EUR value.
type HoldingValue struct {
	AssetID   int64           `json:"assetId"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	PriceEUR  decimal.Decimal `json:"priceEur"`
	PriceDate *time.Time      `json:"priceDate,omitempty"`
	ValueEUR  decimal.Decimal `json:"valueEur"`
}

// Valuation is the fund's NAV on a date.
type Valuation struct {
	Date          time.Time       `json:"date"`
	CashEUR       decimal.Decimal `json:"cashEur"`
	Holdings      []HoldingValue  `json:"holdings"`
	HoldingsEUR   decimal.Decimal `json:"holdingsEur"`
	NAV           decimal.Decimal `json:"nav"`
	TotalShares   decimal.Decimal `json:"totalShares"`
	NAVPerShare   decimal.Decimal `json:"navPerShare"`
	MissingPrices []string        `json:"missingPrices,omitempty"`
}

// PerShare returns nav / shares, or 1 while no shares exist.
func PerShare(nav, shares decimal.Decimal) decimal.Decimal {
	if !shares.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return domain.Div(nav, shares)
}

// Service computes valuations.
type Service struct {
	cash     CashSource
	holdings HoldingsSource
	prices   PriceSource
	assets   AssetSource
	shares   SharesSource

	// priceOpts apply to every price lookup of Compute
	priceOpts []price.Option
}

// NewService creates a NAV Service.
func NewService(cash CashSource, holdings HoldingsSource, prices PriceSource, assets AssetSource, shares SharesSource) *Service {
	if cash == nil {
		panic("nav.NewService: cash is nil")
	}
	if holdings == nil {
		panic("nav.NewService: holdings is nil")
	}
	if prices == nil {
		panic("nav.NewService: prices is nil")
	}
	if assets == nil {
		panic("nav.NewService: assets is nil")
	}
	if shares == nil {
		panic("nav.NewService: shares is nil")
	}
	return &Service{cash: cash, holdings: holdings, prices: prices, assets: assets, shares: shares}
}

// WithSources returns a copy reading cash and shares from the given sources,
// typically queries bound to an open database transaction.
func (s *Service) WithSources(cash CashSource, shares SharesSource) *Service {
	c := *s
	c.cash = cash
	c.shares = shares
	return &c
}

// WithPriceOptions returns a copy whose price lookups use opts, for example
// price.WithoutAPIFallback while a lock is held.
func (s *Service) WithPriceOptions(opts ...price.Option) *Service {
	c := *s
	c.priceOpts = append(slices.Clip(s.priceOpts), opts...)
	return &c
}

// WarmPrices resolves the price of every holding as of asOf, fetching and
// storing the ones the store lacks. Missing prices are not an error.
func (s *Service) WarmPrices(ctx context.Context, asOf time.Time) error {
	asOf = domain.Day(asOf)
	quantities, err := s.holdings.Holdings(ctx, asOf)
	if err != nil {
		return fmt.Errorf("reading holdings: %w", err)
	}
	_, _, err = s.valueHoldings(ctx, quantities, asOf)
	return err
}

// Compute returns the valuation as of asOf. A holding without any price is
// valued at zero and listed in MissingPrices.
func (s *Service) Compute(ctx context.Context, asOf time.Time) (Valuation, error) {
	asOf = domain.Day(asOf)

	flows, err := s.cash.CashFlows(ctx, asOf)
	if err != nil {
		return Valuation{}, fmt.Errorf("reading cash flows: %w", err)
	}
	quantities, err := s.holdings.Holdings(ctx, asOf)
	if err != nil {
		return Valuation{}, fmt.Errorf("reading holdings: %w", err)
	}
	total, err := s.shares.TotalShares(ctx, asOf)
	if err != nil {
		return Valuation{}, fmt.Errorf("reading total shares: %w", err)
	}

	v := Valuation{Date: asOf, CashEUR: flows.Cash(), TotalShares: total}
	holdings, missing, err := s.valueHoldings(ctx, quantities, asOf)
	if err != nil {
		return Valuation{}, err
	}
	v.Holdings = holdings
	v.MissingPrices = missing
	v.HoldingsEUR = lo.Reduce(holdings, func(acc decimal.Decimal, h HoldingValue, _ int) decimal.Decimal {
		return acc.Add(h.ValueEUR)
	}, decimal.Zero)
	v.NAV = v.CashEUR.Add(v.HoldingsEUR)
	v.NAVPerShare = PerShare(v.NAV, v.TotalShares)

	if len(missing) > 0 {
		slog.Warn("NAV: holdings valued at zero for lack of a price", "date", asOf.Format(domain.DateLayout), "symbols", missing)
	}
	return v, nil
}

func (s *Service) valueHoldings(ctx context.Context, quantities map[int64]decimal.Decimal, asOf time.Time) ([]HoldingValue, []string, error) {
	if len(quantities) == 0 {
		return nil, nil, nil
	}
	assets, err := s.assets.ListAssets(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing assets: %w", err)
	}
	byID := lo.KeyBy(assets, func(a domain.Asset) int64 { return a.ID })

	var holdings []HoldingValue
	var missing []string
	for assetID, qty := range quantities {
		asset, ok := byID[assetID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: holding of unknown asset %d", domain.ErrState, assetID)
		}
		if asset.IsEUR() || domain.IsDust(qty) {
			continue
		}
		h := HoldingValue{AssetID: assetID, Symbol: asset.Symbol, Quantity: qty}
		p, date, err := s.prices.PriceAsOf(ctx, asset, asOf, s.priceOpts...)
		switch {
		case errors.Is(err, domain.ErrPriceUnavailable):
			missing = append(missing, asset.Symbol)
		case err != nil:
			return nil, nil, fmt.Errorf("pricing %s: %w", asset.Symbol, err)
		default:
			h.PriceEUR = p
			h.PriceDate = &date
			h.ValueEUR = qty.Mul(p)
		}
		holdings = append(holdings, h)
	}
	slices.SortFunc(holdings, func(a, b HoldingValue) int { return cmp.Compare(a.Symbol, b.Symbol) })
	slices.Sort(missing)
	return holdings, missing, nil
}
