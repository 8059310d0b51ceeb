// Package price is the EUR price oracle: a date-indexed snapshot store filled
// on demand from CoinGecko behind a rate-limit circuit breaker, plus bulk
// backfill and CSV import.
package price

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
)

const memoTTL = 10 * time.Minute

// SnapshotRepository persists price snapshots.
type SnapshotRepository interface {
	// Get returns domain.ErrNotFound when no snapshot exists for (asset, date).
	Get(ctx context.Context, assetID int64, date time.Time) (domain.PriceSnapshot, error)
	Exists(ctx context.Context, assetID int64, date time.Time) (bool, error)
	// Upsert stores snap under the policy and reports whether a row was written.
	Upsert(ctx context.Context, snap domain.PriceSnapshot, policy domain.ConflictPolicy) (bool, error)
	// Series returns the snapshots of an asset in [from, to], date ascending.
	// A zero from means "since the beginning".
	Series(ctx context.Context, assetID int64, from, to time.Time) ([]domain.PriceSnapshot, error)
}

// Fetcher is the upstream price API.
type Fetcher interface {
	CurrentPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error)
	HistoricalPrice(ctx context.Context, id string, date time.Time) (decimal.Decimal, error)
}

type options struct {
	apiFallback bool
}

// Option adjusts a single lookup.
type Option func(*options)

// WithoutAPIFallback restricts a lookup to the local store, for callers
// that must not stall on the network.
func WithoutAPIFallback() Option {
	return func(o *options) {
		o.apiFallback = false
	}
}

// Oracle answers price(asset, date) in EUR.
type Oracle struct {
	repo        SnapshotRepository
	fetcher     Fetcher
	breaker     *Breaker
	memo        *cache.Cache
	apiFallback bool
	now         func() time.Time
}

// NewOracle creates a price Oracle. fetcher may be nil, in which case only
// the local store is consulted.
func NewOracle(repo SnapshotRepository, fetcher Fetcher, breaker *Breaker, apiFallback bool) *Oracle {
	if repo == nil {
		panic("price.NewOracle: repo is nil")
	}
	if breaker == nil {
		breaker = NewBreaker(0, 0)
	}
	return &Oracle{
		repo:        repo,
		fetcher:     fetcher,
		breaker:     breaker,
		memo:        cache.New(memoTTL, 2*memoTTL),
		apiFallback: apiFallback && fetcher != nil,
		now:         time.Now,
	}
}

// Breaker exposes the oracle's circuit breaker.
func (o *Oracle) Breaker() *Breaker {
	return o.breaker
}

func memoKey(assetID int64, date time.Time) string {
	return fmt.Sprintf("%d:%s", assetID, date.Format(domain.DateLayout))
}

func (o *Oracle) resolve(opts []Option) options {
	cfg := options{apiFallback: o.apiFallback}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Price returns the EUR price of asset on date. EUR is always exactly 1 and
// never stored. When no price can be produced the error wraps
// domain.ErrPriceUnavailable; upstream failures are absorbed into it.
func (o *Oracle) Price(ctx context.Context, asset domain.Asset, date time.Time, opts ...Option) (decimal.Decimal, error) {
	if asset.IsEUR() {
		return decimal.NewFromInt(1), nil
	}
	date = domain.Day(date)
	key := memoKey(asset.ID, date)
	if v, ok := o.memo.Get(key); ok {
		return v.(decimal.Decimal), nil
	}

	snap, err := o.repo.Get(ctx, asset.ID, date)
	if err == nil {
		o.memo.SetDefault(key, snap.PriceEUR)
		return snap.PriceEUR, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("reading snapshot %s/%s: %w", asset.Symbol, date.Format(domain.DateLayout), err)
	}

	if !o.resolve(opts).apiFallback || !asset.Priceable() {
		return decimal.Zero, fmt.Errorf("%s on %s: %w", asset.Symbol, date.Format(domain.DateLayout), domain.ErrPriceUnavailable)
	}

	price, err := o.fetch(ctx, asset, date)
	if err != nil {
		return decimal.Zero, err
	}
	if _, err := o.store(ctx, asset, date, price, domain.SourceCoinGecko, domain.KeepExisting); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

// PriceBulk prices every asset on date. Assets without a price are absent
// from the result; only store failures and cancellation are returned.
func (o *Oracle) PriceBulk(ctx context.Context, assets []domain.Asset, date time.Time, opts ...Option) (map[int64]decimal.Decimal, error) {
	result := make(map[int64]decimal.Decimal, len(assets))
	for _, asset := range lo.UniqBy(assets, func(a domain.Asset) int64 { return a.ID }) {
		price, err := o.Price(ctx, asset, date, opts...)
		if errors.Is(err, domain.ErrPriceUnavailable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[asset.ID] = price
	}
	return result, nil
}

// PriceAsOf returns the price on date, or else the most recent stored price
// before it, together with the date the price belongs to.
func (o *Oracle) PriceAsOf(ctx context.Context, asset domain.Asset, date time.Time, opts ...Option) (decimal.Decimal, time.Time, error) {
	date = domain.Day(date)
	price, err := o.Price(ctx, asset, date, opts...)
	if err == nil {
		return price, date, nil
	}
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		return decimal.Zero, time.Time{}, err
	}

	snaps, err := o.repo.Series(ctx, asset.ID, time.Time{}, date)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("reading series of %s: %w", asset.Symbol, err)
	}
	p, ok := NewSeries(snaps).At(date)
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("%s on or before %s: %w", asset.Symbol, date.Format(domain.DateLayout), domain.ErrPriceUnavailable)
	}
	return p.Value, p.Date, nil
}

// SetManual records an operator-supplied price, replacing any stored one.
func (o *Oracle) SetManual(ctx context.Context, asset domain.Asset, date time.Time, price decimal.Decimal) error {
	if asset.IsEUR() {
		return fmt.Errorf("%w: the EUR price is fixed at 1", domain.ErrConflict)
	}
	if !price.IsPositive() {
		return fmt.Errorf("manual price for %s must be positive, got %s", asset.Symbol, price)
	}
	_, err := o.store(ctx, asset, domain.Day(date), price, domain.SourceManual, domain.Overwrite)
	return err
}

// RefreshToday fetches today's price of every priced asset with one call and
// overwrites today's snapshots. It returns how many prices were stored.
func (o *Oracle) RefreshToday(ctx context.Context, assets []domain.Asset) (int, error) {
	priced := lo.Filter(assets, func(a domain.Asset, _ int) bool { return a.Priceable() })
	if len(priced) == 0 || o.fetcher == nil {
		return 0, nil
	}
	if !o.breaker.Allow() {
		return 0, fmt.Errorf("circuit open until %s: %w", o.breaker.OpenUntil().Format(time.RFC3339), domain.ErrUpstreamRateLimited)
	}

	ids := lo.Uniq(lo.Map(priced, func(a domain.Asset, _ int) string { return a.ExternalPriceID }))
	prices, err := o.fetcher.CurrentPrices(ctx, ids)
	if err != nil {
		o.classify(err)
		return 0, fmt.Errorf("fetching current prices: %w", err)
	}
	o.breaker.RecordSuccess()

	today := domain.Day(o.now())
	stored := 0
	for _, asset := range priced {
		price, ok := prices[asset.ExternalPriceID]
		if !ok {
			slog.Warn("Price oracle: no current price", "symbol", asset.Symbol, "externalId", asset.ExternalPriceID)
			continue
		}
		if _, err := o.store(ctx, asset, today, price, domain.SourceCoinGecko, domain.Overwrite); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// fetch asks the upstream API for one price. Every failure other than
// cancellation comes back wrapped in domain.ErrPriceUnavailable.
func (o *Oracle) fetch(ctx context.Context, asset domain.Asset, date time.Time) (decimal.Decimal, error) {
	unavailable := func(cause error) error {
		return fmt.Errorf("%s on %s: %w: %w", asset.Symbol, date.Format(domain.DateLayout), domain.ErrPriceUnavailable, cause)
	}
	if !o.breaker.Allow() {
		return decimal.Zero, unavailable(domain.ErrUpstreamRateLimited)
	}

	var price decimal.Decimal
	var err error
	if date.Equal(domain.Day(o.now())) {
		var prices map[string]decimal.Decimal
		prices, err = o.fetcher.CurrentPrices(ctx, []string{asset.ExternalPriceID})
		if err == nil {
			var ok bool
			if price, ok = prices[asset.ExternalPriceID]; !ok {
				err = domain.ErrPriceUnavailable
			}
		}
	} else {
		price, err = o.fetcher.HistoricalPrice(ctx, asset.ExternalPriceID, date)
	}

	if err != nil {
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		o.classify(err)
		return decimal.Zero, unavailable(err)
	}
	o.breaker.RecordSuccess()
	return price, nil
}

// classify feeds an upstream error into the breaker. A well-formed answer
// without data counts as a success; transient failures leave the counter alone.
func (o *Oracle) classify(err error) {
	switch {
	case errors.Is(err, domain.ErrUpstreamRateLimited):
		o.breaker.RecordRateLimited()
	case errors.Is(err, domain.ErrPriceUnavailable):
		o.breaker.RecordSuccess()
	}
}

func (o *Oracle) store(ctx context.Context, asset domain.Asset, date time.Time, price decimal.Decimal, source domain.PriceSource, policy domain.ConflictPolicy) (bool, error) {
	written, err := o.repo.Upsert(ctx, domain.PriceSnapshot{AssetID: asset.ID, Date: date, PriceEUR: price, Source: source}, policy)
	if err != nil {
		return false, fmt.Errorf("storing price of %s on %s: %w", asset.Symbol, date.Format(domain.DateLayout), err)
	}
	key := memoKey(asset.ID, date)
	if written {
		o.memo.SetDefault(key, price)
	} else {
		o.memo.Delete(key)
	}
	return written, nil
}
