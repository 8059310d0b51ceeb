package price

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/fundo/internal/domain"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 2 * time.Second
)

// BackfillRequest describes a historical fill over [Start, End].
type BackfillRequest struct {
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Assets     []domain.Asset `json:"assets"`
	BatchSize  int            `json:"batchSize,omitempty"`
	BatchDelay time.Duration  `json:"batchDelay,omitempty"`
	Overwrite  bool           `json:"overwrite,omitempty"`
}

// BackfillReport summarises a fill.
type BackfillReport struct {
	Dates       int  `json:"dates"`
	Fetched     int  `json:"fetched"`
	Skipped     int  `json:"skipped"`
	Unavailable int  `json:"unavailable"`
	Cancelled   bool `json:"cancelled"`
}

// Backfiller fills missing snapshots from the upstream API, date by date.
type Backfiller struct {
	oracle     *Oracle
	sleep      func(ctx context.Context, d time.Duration) error
	batchSize  int
	batchDelay time.Duration
}

// NewBackfiller creates a Backfiller over the oracle's store, fetcher and breaker.
func NewBackfiller(oracle *Oracle) *Backfiller {
	return &Backfiller{oracle: oracle, sleep: sleepCtx}
}

// WithBatching sets the batch size and delay used by requests that leave them unset.
func (b *Backfiller) WithBatching(size int, delay time.Duration) *Backfiller {
	b.batchSize = size
	b.batchDelay = delay
	return b
}

// Run walks every date of the request and, per date, the assets in batches.
// Cancellation is observed between batches; a partial report is returned
// with Cancelled set. While the circuit is open the fill waits out the
// cooldown instead of burning through dates.
func (b *Backfiller) Run(ctx context.Context, req BackfillRequest) (BackfillReport, error) {
	if b.oracle.fetcher == nil {
		return BackfillReport{}, fmt.Errorf("backfill needs a price API client")
	}
	if req.End.Before(req.Start) {
		return BackfillReport{}, fmt.Errorf("backfill end %s precedes start %s",
			req.End.Format(domain.DateLayout), req.Start.Format(domain.DateLayout))
	}
	size := lo.CoalesceOrEmpty(req.BatchSize, b.batchSize)
	if size <= 0 {
		size = DefaultBatchSize
	}
	delay := lo.CoalesceOrEmpty(req.BatchDelay, b.batchDelay)
	policy := lo.Ternary(req.Overwrite, domain.Overwrite, domain.KeepExisting)
	assets := lo.Filter(lo.UniqBy(req.Assets, func(a domain.Asset) int64 { return a.ID }),
		func(a domain.Asset, _ int) bool { return a.Priceable() })
	batches := lo.Chunk(assets, size)

	var report BackfillReport
	first := true
	for _, date := range domain.DaysBetween(req.Start, req.End) {
		report.Dates++
		for _, batch := range batches {
			if !first && delay > 0 {
				if err := b.sleep(ctx, delay); err != nil {
					report.Cancelled = true
					return report, nil
				}
			}
			first = false
			if ctx.Err() != nil {
				report.Cancelled = true
				return report, nil
			}
			if err := b.fillBatch(ctx, batch, date, req.Overwrite, policy, &report); err != nil {
				if ctx.Err() != nil {
					report.Cancelled = true
					return report, nil
				}
				return report, err
			}
		}
	}

	slog.Info("Backfill: complete", "dates", report.Dates, "fetched", report.Fetched,
		"skipped", report.Skipped, "unavailable", report.Unavailable)
	return report, nil
}

func (b *Backfiller) fillBatch(ctx context.Context, batch []domain.Asset, date time.Time, overwrite bool, policy domain.ConflictPolicy, report *BackfillReport) error {
	for _, asset := range batch {
		if err := b.waitForCircuit(ctx); err != nil {
			return err
		}
		if !overwrite {
			exists, err := b.oracle.repo.Exists(ctx, asset.ID, date)
			if err != nil {
				return err
			}
			if exists {
				report.Skipped++
				continue
			}
		}

		price, err := b.oracle.fetch(ctx, asset, date)
		if errors.Is(err, domain.ErrPriceUnavailable) {
			report.Unavailable++
			slog.Debug("Backfill: price unavailable", "symbol", asset.Symbol, "date", date.Format(domain.DateLayout), "error", err)
			continue
		}
		if err != nil {
			return err
		}
		if _, err := b.oracle.store(ctx, asset, date, price, domain.SourceCoinGecko, policy); err != nil {
			return err
		}
		report.Fetched++
	}
	return nil
}

func (b *Backfiller) waitForCircuit(ctx context.Context) error {
	until := b.oracle.breaker.OpenUntil()
	if until.IsZero() {
		return nil
	}
	wait := until.Sub(b.oracle.breaker.clock())
	slog.Warn("Backfill: circuit open, waiting", "for", wait.Round(time.Second))
	return b.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
