package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/fundo/internal/domain"
)

// AssetLister lists the registered assets.
type AssetLister interface {
	ListAssets(ctx context.Context) ([]domain.Asset, error)
}

// QuoteRefresher stores today's price of the given assets.
type QuoteRefresher interface {
	RefreshToday(ctx context.Context, assets []domain.Asset) (int, error)
}

// QuoteWorker periodically refreshes today's price snapshots.
type QuoteWorker struct {
	assets   AssetLister
	oracle   QuoteRefresher
	interval time.Duration
}

// NewQuoteWorker creates a new QuoteWorker.
func NewQuoteWorker(assets AssetLister, oracle QuoteRefresher, interval time.Duration) *QuoteWorker {
	return &QuoteWorker{
		assets:   assets,
		oracle:   oracle,
		interval: interval,
	}
}

// Run starts the quote worker loop. It blocks until the context is cancelled.
func (w *QuoteWorker) Run(ctx context.Context) {
	runLoop(ctx, "QuoteWorker", w.interval, w.refresh)
}

func (w *QuoteWorker) refresh(ctx context.Context) error {
	assets, err := w.assets.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("listing assets: %w", err)
	}
	stored, err := w.oracle.RefreshToday(ctx, assets)
	if err != nil {
		return err
	}
	slog.Debug("QuoteWorker: prices stored", "count", stored)
	return nil
}
