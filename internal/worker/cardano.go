package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtlprog/fundo/internal/cardano"
)

// WalletSyncer pulls new transactions of the tracked wallets.
type WalletSyncer interface {
	Sync(ctx context.Context) (cardano.SyncResult, error)
}

// CardanoWorker periodically syncs the tracked Cardano wallets.
type CardanoWorker struct {
	syncer   WalletSyncer
	interval time.Duration
}

// NewCardanoWorker creates a new CardanoWorker.
func NewCardanoWorker(syncer WalletSyncer, interval time.Duration) *CardanoWorker {
	return &CardanoWorker{syncer: syncer, interval: interval}
}

// Run starts the sync loop. It blocks until the context is cancelled.
func (w *CardanoWorker) Run(ctx context.Context) {
	runLoop(ctx, "CardanoWorker", w.interval, func(ctx context.Context) error {
		result, err := w.syncer.Sync(ctx)
		if err != nil {
			return err
		}
		for _, we := range result.Errors {
			slog.Warn("CardanoWorker: wallet not synced", "wallet", we.WalletID, "error", we.Error)
		}
		return nil
	})
}
