package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/fundo/internal/api"
	"github.com/mtlprog/fundo/internal/cardano"
	"github.com/mtlprog/fundo/internal/config"
	"github.com/mtlprog/fundo/internal/database"
	"github.com/mtlprog/fundo/internal/export"
	"github.com/mtlprog/fundo/internal/external"
	"github.com/mtlprog/fundo/internal/ledger"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/position"
	"github.com/mtlprog/fundo/internal/price"
	"github.com/mtlprog/fundo/internal/registry"
	"github.com/mtlprog/fundo/internal/report"
	"github.com/mtlprog/fundo/internal/shares"
	"github.com/mtlprog/fundo/migrations"
)

// app is the wired set of services shared by every command.
type app struct {
	cfg  config.Config
	pool *pgxpool.Pool

	registry   *registry.Service
	ledger     *ledger.Engine
	positions  *position.Service
	snapshots  *price.PgSnapshotRepository
	oracle     *price.Oracle
	backfiller *price.Backfiller
	jobs       *price.Jobs
	nav        *nav.Service
	allocator  *shares.Allocator
	reports    *report.Service
	cardano    *cardano.Service
}

// openDB connects to PostgreSQL and applies pending migrations.
func openDB(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxConns: int32(cfg.DatabaseMaxConns),
		MinConns: int32(cfg.DatabaseMinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return pool, nil
}

// newApp wires every service over the pool. Backfill jobs run until close.
func newApp(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (*app, error) {
	a := &app{cfg: cfg, pool: pool}

	a.registry = registry.NewService(registry.NewPgRepository(pool))
	a.ledger = ledger.NewEngine(ledger.NewPgRepository(pool))
	a.positions = position.NewService(a.ledger, a.registry)

	coingecko := external.NewCoinGeckoClient(cfg.CoinGeckoURL,
		external.WithAPIKey(cfg.CoinGeckoAPIKey),
		external.WithRatePerMinute(cfg.CoinGeckoRatePerMinute),
		external.WithTimeout(cfg.CoinGeckoTimeout),
	)
	a.snapshots = price.NewPgSnapshotRepository(pool)
	breaker := price.NewBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown)
	a.oracle = price.NewOracle(a.snapshots, coingecko, breaker, cfg.PriceAllowAPIFallback)
	a.backfiller = price.NewBackfiller(a.oracle).WithBatching(cfg.BackfillBatchSize, cfg.BackfillBatchDelay)
	a.jobs = price.NewJobs(ctx, a.backfiller)

	sharesRepo := shares.NewPgRepository(pool)
	a.nav = nav.NewService(nav.NewPgRepository(pool), a.positions, a.oracle, a.registry, sharesRepo)
	a.allocator = shares.NewAllocator(sharesRepo, a.nav, a.registry)

	exporters := []report.Exporter{export.NewXLSXWriter(cfg.ExportDir)}
	if cfg.SheetsEnabled() {
		sheets, err := export.NewSheetsWriter(ctx, cfg.GoogleSheetsID, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("creating sheets writer: %w", err)
		}
		exporters = append(exporters, sheets)
		slog.Info("Google Sheets export enabled", "spreadsheet", cfg.GoogleSheetsID)
	}
	a.reports = report.NewService(a.allocator, report.NewPgRepository(pool), exporters...)

	explorer := cardano.NewClient(cfg.CardanoScanURL, cfg.CardanoScanAPIKey,
		cfg.CardanoScanRetryMax, cfg.CardanoScanRetryBaseDelay, cfg.CardanoScanRatePerSecond)
	a.cardano = cardano.NewService(explorer, cardano.NewPgRepository(pool), a.registry, a.jobs)

	return a, nil
}

func (a *app) apiServices() api.Services {
	return api.Services{
		Ledger:    a.ledger,
		Positions: a.positions,
		NAV:       a.nav,
		Shares:    a.allocator,
		Reports:   a.reports,
		Backfills: a.jobs,
		Assets:    a.registry,
	}
}

// close stops background jobs and releases the pool.
func (a *app) close() {
	a.jobs.Shutdown()
	a.pool.Close()
}
