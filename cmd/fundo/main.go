package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/fundo/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	cliApp := &cli.App{
		Name:  "fundo",
		Usage: "community fund ledger, NAV and share accounting",
		Commands: []*cli.Command{
			serveCommand(cfg),
			migrateCommand(cfg),
			navCommand(cfg),
			backfillCommand(cfg),
			importPricesCommand(cfg),
			syncCardanoCommand(cfg),
			exportCommand(cfg),
		},
		DefaultCommand: "serve",
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("fundo: %v", err)
	}
}

// withApp opens the database, wires the services and runs fn.
func withApp(c *cli.Context, cfg config.Config, fn func(a *app) error) error {
	pool, err := openDB(c.Context, cfg)
	if err != nil {
		return err
	}
	a, err := newApp(c.Context, cfg, pool)
	if err != nil {
		pool.Close()
		return err
	}
	defer a.close()
	return fn(a)
}
