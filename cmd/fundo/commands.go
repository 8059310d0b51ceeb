package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/fundo/internal/api"
	"github.com/mtlprog/fundo/internal/config"
	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/export"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/price"
	"github.com/mtlprog/fundo/internal/report"
	"github.com/mtlprog/fundo/internal/shares"
	"github.com/mtlprog/fundo/internal/worker"
)

func serveCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and the background workers",
		Action: func(c *cli.Context) error {
			return withApp(c, cfg, func(a *app) error {
				ctx := c.Context

				go worker.NewQuoteWorker(a.registry, a.oracle, cfg.QuoteWorkerInterval).Run(ctx)
				go worker.NewReportWorker(a.reports, cfg.ReportWorkerInterval).Run(ctx)
				if cfg.CardanoScanAPIKey != "" {
					go worker.NewCardanoWorker(a.cardano, cfg.CardanoSyncInterval).Run(ctx)
				} else {
					slog.Warn("CARDANOSCAN_API_KEY not set, Cardano sync disabled")
				}

				if cfg.AdminAPIKey == "" {
					slog.Warn("ADMIN_API_KEY not set, mutating endpoints are unprotected")
				}

				srv := api.NewServer(cfg.HTTPPort, a.apiServices(), cfg.AdminAPIKey)
				errCh := make(chan error, 1)
				go func() {
					log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
				}()

				var serveErr error
				select {
				case <-ctx.Done():
				case serveErr = <-errCh:
					log.Printf("HTTP server error: %v", serveErr)
				}
				log.Println("Shutting down...")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Printf("HTTP server shutdown error: %v", err)
				}

				log.Println("Shutdown complete")
				return serveErr
			})
		},
	}
}

func migrateCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending database migrations and exit",
		Action: func(c *cli.Context) error {
			pool, err := openDB(c.Context, cfg)
			if err != nil {
				return err
			}
			pool.Close()
			log.Println("Migrations applied")
			return nil
		},
	}
}

func navCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "nav",
		Usage: "print the fund valuation as of a date",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "valuation date (YYYY-MM-DD), default today"},
			&cli.BoolFlag{Name: "register", Usage: "include member ownership"},
		},
		Action: func(c *cli.Context) error {
			date, err := dateFlag(c, "date", domain.Today())
			if err != nil {
				return err
			}
			return withApp(c, cfg, func(a *app) error {
				if !c.Bool("register") {
					v, err := a.nav.Compute(c.Context, date)
					if err != nil {
						return err
					}
					return printJSON(v)
				}
				register, v, err := a.allocator.Register(c.Context, date)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"valuation": v, "register": register})
			})
		},
	}
}

func backfillCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "fill missing daily prices from the price API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "first date (YYYY-MM-DD)", Required: true},
			&cli.StringFlag{Name: "to", Usage: "last date (YYYY-MM-DD), default today"},
			&cli.StringFlag{Name: "symbols", Usage: "comma-separated symbols, default every priceable asset"},
			&cli.BoolFlag{Name: "overwrite", Usage: "replace existing snapshots"},
		},
		Action: func(c *cli.Context) error {
			from, err := dateFlag(c, "from", time.Time{})
			if err != nil {
				return err
			}
			to, err := dateFlag(c, "to", domain.Today())
			if err != nil {
				return err
			}
			return withApp(c, cfg, func(a *app) error {
				assets, err := resolveAssets(c.Context, a, c.String("symbols"))
				if err != nil {
					return err
				}
				rep, err := a.backfiller.Run(c.Context, price.BackfillRequest{
					Start:     from,
					End:       to,
					Assets:    assets,
					Overwrite: c.Bool("overwrite"),
				})
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
}

func importPricesCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:      "import-prices",
		Usage:     "import daily USD prices of one asset from a CSV file",
		ArgsUsage: "<file.csv>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbol", Usage: "asset symbol", Required: true},
			&cli.StringFlag{Name: "fx-symbol", Usage: "asset whose EUR price is used as the daily USD→EUR rate"},
			&cli.StringFlag{Name: "usd-eur-rate", Usage: "fixed USD→EUR rate when no daily rate is known"},
			&cli.BoolFlag{Name: "overwrite", Usage: "replace existing snapshots"},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("import-prices needs a CSV file", 2)
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			opts := price.CSVOptions{
				FixedRate: cfg.USDEURRate,
				Policy:    lo.Ternary(c.Bool("overwrite"), domain.Overwrite, domain.KeepExisting),
			}
			if s := c.String("usd-eur-rate"); s != "" {
				rate, err := decimalFlag(s)
				if err != nil {
					return err
				}
				opts.FixedRate = rate
			}

			return withApp(c, cfg, func(a *app) error {
				asset, err := a.registry.AssetBySymbol(c.Context, domain.NormalizeSymbol(c.String("symbol")))
				if err != nil {
					return fmt.Errorf("asset %s: %w", c.String("symbol"), err)
				}
				if fx := c.String("fx-symbol"); fx != "" {
					fxAsset, err := a.registry.AssetBySymbol(c.Context, domain.NormalizeSymbol(fx))
					if err != nil {
						return fmt.Errorf("fx asset %s: %w", fx, err)
					}
					snaps, err := a.snapshots.Series(c.Context, fxAsset.ID, time.Time{}, domain.Today())
					if err != nil {
						return err
					}
					opts.FX = price.NewSeries(snaps)
				}
				rep, err := price.ImportCSV(c.Context, a.snapshots, f, asset, opts)
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
}

func syncCardanoCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "sync-cardano",
		Usage: "sync tracked Cardano wallets and fill the prices they need",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "add", Usage: "track a new wallet address before syncing"},
			&cli.StringFlag{Name: "label", Usage: "label of the added wallet"},
			&cli.BoolFlag{Name: "wait", Value: true, Usage: "wait for the price fill to finish"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, cfg, func(a *app) error {
				if addr := c.String("add"); addr != "" {
					id, err := a.cardano.AddWallet(c.Context, addr, c.String("label"))
					if err != nil {
						return err
					}
					log.Printf("Tracking wallet %d (%s)", id, addr)
				}
				res, err := a.cardano.Sync(c.Context)
				if err != nil {
					return err
				}
				if err := printJSON(res); err != nil {
					return err
				}
				if res.FillJob == nil || !c.Bool("wait") {
					return nil
				}
				st, err := a.jobs.Wait(c.Context, *res.FillJob)
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
}

func exportCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "export-xlsx",
		Usage: "write the NAV workbook for a date",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "report date (YYYY-MM-DD), default today"},
			&cli.StringFlag{Name: "dir", Usage: "output directory", Value: cfg.ExportDir},
			&cli.BoolFlag{Name: "save", Usage: "also store the report and run every configured exporter"},
		},
		Action: func(c *cli.Context) error {
			date, err := dateFlag(c, "date", domain.Today())
			if err != nil {
				return err
			}
			return withApp(c, cfg, func(a *app) error {
				if c.Bool("save") {
					_, err := a.reports.Generate(c.Context, date)
					return err
				}
				register, v, err := a.allocator.Register(c.Context, date)
				if err != nil {
					return err
				}
				w := export.NewXLSXWriter(c.String("dir"))
				return w.Export(c.Context, reportData(date, v, register))
			})
		},
	}
}

func dateFlag(c *cli.Context, name string, def time.Time) (time.Time, error) {
	s := c.String(name)
	if s == "" {
		return def, nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return time.Time{}, cli.Exit(fmt.Sprintf("invalid --%s %q, expected YYYY-MM-DD", name, s), 2)
	}
	return d, nil
}

func decimalFlag(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, cli.Exit(fmt.Sprintf("invalid rate %q", s), 2)
	}
	return d, nil
}

func reportData(date time.Time, v nav.Valuation, register []shares.Ownership) report.Data {
	return report.Data{Date: date, Valuation: v, Register: register}
}

// resolveAssets maps a comma-separated symbol list to assets; empty means
// every priceable asset.
func resolveAssets(ctx context.Context, a *app, symbols string) ([]domain.Asset, error) {
	if strings.TrimSpace(symbols) == "" {
		all, err := a.registry.ListAssets(ctx)
		if err != nil {
			return nil, err
		}
		return lo.Filter(all, func(x domain.Asset, _ int) bool { return x.Priceable() }), nil
	}
	var out []domain.Asset
	for _, s := range strings.Split(symbols, ",") {
		sym := domain.NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		asset, err := a.registry.AssetBySymbol(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", sym, err)
		}
		out = append(out, asset)
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
