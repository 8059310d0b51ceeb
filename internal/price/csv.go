package price

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
)

// DefaultUSDEURRate converts USD prices when no FX series is supplied.
var DefaultUSDEURRate = decimal.RequireFromString("0.92")

// CSVOptions controls a CSV price import.
type CSVOptions struct {
	// FixedRate is the USD→EUR factor; zero means DefaultUSDEURRate.
	FixedRate decimal.Decimal
	// FX, when non-empty, supplies a per-date USD→EUR rate. Dates before
	// its first point use FixedRate.
	FX     Series
	Policy domain.ConflictPolicy
}

// ImportReport summarises a CSV import.
type ImportReport struct {
	Rows        int `json:"rows"`
	Written     int `json:"written"`
	Kept        int `json:"kept"`
	FixedRateFX int `json:"fixedRateFx"`
}

type csvRow struct {
	date time.Time
	usd  decimal.Decimal
}

// ImportCSV reads a {date, price_usd} CSV (CoinGecko's snapped_at,price
// export is accepted too) for one asset, converts to EUR and stores the
// rows with source csv under the given policy.
func ImportCSV(ctx context.Context, repo SnapshotRepository, r io.Reader, asset domain.Asset, opts CSVOptions) (ImportReport, error) {
	if asset.IsEUR() {
		return ImportReport{}, fmt.Errorf("%w: the EUR price is fixed at 1", domain.ErrConflict)
	}
	rows, err := parsePriceCSV(r)
	if err != nil {
		return ImportReport{}, err
	}

	rate := opts.FixedRate
	if !rate.IsPositive() {
		rate = DefaultUSDEURRate
	}
	var fx map[time.Time]decimal.Decimal
	if len(opts.FX) > 0 {
		fx = opts.FX.AlignTo(rowDates(rows))
	}

	report := ImportReport{Rows: len(rows)}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r, ok := fx[row.date]
		if !ok {
			r = rate
			if fx != nil {
				report.FixedRateFX++
			}
		}
		snap := domain.PriceSnapshot{
			AssetID:  asset.ID,
			Date:     row.date,
			PriceEUR: row.usd.Mul(r),
			Source:   domain.SourceCSV,
		}
		written, err := repo.Upsert(ctx, snap, opts.Policy)
		if err != nil {
			return report, fmt.Errorf("importing %s on %s: %w", asset.Symbol, row.date.Format(domain.DateLayout), err)
		}
		if written {
			report.Written++
		} else {
			report.Kept++
		}
	}

	slog.Info("CSV import: done", "symbol", asset.Symbol, "rows", report.Rows,
		"written", report.Written, "kept", report.Kept, "policy", opts.Policy.String())
	return report, nil
}

func rowDates(rows []csvRow) []time.Time {
	dates := make([]time.Time, len(rows))
	for i, r := range rows {
		dates[i] = r.date
	}
	return dates
}

// parsePriceCSV returns the rows date ascending, one per day.
func parsePriceCSV(r io.Reader) ([]csvRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty CSV")
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	dateCol, priceCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "date", "snapped_at":
			dateCol = i
		case "price_usd", "price":
			priceCol = i
		}
	}
	if dateCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("CSV header %v needs date and price_usd columns", header)
	}

	byDate := make(map[time.Time]decimal.Decimal)
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", line, err)
		}
		if len(rec) <= max(dateCol, priceCol) {
			return nil, fmt.Errorf("CSV line %d: too few fields", line)
		}
		date, err := parseCSVDate(rec[dateCol])
		if err != nil {
			return nil, fmt.Errorf("CSV line %d: %w", line, err)
		}
		usd, err := decimal.NewFromString(strings.TrimSpace(rec[priceCol]))
		if err != nil {
			return nil, fmt.Errorf("CSV line %d: invalid price %q", line, rec[priceCol])
		}
		if !usd.IsPositive() {
			continue
		}
		byDate[date] = usd
	}

	rows := make([]csvRow, 0, len(byDate))
	for d, p := range byDate {
		rows = append(rows, csvRow{date: d, usd: p})
	}
	slices.SortFunc(rows, func(a, b csvRow) int { return a.date.Compare(b.date) })
	return rows, nil
}

func parseCSVDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(domain.DateLayout) {
		if t, err := time.Parse(domain.DateLayout, s[:len(domain.DateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
