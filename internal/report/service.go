// Package report builds and stores the daily NAV report: the fund valuation
// and the share register of a date.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/shares"
)

// Data is the content of one NAV report.
type Data struct {
	Date      time.Time          `json:"date"`
	Valuation nav.Valuation      `json:"valuation"`
	Register  []shares.Ownership `json:"register"`
}

// RegisterSource values the fund and lists member ownership as of a date.
type RegisterSource interface {
	Register(ctx context.Context, asOf time.Time) ([]shares.Ownership, nav.Valuation, error)
}

// Exporter publishes a generated report somewhere else (a workbook, a sheet).
type Exporter interface {
	Export(ctx context.Context, data Data) error
}

// Service manages report generation and retrieval.
type Service struct {
	source    RegisterSource
	repo      Repository
	exporters []Exporter
}

// NewService creates a new report Service. Exporters run after each
// generated report; their failures are logged and do not fail generation.
func NewService(source RegisterSource, repo Repository, exporters ...Exporter) *Service {
	if source == nil {
		panic("report.NewService: source is nil")
	}
	if repo == nil {
		panic("report.NewService: repo is nil")
	}
	return &Service{source: source, repo: repo, exporters: exporters}
}

// Generate values the fund as of date, stores the report and runs the exporters.
func (s *Service) Generate(ctx context.Context, date time.Time) (Data, error) {
	date = domain.Day(date)
	register, valuation, err := s.source.Register(ctx, date)
	if err != nil {
		return Data{}, fmt.Errorf("building share register: %w", err)
	}
	data := Data{Date: date, Valuation: valuation, Register: register}

	raw, err := json.Marshal(data)
	if err != nil {
		return Data{}, fmt.Errorf("marshaling report: %w", err)
	}
	if err := s.repo.Save(ctx, date, raw); err != nil {
		return Data{}, fmt.Errorf("saving report: %w", err)
	}

	for _, e := range s.exporters {
		if err := e.Export(ctx, data); err != nil {
			slog.Warn("failed to export report", "date", date.Format(domain.DateLayout), "error", err)
		}
	}
	return data, nil
}

// GetLatest retrieves the most recent report.
func (s *Service) GetLatest(ctx context.Context) (*Report, error) {
	return s.repo.GetLatest(ctx)
}

// GetByDate retrieves the report of a specific date.
func (s *Service) GetByDate(ctx context.Context, date time.Time) (*Report, error) {
	return s.repo.GetByDate(ctx, domain.Day(date))
}

// List retrieves recent reports, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Report, error) {
	return s.repo.List(ctx, limit)
}
