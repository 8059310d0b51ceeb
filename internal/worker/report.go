package worker

import (
	"context"
	"time"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/report"
)

// ReportGenerator builds and stores the NAV report of a date.
type ReportGenerator interface {
	Generate(ctx context.Context, date time.Time) (report.Data, error)
}

// ReportWorker periodically generates the daily NAV report.
type ReportWorker struct {
	generator ReportGenerator
	interval  time.Duration
	now       func() time.Time
}

// NewReportWorker creates a new ReportWorker.
func NewReportWorker(generator ReportGenerator, interval time.Duration) *ReportWorker {
	return &ReportWorker{
		generator: generator,
		interval:  interval,
		now:       time.Now,
	}
}

// Run starts the report worker loop. It blocks until the context is cancelled.
func (w *ReportWorker) Run(ctx context.Context) {
	runLoop(ctx, "ReportWorker", w.interval, func(ctx context.Context) error {
		_, err := w.generator.Generate(ctx, domain.Day(w.now()))
		return err
	})
}
