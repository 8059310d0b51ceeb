package memstore

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/report"
)

// ReportRepo implements report.Repository.
type ReportRepo struct{ s *Store }

func (r *ReportRepo) Save(_ context.Context, date time.Time, data json.RawMessage) error {
	return r.s.mutate(func(st *state) error {
		date = domain.Day(date)
		rep, ok := st.reports[date]
		if !ok {
			rep = report.Report{ID: r.s.seq.next("nav_reports"), ReportDate: date}
		}
		rep.Data = slices.Clone(data)
		rep.CreatedAt = time.Now().UTC()
		st.reports[date] = rep
		return nil
	})
}

func (r *ReportRepo) GetLatest(ctx context.Context) (*report.Report, error) {
	reports, _ := r.List(ctx, 1)
	if len(reports) == 0 {
		return nil, domain.ErrNotFound
	}
	return &reports[0], nil
}

func (r *ReportRepo) GetByDate(_ context.Context, date time.Time) (*report.Report, error) {
	var rep report.Report
	var ok bool
	r.s.read(func(st *state) { rep, ok = st.reports[domain.Day(date)] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rep, nil
}

func (r *ReportRepo) List(_ context.Context, limit int) ([]report.Report, error) {
	if limit <= 0 {
		limit = report.DefaultListLimit
	}
	var out []report.Report
	r.s.read(func(st *state) { out = lo.Values(st.reports) })
	slices.SortFunc(out, func(a, b report.Report) int { return b.ReportDate.Compare(a.ReportDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
