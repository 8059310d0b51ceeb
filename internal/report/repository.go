package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/fundo/internal/domain"
)

// Report is a stored daily NAV report.
type Report struct {
	ID         int64           `json:"id"`
	ReportDate time.Time       `json:"reportDate"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Repository defines persistent storage for NAV reports.
type Repository interface {
	// Save stores the report of a date, replacing an earlier one.
	Save(ctx context.Context, date time.Time, data json.RawMessage) error
	GetLatest(ctx context.Context) (*Report, error)
	GetByDate(ctx context.Context, date time.Time) (*Report, error)
	List(ctx context.Context, limit int) ([]Report, error)
}

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 30

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL report repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Save(ctx context.Context, date time.Time, data json.RawMessage) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO nav_reports (report_date, data)
		 VALUES ($1, $2::jsonb)
		 ON CONFLICT (report_date)
		 DO UPDATE SET data = $2::jsonb, created_at = NOW()`,
		domain.Day(date), data)
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}

func (r *PgRepository) GetLatest(ctx context.Context) (*Report, error) {
	var rep Report
	err := r.pool.QueryRow(ctx,
		`SELECT id, report_date, data, created_at
		 FROM nav_reports
		 ORDER BY report_date DESC
		 LIMIT 1`).Scan(&rep.ID, &rep.ReportDate, &rep.Data, &rep.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting latest report: %w", err)
	}
	return &rep, nil
}

func (r *PgRepository) GetByDate(ctx context.Context, date time.Time) (*Report, error) {
	var rep Report
	err := r.pool.QueryRow(ctx,
		`SELECT id, report_date, data, created_at
		 FROM nav_reports
		 WHERE report_date = $1`, domain.Day(date)).Scan(&rep.ID, &rep.ReportDate, &rep.Data, &rep.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting report by date: %w", err)
	}
	return &rep, nil
}

func (r *PgRepository) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, report_date, data, created_at
		 FROM nav_reports
		 ORDER BY report_date DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var rep Report
		if err := rows.Scan(&rep.ID, &rep.ReportDate, &rep.Data, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	return reports, nil
}
