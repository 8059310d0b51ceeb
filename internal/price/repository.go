package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mtlprog/fundo/internal/database"
	"github.com/mtlprog/fundo/internal/domain"
)

// PgSnapshotRepository implements SnapshotRepository with PostgreSQL.
type PgSnapshotRepository struct {
	db database.Querier
}

// NewPgSnapshotRepository creates a new PostgreSQL snapshot repository.
func NewPgSnapshotRepository(db database.Querier) *PgSnapshotRepository {
	return &PgSnapshotRepository{db: db}
}

func (r *PgSnapshotRepository) Get(ctx context.Context, assetID int64, date time.Time) (domain.PriceSnapshot, error) {
	s := domain.PriceSnapshot{AssetID: assetID}
	var source string
	err := r.db.QueryRow(ctx,
		`SELECT date, price_eur, source FROM price_snapshots WHERE asset_id = $1 AND date = $2`,
		assetID, date).Scan(&s.Date, &s.PriceEUR, &source)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("getting snapshot %d/%s: %w", assetID, date.Format(domain.DateLayout), err)
	}
	s.Source = domain.PriceSource(source)
	return s, nil
}

func (r *PgSnapshotRepository) Exists(ctx context.Context, assetID int64, date time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM price_snapshots WHERE asset_id = $1 AND date = $2)`,
		assetID, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking snapshot %d/%s: %w", assetID, date.Format(domain.DateLayout), err)
	}
	return exists, nil
}

func (r *PgSnapshotRepository) Upsert(ctx context.Context, snap domain.PriceSnapshot, policy domain.ConflictPolicy) (bool, error) {
	sql := `INSERT INTO price_snapshots (asset_id, date, price_eur, source)
	        VALUES ($1, $2, $3, $4)
	        ON CONFLICT (asset_id, date) DO NOTHING`
	if policy == domain.Overwrite {
		sql = `INSERT INTO price_snapshots (asset_id, date, price_eur, source)
		       VALUES ($1, $2, $3, $4)
		       ON CONFLICT (asset_id, date) DO UPDATE SET price_eur = EXCLUDED.price_eur, source = EXCLUDED.source`
	}
	tag, err := r.db.Exec(ctx, sql, snap.AssetID, domain.Day(snap.Date), snap.PriceEUR, string(snap.Source))
	if err != nil {
		return false, fmt.Errorf("saving snapshot %d/%s: %w", snap.AssetID, snap.Date.Format(domain.DateLayout), err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgSnapshotRepository) Series(ctx context.Context, assetID int64, from, to time.Time) ([]domain.PriceSnapshot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT date, price_eur, source FROM price_snapshots
		 WHERE asset_id = $1 AND date >= $2 AND date <= $3
		 ORDER BY date`,
		assetID, from, to)
	if err != nil {
		return nil, fmt.Errorf("reading series of asset %d: %w", assetID, err)
	}
	defer rows.Close()

	var snaps []domain.PriceSnapshot
	for rows.Next() {
		s := domain.PriceSnapshot{AssetID: assetID}
		var source string
		if err := rows.Scan(&s.Date, &s.PriceEUR, &source); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		s.Source = domain.PriceSource(source)
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
