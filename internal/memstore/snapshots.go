package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/fundo/internal/domain"
)

// SnapshotRepo implements price.SnapshotRepository.
type SnapshotRepo struct{ s *Store }

func (r *SnapshotRepo) Get(_ context.Context, assetID int64, date time.Time) (domain.PriceSnapshot, error) {
	var snap domain.PriceSnapshot
	var ok bool
	r.s.read(func(st *state) { snap, ok = st.snapshots[snapKey{assetID, domain.Day(date)}] })
	if !ok {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (r *SnapshotRepo) Exists(ctx context.Context, assetID int64, date time.Time) (bool, error) {
	_, err := r.Get(ctx, assetID, date)
	return err == nil, nil
}

func (r *SnapshotRepo) Upsert(_ context.Context, snap domain.PriceSnapshot, policy domain.ConflictPolicy) (bool, error) {
	var written bool
	err := r.s.mutate(func(st *state) error {
		snap.Date = domain.Day(snap.Date)
		key := snapKey{snap.AssetID, snap.Date}
		if _, exists := st.snapshots[key]; exists && policy == domain.KeepExisting {
			return nil
		}
		st.snapshots[key] = snap
		written = true
		return nil
	})
	return written, err
}

func (r *SnapshotRepo) Series(_ context.Context, assetID int64, from, to time.Time) ([]domain.PriceSnapshot, error) {
	var out []domain.PriceSnapshot
	r.s.read(func(st *state) {
		out = lo.Filter(lo.Values(st.snapshots), func(s domain.PriceSnapshot, _ int) bool {
			return s.AssetID == assetID && !s.Date.Before(from) && !s.Date.After(to)
		})
	})
	slices.SortFunc(out, func(a, b domain.PriceSnapshot) int { return a.Date.Compare(b.Date) })
	return out, nil
}
