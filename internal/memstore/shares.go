package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/shares"
)

// SharesRepo implements shares.Store, nav.CashSource and nav.SharesSource.
type SharesRepo struct{ s *Store }

func (r *SharesRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, q shares.Queries) error) error {
	return r.s.inTx(func(draft *state) error {
		return fn(ctx, sharesQueries{seq: r.s.seq, st: draft})
	})
}

func (r *SharesRepo) committed(fn func(q sharesQueries)) {
	r.s.read(func(st *state) { fn(sharesQueries{st: st}) })
}

func (r *SharesRepo) MemberShares(ctx context.Context, memberID int64, asOf time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	r.committed(func(q sharesQueries) { sum, _ = q.MemberShares(ctx, memberID, asOf) })
	return sum, nil
}

func (r *SharesRepo) TotalShares(ctx context.Context, asOf time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	r.committed(func(q sharesQueries) { sum, _ = q.TotalShares(ctx, asOf) })
	return sum, nil
}

func (r *SharesRepo) CashFlows(ctx context.Context, asOf time.Time) (nav.Flows, error) {
	var f nav.Flows
	r.committed(func(q sharesQueries) { f, _ = q.CashFlows(ctx, asOf) })
	return f, nil
}

func (r *SharesRepo) SharesByMember(_ context.Context, asOf time.Time) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal)
	r.s.read(func(st *state) {
		for _, rec := range st.records {
			if !rec.Date.After(asOf) {
				out[rec.MemberID] = out[rec.MemberID].Add(rec.SharesDelta)
			}
		}
	})
	return out, nil
}

func (r *SharesRepo) Records(_ context.Context, memberID *int64) ([]domain.ShareRecord, error) {
	var out []domain.ShareRecord
	r.s.read(func(st *state) {
		out = lo.Filter(st.records, func(rec domain.ShareRecord, _ int) bool {
			return memberID == nil || rec.MemberID == *memberID
		})
	})
	slices.SortStableFunc(out, func(a, b domain.ShareRecord) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *SharesRepo) Movements(_ context.Context, memberID *int64) ([]domain.CapitalMovement, error) {
	var out []domain.CapitalMovement
	r.s.read(func(st *state) {
		out = lo.Filter(st.movements, func(m domain.CapitalMovement, _ int) bool {
			return memberID == nil || m.MemberID == *memberID
		})
	})
	slices.SortStableFunc(out, func(a, b domain.CapitalMovement) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

type sharesQueries struct {
	seq *sequences
	st  *state
}

func (q sharesQueries) LockShares(context.Context) error {
	return nil
}

func (q sharesQueries) Member(_ context.Context, id int64) (domain.Member, error) {
	m, ok := q.st.members[id]
	if !ok {
		return domain.Member{}, domain.ErrNotFound
	}
	return m, nil
}

func (q sharesQueries) InsertMovement(_ context.Context, m domain.CapitalMovement) (int64, error) {
	if _, ok := q.st.members[m.MemberID]; !ok {
		return 0, fmt.Errorf("inserting capital movement: member %d: %w", m.MemberID, domain.ErrNotFound)
	}
	m.ID = q.seq.next("capital_movements")
	m.Date = domain.Day(m.Date)
	q.st.movements = append(q.st.movements, m)
	return m.ID, nil
}

func (q sharesQueries) InsertShareRecord(_ context.Context, r domain.ShareRecord) (int64, error) {
	r.ID = q.seq.next("share_ledger")
	r.Date = domain.Day(r.Date)
	q.st.records = append(q.st.records, r)
	return r.ID, nil
}

func (q sharesQueries) LatestShareDate(context.Context) (time.Time, bool, error) {
	if len(q.st.records) == 0 {
		return time.Time{}, false, nil
	}
	latest := lo.MaxBy(q.st.records, func(a, b domain.ShareRecord) bool { return a.Date.After(b.Date) })
	return latest.Date, true, nil
}

func (q sharesQueries) MemberShares(_ context.Context, memberID int64, asOf time.Time) (decimal.Decimal, error) {
	return lo.Reduce(q.st.records, func(sum decimal.Decimal, r domain.ShareRecord, _ int) decimal.Decimal {
		if r.MemberID != memberID || r.Date.After(asOf) {
			return sum
		}
		return sum.Add(r.SharesDelta)
	}, decimal.Zero), nil
}

func (q sharesQueries) TotalShares(_ context.Context, asOf time.Time) (decimal.Decimal, error) {
	return lo.Reduce(q.st.records, func(sum decimal.Decimal, r domain.ShareRecord, _ int) decimal.Decimal {
		if r.Date.After(asOf) {
			return sum
		}
		return sum.Add(r.SharesDelta)
	}, decimal.Zero), nil
}

// CashFlows mirrors the Postgres query: capital of non-admin members plus
// every buy and sell, whoever executed it.
func (q sharesQueries) CashFlows(_ context.Context, asOf time.Time) (nav.Flows, error) {
	var f nav.Flows
	for _, m := range q.st.movements {
		if m.Date.After(asOf) || q.st.members[m.MemberID].IsAdmin {
			continue
		}
		f.Credits = f.Credits.Add(m.CreditEUR)
		f.Debits = f.Debits.Add(m.DebitEUR)
	}
	for _, t := range q.st.txs {
		if t.Date.After(asOf) {
			continue
		}
		switch t.Type {
		case domain.TxBuy:
			f.BuyCost = f.BuyCost.Add(lo.FromPtr(t.FromQty))
		case domain.TxSell:
			f.SellProceeds = f.SellProceeds.Add(lo.FromPtr(t.ToQty))
		}
	}
	return f, nil
}
