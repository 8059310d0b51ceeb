package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/ledger"
)

// LedgerRepo implements ledger.Store.
type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, q ledger.Queries) error) error {
	return r.s.inTx(func(draft *state) error {
		return fn(ctx, ledgerQueries{seq: r.s.seq, st: draft})
	})
}

func (r *LedgerRepo) History(ctx context.Context, key domain.BalanceKey) ([]domain.Transaction, error) {
	var out []domain.Transaction
	r.s.read(func(st *state) { out, _ = ledgerQueries{st: st}.History(ctx, key) })
	return out, nil
}

func (r *LedgerRepo) Get(ctx context.Context, id int64) (domain.Transaction, error) {
	var t domain.Transaction
	var err error
	r.s.read(func(st *state) { t, err = ledgerQueries{st: st}.Get(ctx, id) })
	return t, err
}

func (r *LedgerRepo) List(_ context.Context, filter ledger.ListFilter) ([]domain.Transaction, error) {
	var out []domain.Transaction
	r.s.read(func(st *state) {
		for _, t := range st.txs {
			if matchList(st, t, filter) {
				out = append(out, t)
			}
		}
	})
	slices.SortStableFunc(out, byDateID)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchList(st *state, t domain.Transaction, f ledger.ListFilter) bool {
	if !f.From.IsZero() && t.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.Date.After(f.To) {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	accounts := lo.FilterMap([]*int64{t.AccountID, t.FromAccountID, t.ToAccountID}, func(p *int64, _ int) (int64, bool) {
		if p == nil {
			return 0, false
		}
		return *p, true
	})
	if len(f.AccountIDs) > 0 && !lo.Some(accounts, f.AccountIDs) {
		return false
	}
	if len(f.Categories) > 0 && !lo.ContainsBy(accounts, func(id int64) bool {
		acc, ok := st.accounts[id]
		return ok && lo.Contains(f.Categories, acc.Category)
	}) {
		return false
	}
	if len(f.TagCodes) > 0 && !lo.Some(t.Tags, f.TagCodes) {
		return false
	}
	if f.AssetID != nil && !isID(t.FromAssetID, *f.AssetID) && !isID(t.ToAssetID, *f.AssetID) && !isID(t.FeeAssetID, *f.AssetID) {
		return false
	}
	return true
}

func byDateID(a, b domain.Transaction) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

type ledgerQueries struct {
	seq *sequences
	st  *state
}

func (q ledgerQueries) LockPositions(context.Context, []domain.BalanceKey) error {
	return nil
}

func (q ledgerQueries) History(_ context.Context, key domain.BalanceKey) ([]domain.Transaction, error) {
	out := lo.Filter(q.st.txs, func(t domain.Transaction, _ int) bool { return t.Touches(key) })
	slices.SortStableFunc(out, byDateID)
	return out, nil
}

func (q ledgerQueries) Insert(_ context.Context, t domain.Transaction) (int64, error) {
	if t.CompensatesID != nil && !lo.ContainsBy(q.st.txs, func(o domain.Transaction) bool { return o.ID == *t.CompensatesID }) {
		return 0, fmt.Errorf("compensated transaction %d: %w", *t.CompensatesID, domain.ErrNotFound)
	}
	t.ID = q.seq.next("transactions")
	t.Date = domain.Day(t.Date)
	t.Tags = nil
	q.st.txs = append(q.st.txs, t)
	return t.ID, nil
}

func (q ledgerQueries) AttachTags(_ context.Context, txID int64, codes []string) error {
	i := slices.IndexFunc(q.st.txs, func(t domain.Transaction) bool { return t.ID == txID })
	if i < 0 {
		return fmt.Errorf("tagging transaction %d: %w", txID, domain.ErrNotFound)
	}
	for _, code := range codes {
		ensureTag(q.seq, q.st, code, code)
	}
	tags := lo.Uniq(append(slices.Clone(q.st.txs[i].Tags), codes...))
	slices.Sort(tags)
	q.st.txs[i].Tags = tags
	return nil
}

func (q ledgerQueries) Get(_ context.Context, id int64) (domain.Transaction, error) {
	t, ok := lo.Find(q.st.txs, func(t domain.Transaction) bool { return t.ID == id })
	if !ok {
		return domain.Transaction{}, fmt.Errorf("getting transaction %d: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (q ledgerQueries) CompensatedBy(_ context.Context, id int64) ([]int64, error) {
	return lo.FilterMap(q.st.txs, func(t domain.Transaction, _ int) (int64, bool) {
		return t.ID, isID(t.CompensatesID, id)
	}), nil
}
