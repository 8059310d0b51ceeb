package memstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/samber/lo"

	"github.com/mtlprog/fundo/internal/domain"
)

// RegistryRepo implements registry.Repository.
type RegistryRepo struct{ s *Store }

func (r *RegistryRepo) Asset(_ context.Context, id int64) (domain.Asset, error) {
	var a domain.Asset
	var ok bool
	r.s.read(func(st *state) { a, ok = st.assets[id] })
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *RegistryRepo) AssetBySymbol(_ context.Context, symbol string) (domain.Asset, error) {
	var a domain.Asset
	var ok bool
	r.s.read(func(st *state) {
		a, ok = lo.Find(lo.Values(st.assets), func(a domain.Asset) bool { return a.Symbol == symbol })
	})
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *RegistryRepo) ListAssets(_ context.Context) ([]domain.Asset, error) {
	var out []domain.Asset
	r.s.read(func(st *state) { out = lo.Values(st.assets) })
	slices.SortFunc(out, func(a, b domain.Asset) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *RegistryRepo) InsertAsset(_ context.Context, spec domain.AssetSpec) (int64, error) {
	var id int64
	err := r.s.mutate(func(st *state) error {
		if lo.ContainsBy(lo.Values(st.assets), func(a domain.Asset) bool { return a.Symbol == spec.Symbol }) {
			return domain.ErrConflict
		}
		id = r.s.seq.next("assets")
		st.assets[id] = domain.Asset{
			ID:              id,
			Symbol:          spec.Symbol,
			Name:            spec.Name,
			Chain:           spec.Chain,
			ExternalPriceID: spec.ExternalPriceID,
			IsStablecoin:    spec.IsStablecoin,
		}
		return nil
	})
	return id, err
}

func (r *RegistryRepo) SetExternalPriceID(_ context.Context, id int64, externalID string) error {
	return r.s.mutate(func(st *state) error {
		a, ok := st.assets[id]
		if !ok {
			return domain.ErrNotFound
		}
		if a.ExternalPriceID == "" {
			a.ExternalPriceID = externalID
			st.assets[id] = a
		}
		return nil
	})
}

func (r *RegistryRepo) AssetReferenced(_ context.Context, id int64) (bool, error) {
	var referenced bool
	r.s.read(func(st *state) {
		referenced = lo.ContainsBy(st.txs, func(t domain.Transaction) bool {
			return isID(t.FromAssetID, id) || isID(t.ToAssetID, id) || isID(t.FeeAssetID, id)
		}) || lo.ContainsBy(lo.Keys(st.snapshots), func(k snapKey) bool { return k.assetID == id })
	})
	return referenced, nil
}

func (r *RegistryRepo) UpdateAssetSymbol(_ context.Context, id int64, symbol string) error {
	return r.s.mutate(func(st *state) error {
		a, ok := st.assets[id]
		if !ok {
			return domain.ErrNotFound
		}
		if lo.ContainsBy(lo.Values(st.assets), func(o domain.Asset) bool { return o.Symbol == symbol && o.ID != id }) {
			return domain.ErrConflict
		}
		a.Symbol = symbol
		st.assets[id] = a
		return nil
	})
}

func (r *RegistryRepo) Account(_ context.Context, id int64) (domain.Account, error) {
	var a domain.Account
	var ok bool
	r.s.read(func(st *state) { a, ok = st.accounts[id] })
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *RegistryRepo) ListAccounts(_ context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	var out []domain.Account
	r.s.read(func(st *state) {
		out = lo.Filter(lo.Values(st.accounts), func(a domain.Account, _ int) bool { return filter.Match(a) })
	})
	slices.SortFunc(out, func(a, b domain.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *RegistryRepo) InsertAccount(_ context.Context, acc domain.Account) (int64, error) {
	var id int64
	err := r.s.mutate(func(st *state) error {
		id = r.s.seq.next("accounts")
		acc.ID = id
		st.accounts[id] = acc
		return nil
	})
	return id, err
}

func (r *RegistryRepo) Member(_ context.Context, id int64) (domain.Member, error) {
	var m domain.Member
	var ok bool
	r.s.read(func(st *state) { m, ok = st.members[id] })
	if !ok {
		return domain.Member{}, domain.ErrNotFound
	}
	return m, nil
}

func (r *RegistryRepo) ListMembers(_ context.Context) ([]domain.Member, error) {
	var out []domain.Member
	r.s.read(func(st *state) { out = lo.Values(st.members) })
	slices.SortFunc(out, func(a, b domain.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *RegistryRepo) InsertMember(_ context.Context, name string, isAdmin bool) (int64, error) {
	var id int64
	err := r.s.mutate(func(st *state) error {
		if lo.ContainsBy(lo.Values(st.members), func(m domain.Member) bool { return m.Name == name }) {
			return domain.ErrConflict
		}
		id = r.s.seq.next("members")
		st.members[id] = domain.Member{ID: id, Name: name, IsAdmin: isAdmin}
		return nil
	})
	return id, err
}

func (r *RegistryRepo) EnsureTag(_ context.Context, code, label string) (domain.Tag, error) {
	var tag domain.Tag
	err := r.s.mutate(func(st *state) error {
		tag = ensureTag(r.s.seq, st, code, label)
		return nil
	})
	return tag, err
}

func (r *RegistryRepo) ListTags(_ context.Context) ([]domain.Tag, error) {
	var out []domain.Tag
	r.s.read(func(st *state) { out = lo.Values(st.tags) })
	slices.SortFunc(out, func(a, b domain.Tag) int { return cmp.Compare(a.Code, b.Code) })
	return out, nil
}

func ensureTag(seq *sequences, st *state, code, label string) domain.Tag {
	if tag, ok := st.tags[code]; ok {
		return tag
	}
	tag := domain.Tag{ID: seq.next("tags"), Code: code, Label: label, Active: true}
	st.tags[code] = tag
	return tag
}

func isID(p *int64, id int64) bool {
	return p != nil && *p == id
}
