// Package memstore is an in-memory implementation of every repository, used
// by scenario tests and local runs without PostgreSQL.
//
// Transactional writes (ledger inserts, capital movements with their share
// records) work on a private copy of the state and publish their tables only
// when the callback succeeds. They are serialised, which stands in for the
// advisory locks of the Postgres store. Ids come from sequences that, as in
// Postgres, are not rolled back.
package memstore

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/report"
)

type snapKey struct {
	assetID int64
	date    time.Time
}

type state struct {
	assets    map[int64]domain.Asset
	accounts  map[int64]domain.Account
	members   map[int64]domain.Member
	tags      map[string]domain.Tag
	txs       []domain.Transaction
	snapshots map[snapKey]domain.PriceSnapshot
	movements []domain.CapitalMovement
	records   []domain.ShareRecord
	reports   map[time.Time]report.Report
}

func (s *state) clone() *state {
	return &state{
		assets:    maps.Clone(s.assets),
		accounts:  maps.Clone(s.accounts),
		members:   maps.Clone(s.members),
		tags:      maps.Clone(s.tags),
		txs:       slices.Clone(s.txs),
		snapshots: maps.Clone(s.snapshots),
		movements: slices.Clone(s.movements),
		records:   slices.Clone(s.records),
		reports:   maps.Clone(s.reports),
	}
}

type sequences struct {
	mu   sync.Mutex
	last map[string]int64
}

func (q *sequences) next(name string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.last[name]++
	return q.last[name]
}

// Store holds the whole fund state in memory.
type Store struct {
	// txMu serialises transactional writers; mu guards the committed state.
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
	seq  *sequences
}

// New returns a store seeded like a fresh database: EUR as asset 1 and the
// bank sentinel account.
func New() *Store {
	st := &state{
		assets:    map[int64]domain.Asset{domain.EURAssetID: domain.EURAsset()},
		accounts:  map[int64]domain.Account{domain.BankAccountID: {ID: domain.BankAccountID, Name: "Banco", Category: domain.CategoryFIAT}},
		members:   make(map[int64]domain.Member),
		tags:      make(map[string]domain.Tag),
		snapshots: make(map[snapKey]domain.PriceSnapshot),
		reports:   make(map[time.Time]report.Report),
	}
	seq := &sequences{last: map[string]int64{"assets": domain.EURAssetID}}
	return &Store{st: st, seq: seq}
}

// read runs fn against the committed state.
func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

// mutate applies a single-statement write to the committed state.
func (s *Store) mutate(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// inTx runs fn on a draft copy and, on success, publishes the tables a
// transaction may change: ledger rows, tags, capital movements and share records.
func (s *Store) inTx(fn func(draft *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	draft := s.st.clone()
	s.mu.RUnlock()

	if err := fn(draft); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.txs = draft.txs
	s.st.movements = draft.movements
	s.st.records = draft.records
	maps.Copy(s.st.tags, draft.tags)
	return nil
}

// Registry returns the asset, account, member and tag repository.
func (s *Store) Registry() *RegistryRepo { return &RegistryRepo{s: s} }

// Ledger returns the transaction store.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s: s} }

// Snapshots returns the price snapshot repository.
func (s *Store) Snapshots() *SnapshotRepo { return &SnapshotRepo{s: s} }

// Shares returns the capital movement and share ledger store.
func (s *Store) Shares() *SharesRepo { return &SharesRepo{s: s} }

// Reports returns the NAV report store.
func (s *Store) Reports() *ReportRepo { return &ReportRepo{s: s} }
