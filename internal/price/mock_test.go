package price

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
)

type snapKey struct {
	asset int64
	date  time.Time
}

type mockRepo struct {
	mu      sync.Mutex
	snaps   map[snapKey]domain.PriceSnapshot
	gets    int
	getErr  error
	saveErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{snaps: make(map[snapKey]domain.PriceSnapshot)}
}

func (m *mockRepo) put(assetID int64, date string, price string, source domain.PriceSource) {
	d, _ := domain.ParseDate(date)
	m.snaps[snapKey{assetID, d}] = domain.PriceSnapshot{AssetID: assetID, Date: d, PriceEUR: decimal.RequireFromString(price), Source: source}
}

func (m *mockRepo) snapshot(assetID int64, date string) (domain.PriceSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, _ := domain.ParseDate(date)
	s, ok := m.snaps[snapKey{assetID, d}]
	return s, ok
}

func (m *mockRepo) Get(_ context.Context, assetID int64, date time.Time) (domain.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return domain.PriceSnapshot{}, m.getErr
	}
	s, ok := m.snaps[snapKey{assetID, domain.Day(date)}]
	if !ok {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *mockRepo) Exists(_ context.Context, assetID int64, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snaps[snapKey{assetID, domain.Day(date)}]
	return ok, nil
}

func (m *mockRepo) Upsert(_ context.Context, snap domain.PriceSnapshot, policy domain.ConflictPolicy) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return false, m.saveErr
	}
	k := snapKey{snap.AssetID, domain.Day(snap.Date)}
	if _, ok := m.snaps[k]; ok && policy == domain.KeepExisting {
		return false, nil
	}
	snap.Date = k.date
	m.snaps[k] = snap
	return true, nil
}

func (m *mockRepo) Series(_ context.Context, assetID int64, from, to time.Time) ([]domain.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceSnapshot
	for k, s := range m.snaps {
		if k.asset != assetID || k.date.Before(from) || k.date.After(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

type mockFetcher struct {
	mu         sync.Mutex
	current    map[string]decimal.Decimal
	history    map[string]decimal.Decimal // key: id|yyyy-mm-dd
	err        error
	calls      int
	onCall     func()
	currentIDs [][]string
}

func (f *mockFetcher) CurrentPrices(_ context.Context, ids []string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.currentIDs = append(f.currentIDs, ids)
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]decimal.Decimal)
	for _, id := range ids {
		if p, ok := f.current[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *mockFetcher) HistoricalPrice(_ context.Context, id string, date time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return decimal.Zero, f.err
	}
	p, ok := f.history[id+"|"+date.Format(domain.DateLayout)]
	if !ok {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return p, nil
}

func (f *mockFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func btc() domain.Asset {
	return domain.Asset{ID: 2, Symbol: "BTC", ExternalPriceID: "bitcoin"}
}

func eth() domain.Asset {
	return domain.Asset{ID: 3, Symbol: "ETH", ExternalPriceID: "ethereum"}
}

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
