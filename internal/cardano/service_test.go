package cardano

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/price"
)

const (
	me    = "addr1me"
	other = "addr1other"
)

type mockExplorer struct {
	// pages per address, newest transaction first
	pages     map[string][][]APITx
	txErr     map[string]error
	assets    map[string]APIAsset
	assetErr  error
	requested []int
}

func (m *mockExplorer) Transactions(_ context.Context, address string, page, _ int) ([]APITx, error) {
	if err := m.txErr[address]; err != nil {
		return nil, err
	}
	m.requested = append(m.requested, page)
	pages := m.pages[address]
	if page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

func (m *mockExplorer) Asset(_ context.Context, policyID, assetName string) (APIAsset, error) {
	if m.assetErr != nil {
		return APIAsset{}, m.assetErr
	}
	a, ok := m.assets[policyID+assetName]
	if !ok {
		return APIAsset{}, errors.New("HTTP 404")
	}
	return a, nil
}

type mockRepo struct {
	wallets []Wallet
	states  map[int64]SyncState
	tokens  map[string]Token
	txs     map[string]Tx
	ios     map[string][]IO
	order   []string
	// saveErr fails the next SaveTx of a hash once
	saveErr map[string]error
}

func newMockRepo(wallets ...Wallet) *mockRepo {
	return &mockRepo{
		wallets: wallets,
		states:  make(map[int64]SyncState),
		tokens:  make(map[string]Token),
		txs:     make(map[string]Tx),
		ios:     make(map[string][]IO),
	}
}

func (m *mockRepo) Wallets(context.Context) ([]Wallet, error) { return m.wallets, nil }

func (m *mockRepo) AddWallet(_ context.Context, address, label string) (int64, error) {
	id := int64(len(m.wallets) + 1)
	m.wallets = append(m.wallets, Wallet{ID: id, Address: address, Label: label})
	return id, nil
}

func (m *mockRepo) SyncState(_ context.Context, walletID int64) (SyncState, bool, error) {
	st, ok := m.states[walletID]
	return st, ok, nil
}

func (m *mockRepo) SaveSyncState(_ context.Context, st SyncState) error {
	m.states[st.WalletID] = st
	return nil
}

func (m *mockRepo) Token(_ context.Context, policyID, assetName string) (Token, bool, error) {
	t, ok := m.tokens[tokenKey(policyID, assetName)]
	return t, ok, nil
}

func (m *mockRepo) UpsertToken(_ context.Context, t Token) error {
	m.tokens[tokenKey(t.PolicyID, t.AssetName)] = t
	return nil
}

func (m *mockRepo) SaveTx(_ context.Context, tx Tx, ios []IO) error {
	if err := m.saveErr[tx.Hash]; err != nil {
		delete(m.saveErr, tx.Hash)
		return err
	}
	key := fmt.Sprintf("%s/%d", tx.Hash, tx.WalletID)
	m.txs[key] = tx
	m.ios[key] = ios
	m.order = append(m.order, tx.Hash)
	return nil
}

type mockAssets struct {
	bySymbol map[string]domain.Asset
	ensured  []domain.AssetSpec
}

func (m *mockAssets) EnsureAsset(_ context.Context, spec domain.AssetSpec) (int64, error) {
	m.ensured = append(m.ensured, spec)
	if a, ok := m.bySymbol[spec.Symbol]; ok {
		return a.ID, nil
	}
	a := domain.Asset{ID: int64(len(m.bySymbol) + 10), Symbol: spec.Symbol, ExternalPriceID: spec.ExternalPriceID}
	m.bySymbol[spec.Symbol] = a
	return a.ID, nil
}

func (m *mockAssets) AssetBySymbol(_ context.Context, symbol string) (domain.Asset, error) {
	a, ok := m.bySymbol[symbol]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return a, nil
}

type mockFiller struct {
	reqs []price.BackfillRequest
}

func (m *mockFiller) Start(req price.BackfillRequest) (uuid.UUID, error) {
	m.reqs = append(m.reqs, req)
	return uuid.New(), nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(explorer *mockExplorer, repo *mockRepo, assets *mockAssets, filler SnapshotFiller) *Service {
	svc := NewService(explorer, repo, assets, filler)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func apiTx(hash string, height int64, day int) APITx {
	return APITx{
		Hash:        hash,
		BlockHeight: height,
		Timestamp:   time.Date(2025, 1, day, 10, 0, 0, 0, time.UTC).Format(time.RFC3339),
		Fees:        "170000",
		Status:      true,
		Inputs:      []APIIO{{Address: other, Value: "10000000"}},
		Outputs:     []APIIO{{Address: me, Value: "2000000"}},
	}
}

func TestSyncProjectsOwnIOs(t *testing.T) {
	tx := APITx{
		Hash:        "h1",
		BlockHeight: 100,
		Timestamp:   "2025-01-02T10:00:00Z",
		Fees:        "170000",
		Status:      true,
		Inputs:      []APIIO{{Address: me, Value: "5000000"}},
		Outputs: []APIIO{
			{Address: other, Value: "2000000"},
			{Address: me, Value: "2830000", Tokens: []APIToken{{PolicyID: "pol", AssetName: "4d494e", Value: "7000000"}}},
		},
	}
	explorer := &mockExplorer{
		pages:  map[string][][]APITx{me: {{tx}}},
		assets: map[string]APIAsset{},
	}
	explorer.assets["pol4d494e"] = APIAsset{PolicyID: "pol", AssetName: "4d494e"}
	a := explorer.assets["pol4d494e"]
	a.Metadata.Ticker = "MIN"
	a.Metadata.Decimals = 6
	explorer.assets["pol4d494e"] = a

	repo := newMockRepo(Wallet{ID: 1, Address: me})
	svc := newTestService(explorer, repo, &mockAssets{bySymbol: map[string]domain.Asset{}}, nil)

	result, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transactions)
	assert.Equal(t, 3, result.IOs)
	assert.Equal(t, []string{"ADA", "MIN"}, result.Symbols)

	saved := repo.txs["h1/1"]
	assert.True(t, saved.FeesADA.Equal(decimal.RequireFromString("0.17")))
	assert.Equal(t, "success", saved.Status)
	assert.Equal(t, time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), saved.Timestamp)

	ios := repo.ios["h1/1"]
	require.Len(t, ios, 3)
	assert.Equal(t, IOInput, ios[0].Type)
	assert.True(t, ios[0].FormattedAmount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, IOOutput, ios[1].Type)
	assert.Equal(t, 1, ios[1].Index)
	assert.True(t, ios[1].FormattedAmount.Equal(decimal.RequireFromString("2.83")))
	assert.Equal(t, "pol", ios[2].PolicyID)
	assert.Nil(t, ios[2].Lovelace)
	assert.True(t, ios[2].FormattedAmount.Equal(decimal.NewFromInt(7)))

	assert.Equal(t, Token{PolicyID: "pol", AssetName: "4d494e", DisplayName: "MIN", Decimals: 6}, repo.tokens["pol.4d494e"])
	assert.Equal(t, int64(100), repo.states[1].LastBlockHeight)
}

func TestSyncStopsAtLastSyncedBlock(t *testing.T) {
	explorer := &mockExplorer{pages: map[string][][]APITx{
		me: {{apiTx("h4", 104, 4), apiTx("h3", 103, 3), apiTx("h2", 102, 2), apiTx("h1", 101, 1)}},
	}}
	repo := newMockRepo(Wallet{ID: 1, Address: me})
	repo.states[1] = SyncState{WalletID: 1, LastBlockHeight: 102}
	svc := newTestService(explorer, repo, &mockAssets{bySymbol: map[string]domain.Asset{}}, nil)

	result, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Transactions)
	assert.Equal(t, []string{"h3", "h4"}, repo.order, "oldest first")
	assert.Equal(t, int64(104), repo.states[1].LastBlockHeight)
	assert.Equal(t, fixedNow, repo.states[1].LastSyncedAt)
}

func TestSyncIsIdempotent(t *testing.T) {
	explorer := &mockExplorer{pages: map[string][][]APITx{
		me: {{apiTx("h2", 102, 2), apiTx("h1", 101, 1)}},
	}}
	repo := newMockRepo(Wallet{ID: 1, Address: me})
	svc := newTestService(explorer, repo, &mockAssets{bySymbol: map[string]domain.Asset{}}, nil)

	first, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Transactions)

	second, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Transactions)
	assert.Len(t, repo.txs, 2)
	assert.Equal(t, int64(102), repo.states[1].LastBlockHeight)
}

func TestSyncResumesPartiallySavedBlock(t *testing.T) {
	explorer := &mockExplorer{pages: map[string][][]APITx{
		me: {{apiTx("t2", 100, 3), apiTx("t1", 100, 3), apiTx("t0", 99, 2)}},
	}}
	repo := newMockRepo(Wallet{ID: 1, Address: me})
	repo.saveErr = map[string]error{"t2": errors.New("connection reset")}
	svc := newTestService(explorer, repo, &mockAssets{bySymbol: map[string]domain.Asset{}}, nil)

	first, err := svc.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Errors, 1)
	assert.Equal(t, int64(99), repo.states[1].LastBlockHeight, "block 100 is incomplete")

	second, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Errors)
	assert.Equal(t, 2, second.Transactions)
	assert.Contains(t, repo.txs, "t2/1")
	assert.Contains(t, repo.txs, "t1/1")
	assert.Equal(t, int64(100), repo.states[1].LastBlockHeight)
}

func TestSyncPagesUntilShortPage(t *testing.T) {
	full := make([]APITx, pageSize)
	for i := range full {
		full[i] = apiTx(fmt.Sprintf("n%d", i), int64(1000-i), 5)
	}
	explorer := &mockExplorer{pages: map[string][][]APITx{
		me: {full, {apiTx("old", 1, 1)}},
	}}
	repo := newMockRepo(Wallet{ID: 1, Address: me})
	svc := newTestService(explorer, repo, &mockAssets{bySymbol: map[string]domain.Asset{}}, nil)

	result, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pageSize+1, result.Transactions)
	assert.Equal(t, []int{1, 2}, explorer.requested)
	assert.Equal(t, "old", repo.order[0])
}

func TestSyncWalletFailureDoesNotStopOthers(t *testing.T) {
	explorer := &mockExplorer{
		pages: map[string][][]APITx{me: {{apiTx("h1", 101, 1)}}},
		txErr: map[string]error{other: errors.New("HTTP 500")},
	}
	repo := newMockRepo(Wallet{ID: 1, Address: other}, Wallet{ID: 2, Address: me})
	svc := newTestService(explorer, repo, &mockAssets{bySymbol: map[string]domain.Asset{}}, nil)

	result, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Wallets)
	assert.Equal(t, 1, result.Transactions)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, int64(1), result.Errors[0].WalletID)
	assert.Contains(t, result.Errors[0].Error, "HTTP 500")
}

func TestSyncTokenWithoutMetadata(t *testing.T) {
	tx := apiTx("h1", 101, 1)
	tx.Outputs[0].Tokens = []APIToken{{PolicyID: "pol", AssetName: "4d494e", Value: "42"}}
	explorer := &mockExplorer{
		pages:    map[string][][]APITx{me: {{tx}}},
		assetErr: errors.New("HTTP 404"),
	}
	repo := newMockRepo(Wallet{ID: 1, Address: me})
	svc := newTestService(explorer, repo, &mockAssets{bySymbol: map[string]domain.Asset{}}, nil)

	result, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.Symbols, "MIN")

	ios := repo.ios["h1/1"]
	require.Len(t, ios, 2)
	assert.True(t, ios[1].FormattedAmount.Equal(decimal.NewFromInt(42)))
	assert.Empty(t, repo.tokens, "fallback names are not stored")
}

func TestSyncStartsPriceFill(t *testing.T) {
	explorer := &mockExplorer{pages: map[string][][]APITx{
		me: {{apiTx("h2", 102, 9), apiTx("h1", 101, 3)}},
	}}
	repo := newMockRepo(Wallet{ID: 1, Address: me})
	assets := &mockAssets{bySymbol: map[string]domain.Asset{}}
	filler := &mockFiller{}
	svc := newTestService(explorer, repo, assets, filler)

	result, err := svc.Sync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.FillJob)

	require.Len(t, assets.ensured, 1)
	assert.Equal(t, ADASpec, assets.ensured[0])

	require.Len(t, filler.reqs, 1)
	req := filler.reqs[0]
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), req.Start)
	assert.Equal(t, domain.Day(fixedNow), req.End)
	require.Len(t, req.Assets, 1)
	assert.Equal(t, "ADA", req.Assets[0].Symbol)
}

func TestSyncNothingNewStartsNoFill(t *testing.T) {
	repo := newMockRepo(Wallet{ID: 1, Address: me})
	filler := &mockFiller{}
	svc := newTestService(&mockExplorer{}, repo, &mockAssets{bySymbol: map[string]domain.Asset{}}, filler)

	result, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result.FillJob)
	assert.Empty(t, filler.reqs)
	assert.Empty(t, result.Symbols)
}

func TestAddWalletValidatesAddress(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(&mockExplorer{}, repo, &mockAssets{}, nil)

	_, err := svc.AddWallet(context.Background(), "0xabc", "")
	assert.Error(t, err)

	id, err := svc.AddWallet(context.Background(), "  addr1qxyz ", "cold")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "addr1qxyz", repo.wallets[0].Address)
}

func TestDecodeAssetName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"4d494e", "MIN"},
		{"", ""},
		{"zz", "zz"},
		{"0001", "0001"},
	}
	for _, tt := range tests {
		if got := decodeAssetName(tt.in); got != tt.want {
			t.Errorf("decodeAssetName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
