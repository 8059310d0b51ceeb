package cardano

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/price"
)

const (
	pageSize = 50
	maxPages = 200
	// lovelaceDecimals converts lovelace to ADA.
	lovelaceDecimals = 6
	adaSymbol        = "ADA"
)

// ADASpec is the registry entry every sync makes sure exists.
var ADASpec = domain.AssetSpec{Symbol: adaSymbol, Name: "Cardano", Chain: "cardano", ExternalPriceID: "cardano"}

// Explorer reads the Cardano chain.
type Explorer interface {
	Transactions(ctx context.Context, address string, page, limit int) ([]APITx, error)
	Asset(ctx context.Context, policyID, assetName string) (APIAsset, error)
}

// Repository persists the Cardano read model.
type Repository interface {
	Wallets(ctx context.Context) ([]Wallet, error)
	AddWallet(ctx context.Context, address, label string) (int64, error)
	// SyncState reports false when the wallet was never synced.
	SyncState(ctx context.Context, walletID int64) (SyncState, bool, error)
	SaveSyncState(ctx context.Context, st SyncState) error
	// Token reports false when no metadata is stored.
	Token(ctx context.Context, policyID, assetName string) (Token, bool, error)
	UpsertToken(ctx context.Context, t Token) error
	// SaveTx replaces the transaction and its IO rows for the wallet.
	SaveTx(ctx context.Context, tx Tx, ios []IO) error
}

// AssetRegistry resolves the fund assets seen on chain.
type AssetRegistry interface {
	EnsureAsset(ctx context.Context, spec domain.AssetSpec) (int64, error)
	AssetBySymbol(ctx context.Context, symbol string) (domain.Asset, error)
}

// SnapshotFiller starts a background price fill.
type SnapshotFiller interface {
	Start(req price.BackfillRequest) (uuid.UUID, error)
}

// WalletError is a sync failure of one wallet; other wallets still sync.
type WalletError struct {
	WalletID int64  `json:"walletId"`
	Address  string `json:"address"`
	Error    string `json:"error"`
}

// SyncResult summarises a sync over every tracked wallet.
type SyncResult struct {
	Wallets      int           `json:"wallets"`
	Transactions int           `json:"transactions"`
	IOs          int           `json:"ios"`
	Symbols      []string      `json:"symbols"`
	FillJob      *uuid.UUID    `json:"fillJob,omitempty"`
	Errors       []WalletError `json:"errors,omitempty"`
}

// Service syncs tracked wallets.
type Service struct {
	explorer Explorer
	repo     Repository
	assets   AssetRegistry
	filler   SnapshotFiller
	now      func() time.Time
}

// NewService creates a Cardano sync Service. filler may be nil, in which
// case no price fill is started after a sync.
func NewService(explorer Explorer, repo Repository, assets AssetRegistry, filler SnapshotFiller) *Service {
	if explorer == nil {
		panic("cardano.NewService: explorer is nil")
	}
	if repo == nil {
		panic("cardano.NewService: repo is nil")
	}
	if assets == nil {
		panic("cardano.NewService: assets is nil")
	}
	return &Service{explorer: explorer, repo: repo, assets: assets, filler: filler, now: time.Now}
}

// AddWallet starts tracking an address.
func (s *Service) AddWallet(ctx context.Context, address, label string) (int64, error) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "addr") {
		return 0, fmt.Errorf("not a Cardano address: %q", address)
	}
	return s.repo.AddWallet(ctx, address, label)
}

// Wallets lists the tracked wallets.
func (s *Service) Wallets(ctx context.Context) ([]Wallet, error) {
	return s.repo.Wallets(ctx)
}

type walletSync struct {
	txs      int
	ios      int
	symbols  map[string]bool
	earliest time.Time
}

// Sync pulls new transactions of every tracked wallet. A failing wallet is
// reported in the result and does not stop the others. Afterwards a price
// fill is started for the priceable symbols seen.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	wallets, err := s.repo.Wallets(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("listing wallets: %w", err)
	}

	result := SyncResult{Wallets: len(wallets), Symbols: []string{}}
	symbols := make(map[string]bool)
	var earliest time.Time
	tokens := make(map[string]Token)
	for _, w := range wallets {
		ws, err := s.syncWallet(ctx, w, tokens)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			slog.Error("Cardano: wallet sync failed", "wallet", w.ID, "error", err)
			result.Errors = append(result.Errors, WalletError{WalletID: w.ID, Address: w.Address, Error: err.Error()})
			continue
		}
		result.Transactions += ws.txs
		result.IOs += ws.ios
		for sym := range ws.symbols {
			symbols[sym] = true
		}
		if !ws.earliest.IsZero() && (earliest.IsZero() || ws.earliest.Before(earliest)) {
			earliest = ws.earliest
		}
	}
	result.Symbols = lo.Keys(symbols)
	slices.Sort(result.Symbols)

	if len(result.Symbols) > 0 {
		id, err := s.fillPrices(ctx, result.Symbols, earliest)
		if err != nil {
			slog.Warn("Cardano: price fill not started", "error", err)
		}
		result.FillJob = id
	}

	slog.Info("Cardano: sync done", "wallets", result.Wallets, "transactions", result.Transactions,
		"ios", result.IOs, "failed", len(result.Errors))
	return result, nil
}

func (s *Service) syncWallet(ctx context.Context, w Wallet, tokens map[string]Token) (walletSync, error) {
	ws := walletSync{symbols: make(map[string]bool)}
	state, known, err := s.repo.SyncState(ctx, w.ID)
	if err != nil {
		return ws, fmt.Errorf("reading sync state: %w", err)
	}

	var fresh []APITx
	for page := 1; page <= maxPages; page++ {
		txs, err := s.explorer.Transactions(ctx, w.Address, page, pageSize)
		if err != nil {
			return ws, err
		}
		done := len(txs) < pageSize
		for _, tx := range txs {
			if known && tx.BlockHeight <= state.LastBlockHeight {
				done = true
				break
			}
			fresh = append(fresh, tx)
		}
		if done {
			break
		}
	}

	next := SyncState{WalletID: w.ID, LastBlockHeight: state.LastBlockHeight, LastTxTimestamp: state.LastTxTimestamp}
	// Oldest first. The synced height only advances once every transaction
	// of a block is saved, so an interrupted sync re-reads a partial block.
	ordered := lo.Reverse(fresh)
	for i, apiTx := range ordered {
		tx, ios, err := s.project(ctx, w, apiTx, tokens)
		if err != nil {
			return ws, fmt.Errorf("projecting %s: %w", apiTx.Hash, err)
		}
		if err := s.repo.SaveTx(ctx, tx, ios); err != nil {
			return ws, fmt.Errorf("saving %s: %w", apiTx.Hash, err)
		}

		ws.txs++
		ws.ios += len(ios)
		for _, row := range ios {
			ws.symbols[s.symbolOf(row, tokens)] = true
		}
		if ws.earliest.IsZero() || tx.Timestamp.Before(ws.earliest) {
			ws.earliest = tx.Timestamp
		}
		if i+1 < len(ordered) && ordered[i+1].BlockHeight == apiTx.BlockHeight {
			continue
		}
		if tx.BlockHeight > next.LastBlockHeight {
			next.LastBlockHeight = tx.BlockHeight
			next.LastTxTimestamp = &tx.Timestamp
		}
		next.LastSyncedAt = s.now().UTC()
		if err := s.repo.SaveSyncState(ctx, next); err != nil {
			return ws, fmt.Errorf("saving sync state: %w", err)
		}
	}

	next.LastSyncedAt = s.now().UTC()
	if err := s.repo.SaveSyncState(ctx, next); err != nil {
		return ws, fmt.Errorf("saving sync state: %w", err)
	}
	delete(ws.symbols, "")
	return ws, nil
}

// project keeps the IOs of tx whose address is the wallet's own.
func (s *Service) project(ctx context.Context, w Wallet, apiTx APITx, tokens map[string]Token) (Tx, []IO, error) {
	ts, err := time.Parse(time.RFC3339, apiTx.Timestamp)
	if err != nil {
		return Tx{}, nil, fmt.Errorf("parsing timestamp %q: %w", apiTx.Timestamp, err)
	}
	fees, err := parseAmount(apiTx.Fees)
	if err != nil {
		return Tx{}, nil, fmt.Errorf("parsing fees: %w", err)
	}
	raw, err := json.Marshal(apiTx)
	if err != nil {
		return Tx{}, nil, fmt.Errorf("marshaling raw transaction: %w", err)
	}

	tx := Tx{
		Hash:        apiTx.Hash,
		WalletID:    w.ID,
		Address:     w.Address,
		BlockHeight: apiTx.BlockHeight,
		Timestamp:   ts.UTC(),
		Status:      lo.Ternary(apiTx.Status, "success", "failed"),
		FeesADA:     fees.Shift(-lovelaceDecimals),
		Raw:         raw,
	}

	var ios []IO
	for _, side := range []struct {
		kind IOType
		list []APIIO
	}{{IOInput, apiTx.Inputs}, {IOOutput, apiTx.Outputs}} {
		for i, apiIO := range side.list {
			if apiIO.Address != w.Address {
				continue
			}
			base := IO{TxHash: tx.Hash, WalletID: w.ID, Type: side.kind, Index: i, Address: apiIO.Address}

			lovelace, err := parseAmount(apiIO.Value)
			if err != nil {
				return Tx{}, nil, fmt.Errorf("parsing %s %d value: %w", side.kind, i, err)
			}
			row := base
			row.Lovelace = &lovelace
			row.FormattedAmount = domain.Ptr(lovelace.Shift(-lovelaceDecimals))
			ios = append(ios, row)

			for _, apiToken := range apiIO.Tokens {
				rawValue, err := parseAmount(apiToken.Value)
				if err != nil {
					return Tx{}, nil, fmt.Errorf("parsing token %s value: %w", apiToken.AssetName, err)
				}
				token, err := s.token(ctx, apiToken.PolicyID, apiToken.AssetName, tokens)
				if err != nil {
					return Tx{}, nil, err
				}
				row := base
				row.PolicyID = apiToken.PolicyID
				row.AssetName = apiToken.AssetName
				row.RawValue = &rawValue
				row.FormattedAmount = domain.Ptr(rawValue.Shift(-token.Decimals))
				ios = append(ios, row)
			}
		}
	}
	return tx, ios, nil
}

func tokenKey(policyID, assetName string) string {
	return policyID + "." + assetName
}

// token returns stored metadata, fetching and storing it on first sight.
// Without metadata a token is shown under its decoded name with no decimals.
func (s *Service) token(ctx context.Context, policyID, assetName string, cache map[string]Token) (Token, error) {
	key := tokenKey(policyID, assetName)
	if t, ok := cache[key]; ok {
		return t, nil
	}
	t, ok, err := s.repo.Token(ctx, policyID, assetName)
	if err != nil {
		return Token{}, fmt.Errorf("reading token %s: %w", key, err)
	}
	if !ok {
		t = Token{PolicyID: policyID, AssetName: assetName, DisplayName: decodeAssetName(assetName)}
		meta, err := s.explorer.Asset(ctx, policyID, assetName)
		if err != nil {
			slog.Warn("Cardano: token metadata unavailable", "token", key, "error", err)
			cache[key] = t
			return t, nil
		}
		if name := lo.CoalesceOrEmpty(meta.Metadata.Ticker, meta.Metadata.Name); name != "" {
			t.DisplayName = name
		}
		t.Decimals = meta.Metadata.Decimals
		if err := s.repo.UpsertToken(ctx, t); err != nil {
			return Token{}, fmt.Errorf("saving token %s: %w", key, err)
		}
	}
	cache[key] = t
	return t, nil
}

func (s *Service) symbolOf(io IO, tokens map[string]Token) string {
	if io.Lovelace != nil {
		return adaSymbol
	}
	return domain.NormalizeSymbol(tokens[tokenKey(io.PolicyID, io.AssetName)].DisplayName)
}

// fillPrices makes sure ADA is registered and starts a fill from the
// earliest synced day for the registered, priceable symbols.
func (s *Service) fillPrices(ctx context.Context, symbols []string, from time.Time) (*uuid.UUID, error) {
	if lo.Contains(symbols, adaSymbol) {
		if _, err := s.assets.EnsureAsset(ctx, ADASpec); err != nil {
			return nil, fmt.Errorf("ensuring ADA: %w", err)
		}
	}
	if s.filler == nil || from.IsZero() {
		return nil, nil
	}

	var assets []domain.Asset
	for _, sym := range symbols {
		a, err := s.assets.AssetBySymbol(ctx, sym)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("looking up %s: %w", sym, err)
		}
		if a.Priceable() {
			assets = append(assets, a)
		}
	}
	if len(assets) == 0 {
		return nil, nil
	}

	id, err := s.filler.Start(price.BackfillRequest{Start: domain.Day(from), End: domain.Day(s.now()), Assets: assets})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// decodeAssetName turns a hex asset name into text when it is printable.
func decodeAssetName(assetName string) string {
	b, err := hex.DecodeString(assetName)
	if err != nil || len(b) == 0 {
		return assetName
	}
	name := string(b)
	if !lo.EveryBy([]rune(name), unicode.IsPrint) {
		return assetName
	}
	return name
}
