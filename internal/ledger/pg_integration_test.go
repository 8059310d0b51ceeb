//go:build integration

package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/fundo/internal/database/dbtest"
	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/ledger"
	"github.com/mtlprog/fundo/internal/registry"
)

func newPgEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	pool := dbtest.Pool(t)
	reg := registry.NewPgRepository(pool)

	// executed_by references members; the first member gets id 1
	_, err := reg.InsertMember(ctx, "gestor", true)
	require.NoError(t, err)
	spot, err := reg.InsertAccount(ctx, domain.Account{Name: "Spot", Category: domain.CategorySpot})
	require.NoError(t, err)
	earn, err := reg.InsertAccount(ctx, domain.Account{Name: "Earn", Category: domain.CategoryEarn})
	require.NoError(t, err)
	btc, err := reg.InsertAsset(ctx, domain.AssetSpec{Symbol: "BTC", Name: "Bitcoin", ExternalPriceID: "bitcoin"})
	require.NoError(t, err)
	return &env{engine: ledger.NewEngine(ledger.NewPgRepository(pool)), spot: spot, earn: earn, btc: btc}
}

func TestPgInsertAndBalances(t *testing.T) {
	e := newPgEnv(t)
	e.insert(t, e.depositTx("2025-01-01", "100"))
	e.insert(t, e.buyTx("2025-01-02", "0.5", "40.25"))

	assert.True(t, e.balance(t, e.spot, domain.EURAssetID, "2025-01-02").Equal(decimal.RequireFromString("59.75")))
	assert.True(t, e.balance(t, e.spot, e.btc, "2025-01-02").Equal(decimal.RequireFromString("0.5")))
	assert.True(t, e.balance(t, domain.BankAccountID, domain.EURAssetID, "2025-01-02").Equal(decimal.NewFromInt(-100)),
		"the bank sentinel may go negative")

	_, err := e.engine.Insert(context.Background(), e.sellTx("2025-01-03", "1", "80"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestPgTagsAndFilters(t *testing.T) {
	e := newPgEnv(t)
	ctx := context.Background()
	e.insert(t, e.depositTx("2025-01-01", "100"))
	tx := e.buyTx("2025-01-02", "1", "10")
	tx.Tags = []string{"dca", "core"}
	id := e.insert(t, tx)
	e.insert(t, domain.Transaction{
		Type: domain.TxTransfer, Date: day("2025-01-03"), ExecutedBy: 1,
		FromAssetID: domain.Ptr(e.btc), FromAccountID: domain.Ptr(e.spot), FromQty: qty("1"),
		ToAssetID: domain.Ptr(e.btc), ToAccountID: domain.Ptr(e.earn), ToQty: qty("1"),
	})

	got, err := e.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "dca"}, got.Tags)

	tagged, err := e.engine.List(ctx, ledger.ListFilter{TagCodes: []string{"dca"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, id, tagged[0].ID)

	byCategory, err := e.engine.List(ctx, ledger.ListFilter{Categories: []domain.AccountCategory{domain.CategoryEarn}})
	require.NoError(t, err)
	assert.Len(t, byCategory, 1)

	limited, err := e.engine.List(ctx, ledger.ListFilter{AssetID: domain.Ptr(e.btc), Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domain.TxBuy, limited[0].Type)
}

func TestPgCompensate(t *testing.T) {
	e := newPgEnv(t)
	ctx := context.Background()
	e.insert(t, e.depositTx("2025-01-01", "100"))
	buyID := e.insert(t, e.buyTx("2025-01-02", "1", "10"))

	ids, err := e.engine.Compensate(ctx, buyID, day("2025-01-03"), 1, "typo")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, e.balance(t, e.spot, domain.EURAssetID, "2025-01-03").Equal(decimal.NewFromInt(100)))

	_, err = e.engine.Compensate(ctx, buyID, day("2025-01-04"), 1, "")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestPgConcurrentSpendsCannotOverdraw(t *testing.T) {
	e := newPgEnv(t)
	e.insert(t, e.depositTx("2025-01-01", "100"))

	// ten buys of 20 against 100 EUR: position locks let exactly five through
	var wg sync.WaitGroup
	results := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.engine.Insert(context.Background(), e.buyTx("2025-01-02", "0.1", "20"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}
	assert.Equal(t, 5, ok)
	assert.True(t, e.balance(t, e.spot, domain.EURAssetID, "2025-01-02").IsZero())
}
