package shares_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/ledger"
	"github.com/mtlprog/fundo/internal/memstore"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/position"
	"github.com/mtlprog/fundo/internal/price"
	"github.com/mtlprog/fundo/internal/registry"
	"github.com/mtlprog/fundo/internal/shares"
)

// fund wires every service over one in-memory store.
type fund struct {
	t         *testing.T
	store     *memstore.Store
	registry  *registry.Service
	ledger    *ledger.Engine
	oracle    *price.Oracle
	nav       *nav.Service
	allocator *shares.Allocator

	exchange int64
	admin    int64
	btc      domain.Asset
}

func newFund(t *testing.T) *fund {
	t.Helper()
	return newFundWithFetcher(t, nil)
}

// newFundWithFetcher wires an oracle that falls back to fetcher when it is not nil.
func newFundWithFetcher(t *testing.T, fetcher price.Fetcher) *fund {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	reg := registry.NewService(store.Registry())
	engine := ledger.NewEngine(store.Ledger())
	oracle := price.NewOracle(store.Snapshots(), fetcher, nil, fetcher != nil)
	positions := position.NewService(engine, reg)
	navService := nav.NewService(store.Shares(), positions, oracle, reg, store.Shares())

	f := &fund{
		t:         t,
		store:     store,
		registry:  reg,
		ledger:    engine,
		oracle:    oracle,
		nav:       navService,
		allocator: shares.NewAllocator(store.Shares(), navService, reg),
	}

	var err error
	f.exchange, err = reg.CreateAccount(ctx, domain.Account{Name: "Kraken Spot", Category: domain.CategorySpot})
	require.NoError(t, err)
	f.admin, err = reg.CreateMember(ctx, "gestor", true)
	require.NoError(t, err)
	btcID, err := reg.EnsureAsset(ctx, domain.AssetSpec{Symbol: "btc", Name: "Bitcoin", ExternalPriceID: "bitcoin"})
	require.NoError(t, err)
	f.btc, err = reg.Asset(ctx, btcID)
	require.NoError(t, err)
	return f
}

func date(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func eur(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fund) member(name string) int64 {
	f.t.Helper()
	id, err := f.registry.CreateMember(context.Background(), name, false)
	require.NoError(f.t, err)
	return id
}

// deposit records the member's EUR arriving at the exchange and the matching
// capital movement.
func (f *fund) deposit(memberID int64, day, amount string) shares.Allocation {
	f.t.Helper()
	ctx := context.Background()
	_, err := f.ledger.Insert(ctx, domain.Transaction{
		Type:          domain.TxDeposit,
		Date:          date(day),
		FromAssetID:   domain.Ptr(domain.EURAssetID),
		FromAccountID: domain.Ptr(domain.BankAccountID),
		FromQty:       domain.Ptr(eur(amount)),
		ToAssetID:     domain.Ptr(domain.EURAssetID),
		ToAccountID:   domain.Ptr(f.exchange),
		ToQty:         domain.Ptr(eur(amount)),
		ExecutedBy:    f.admin,
	})
	require.NoError(f.t, err)
	alloc, err := f.allocator.Deposit(ctx, shares.MovementRequest{MemberID: memberID, Date: date(day), AmountEUR: eur(amount)})
	require.NoError(f.t, err)
	return alloc
}

func (f *fund) buyBTC(day, qty, priceEUR string) {
	f.t.Helper()
	q, p := eur(qty), eur(priceEUR)
	_, err := f.ledger.Insert(context.Background(), domain.Transaction{
		Type:        domain.TxBuy,
		Date:        date(day),
		AccountID:   domain.Ptr(f.exchange),
		FromAssetID: domain.Ptr(domain.EURAssetID),
		FromQty:     domain.Ptr(q.Mul(p)),
		ToAssetID:   domain.Ptr(f.btc.ID),
		ToQty:       domain.Ptr(q),
		FeeAssetID:  domain.Ptr(domain.EURAssetID),
		FeeQty:      domain.Ptr(decimal.Zero),
		PriceEUR:    domain.Ptr(p),
		ExecutedBy:  f.admin,
	})
	require.NoError(f.t, err)
}

func (f *fund) shares(memberID int64, day string) decimal.Decimal {
	f.t.Helper()
	o, err := f.allocator.Ownership(context.Background(), memberID, date(day))
	require.NoError(f.t, err)
	return o.Shares
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(eur(want)), "%s = %s, want %s", msg, got, want)
}

func TestScenarioSeedAndDeposit(t *testing.T) {
	f := newFund(t)
	alice := f.member("alice")

	alloc := f.deposit(alice, "2025-01-01", "1000")
	require.NotNil(t, alloc.Record)
	assertDec(t, "1", alloc.Record.NAVPerShare, "pre-event NAV per share")
	assertDec(t, "1000", alloc.Record.SharesDelta, "alice delta")

	v, err := f.nav.Compute(context.Background(), date("2025-01-01"))
	require.NoError(t, err)
	assertDec(t, "1000", v.TotalShares, "total shares")
	assertDec(t, "1000", v.NAV, "fund NAV")
	assertDec(t, "1", v.NAVPerShare, "NAV per share")
	assertDec(t, "1000", f.shares(alice, "2025-01-01"), "alice shares")
}

func TestScenarioBuyAndPriceUp(t *testing.T) {
	f := newFund(t)
	alice := f.member("alice")
	f.deposit(alice, "2025-01-01", "1000")
	f.buyBTC("2025-01-02", "1", "10")
	require.NoError(t, f.oracle.SetManual(context.Background(), f.btc, date("2025-01-03"), eur("20")))

	v, err := f.nav.Compute(context.Background(), date("2025-01-03"))
	require.NoError(t, err)
	require.Len(t, v.Holdings, 1)
	assertDec(t, "1", v.Holdings[0].Quantity, "BTC held")
	assertDec(t, "990", v.CashEUR, "cash")
	assertDec(t, "1010", v.NAV, "fund NAV")
	assertDec(t, "1.01", v.NAVPerShare, "NAV per share")

	o, err := f.allocator.Ownership(context.Background(), alice, date("2025-01-03"))
	require.NoError(t, err)
	assertDec(t, "1010", o.ValueEUR, "alice value")
	assertDec(t, "100", o.Pct, "alice pct")
}

func scenarioThroughS3(t *testing.T) (*fund, int64, int64) {
	f := newFund(t)
	alice := f.member("alice")
	bob := f.member("bob")
	f.deposit(alice, "2025-01-01", "1000")
	f.buyBTC("2025-01-02", "1", "10")
	require.NoError(t, f.oracle.SetManual(context.Background(), f.btc, date("2025-01-03"), eur("20")))
	return f, alice, bob
}

func TestScenarioSecondDepositorAtHigherNAV(t *testing.T) {
	f, _, bob := scenarioThroughS3(t)

	alloc := f.deposit(bob, "2025-01-03", "1010")
	require.NotNil(t, alloc.Record)
	assertDec(t, "1.01", alloc.Record.NAVPerShare, "pre-event NAV per share")
	assertDec(t, "1000", alloc.Record.SharesDelta, "bob delta")
	assertDec(t, "2000", alloc.Record.TotalSharesAfter, "total shares after")
	assertDec(t, "2020", alloc.Record.FundNAVAfter, "fund NAV after")
	assertDec(t, "1000", f.shares(bob, "2025-01-03"), "bob shares")
}

func TestScenarioWithdrawal(t *testing.T) {
	f, alice, bob := scenarioThroughS3(t)
	f.deposit(bob, "2025-01-03", "1010")

	// no price on 2025-01-04: BTC carries forward at 20
	alloc, err := f.allocator.Withdraw(context.Background(), shares.MovementRequest{
		MemberID: alice, Date: date("2025-01-04"), AmountEUR: eur("505"),
	})
	require.NoError(t, err)
	require.NotNil(t, alloc.Record)
	assertDec(t, "1.01", alloc.Record.NAVPerShare, "pre-event NAV per share")
	assertDec(t, "-500", alloc.Record.SharesDelta, "alice delta")
	assertDec(t, "500", alloc.Record.MemberSharesAfter, "alice shares after")
	assertDec(t, "1500", alloc.Record.TotalSharesAfter, "total shares after")
	assertDec(t, "505", alloc.Movement.DebitEUR, "movement debit")

	assertDec(t, "500", f.shares(alice, "2025-01-04"), "alice shares")
	problems, err := f.allocator.Verify(context.Background())
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestDepositThenWithdrawalLeavesSharesAndPrice(t *testing.T) {
	f, alice, bob := scenarioThroughS3(t)
	ctx := context.Background()

	before, err := f.nav.Compute(ctx, date("2025-01-03"))
	require.NoError(t, err)
	assertDec(t, "1.01", before.NAVPerShare, "NAV per share before")

	f.deposit(bob, "2025-01-03", "1010")
	_, err = f.allocator.Withdraw(ctx, shares.MovementRequest{
		MemberID: bob, Date: date("2025-01-03"), AmountEUR: eur("1010"),
	})
	require.NoError(t, err)

	after, err := f.nav.Compute(ctx, date("2025-01-03"))
	require.NoError(t, err)
	assertDec(t, before.NAVPerShare.String(), after.NAVPerShare, "NAV per share after")
	assertDec(t, before.TotalShares.String(), after.TotalShares, "total shares after")
	assertDec(t, "0", f.shares(bob, "2025-01-03"), "bob shares")
	assertDec(t, "1000", f.shares(alice, "2025-01-03"), "alice shares")
}

// countingFetcher serves historical prices and counts upstream calls.
type countingFetcher struct {
	mu    sync.Mutex
	calls int
	price decimal.Decimal
	err   error
}

func (c *countingFetcher) CurrentPrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return nil, errors.New("current prices not expected")
}

func (c *countingFetcher) HistoricalPrice(context.Context, string, time.Time) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.price, c.err
}

func (c *countingFetcher) set(price string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price, c.err = eur(price), err
}

func (c *countingFetcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestAllocationFetchesMissingPricesBeforeLocking(t *testing.T) {
	fetcher := &countingFetcher{}
	f := newFundWithFetcher(t, fetcher)
	alice := f.member("alice")
	bob := f.member("bob")
	carol := f.member("carol")

	f.deposit(alice, "2025-01-01", "1000")
	f.buyBTC("2025-01-02", "1", "10")
	assert.Equal(t, 0, fetcher.count(), "nothing held, nothing to price")

	fetcher.set("20", nil)
	alloc := f.deposit(bob, "2025-01-03", "1010")
	assert.Equal(t, 1, fetcher.count())
	assertDec(t, "1.01", alloc.Record.NAVPerShare, "priced with the fetched BTC price")

	// upstream down: the warm-up tries once, the locked valuation carries 20 forward
	fetcher.set("0", errors.New("HTTP 500"))
	alloc = f.deposit(carol, "2025-01-04", "101")
	assert.Equal(t, 2, fetcher.count(), "no upstream call while the share ledger is locked")
	assertDec(t, "1.01", alloc.Record.NAVPerShare, "carried-forward price")
	assertDec(t, "100", alloc.Record.SharesDelta, "carol delta")
}

func TestAdminMovementIssuesNoShares(t *testing.T) {
	f := newFund(t)
	alice := f.member("alice")
	f.deposit(alice, "2025-01-01", "1000")

	alloc, err := f.allocator.Deposit(context.Background(), shares.MovementRequest{
		MemberID: f.admin, Date: date("2025-01-02"), AmountEUR: eur("500"),
	})
	require.NoError(t, err)
	assert.Nil(t, alloc.Record)
	assertDec(t, "500", alloc.Movement.CreditEUR, "admin credit")

	// admin capital stays out of the NAV
	v, err := f.nav.Compute(context.Background(), date("2025-01-02"))
	require.NoError(t, err)
	assertDec(t, "1000", v.NAV, "fund NAV")

	register, _, err := f.allocator.Register(context.Background(), date("2025-01-02"))
	require.NoError(t, err)
	require.Len(t, register, 1)
	assert.Equal(t, "alice", register[0].Name)

	_, err = f.allocator.Withdraw(context.Background(), shares.MovementRequest{
		MemberID: f.admin, Date: date("2025-01-02"), ExitAll: true,
	})
	assert.Error(t, err)
}

func TestBackdatedMovementRejected(t *testing.T) {
	f := newFund(t)
	alice := f.member("alice")
	f.deposit(alice, "2025-01-05", "1000")

	_, err := f.allocator.Deposit(context.Background(), shares.MovementRequest{
		MemberID: alice, Date: date("2025-01-04"), AmountEUR: eur("10"),
	})
	require.ErrorIs(t, err, domain.ErrState)

	movements, err := f.allocator.Movements(context.Background(), &alice)
	require.NoError(t, err)
	assert.Len(t, movements, 1, "rejected movement leaves no row")
}

func TestWithdrawalBeyondHoldingsRejected(t *testing.T) {
	f := newFund(t)
	alice := f.member("alice")
	bob := f.member("bob")
	f.deposit(alice, "2025-01-01", "1000")
	f.deposit(bob, "2025-01-01", "1000")

	_, err := f.allocator.Withdraw(context.Background(), shares.MovementRequest{
		MemberID: alice, Date: date("2025-01-02"), AmountEUR: eur("1000.5"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)

	records, err := f.allocator.Records(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	movements, err := f.allocator.Movements(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, movements, 2)
}

func TestWithdrawalRoundingLeftoverExitsMember(t *testing.T) {
	f := newFund(t)
	alice := f.member("alice")
	bob := f.member("bob")
	f.deposit(alice, "2025-01-01", "1000")
	f.deposit(bob, "2025-01-01", "1000")

	alloc, err := f.allocator.Withdraw(context.Background(), shares.MovementRequest{
		MemberID: alice, Date: date("2025-01-02"), AmountEUR: eur("1000.005"),
	})
	require.NoError(t, err)
	assertDec(t, "-1000", alloc.Record.SharesDelta, "alice delta")
	assert.Equal(t, "exit-all (rounded)", alloc.Record.Notes)
	assertDec(t, "1000", alloc.Record.AmountEUR, "paid out")
	assertDec(t, "1000", alloc.Movement.DebitEUR, "movement debit")
	assertDec(t, "0", f.shares(alice, "2025-01-02"), "alice shares")

	v, err := f.nav.Compute(context.Background(), date("2025-01-02"))
	require.NoError(t, err)
	assertDec(t, "1", v.NAVPerShare, "bob keeps the full value of his shares")
}

func TestExitAllBurnsEveryShare(t *testing.T) {
	f, alice, bob := scenarioThroughS3(t)
	f.deposit(bob, "2025-01-03", "1010")

	alloc, err := f.allocator.Withdraw(context.Background(), shares.MovementRequest{
		MemberID: alice, Date: date("2025-01-04"), ExitAll: true,
	})
	require.NoError(t, err)
	assertDec(t, "-1000", alloc.Record.SharesDelta, "alice delta")
	assertDec(t, "1010", alloc.Record.AmountEUR, "exit amount")
	assertDec(t, "1000", alloc.Record.TotalSharesAfter, "total shares after")
	assert.Equal(t, "exit-all", alloc.Record.Notes)

	_, err = f.allocator.Withdraw(context.Background(), shares.MovementRequest{
		MemberID: alice, Date: date("2025-01-04"), ExitAll: true,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestUnknownMember(t *testing.T) {
	f := newFund(t)

	_, err := f.allocator.Deposit(context.Background(), shares.MovementRequest{
		MemberID: 999, Date: date("2025-01-01"), AmountEUR: eur("1"),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentDepositsKeepTotalsConsistent(t *testing.T) {
	f := newFund(t)
	ids := []int64{f.member("a"), f.member("b"), f.member("c"), f.member("d")}

	errs := make(chan error, len(ids))
	for _, id := range ids {
		go func(id int64) {
			_, err := f.allocator.Deposit(context.Background(), shares.MovementRequest{
				MemberID: id, Date: date("2025-01-01"), AmountEUR: eur("250"),
			})
			errs <- err
		}(id)
	}
	for range ids {
		require.NoError(t, <-errs)
	}

	v, err := f.nav.Compute(context.Background(), date("2025-01-01"))
	require.NoError(t, err)
	assertDec(t, "1000", v.TotalShares, "total shares")
	problems, err := f.allocator.Verify(context.Background())
	require.NoError(t, err, "problems: %v", problems)
}
