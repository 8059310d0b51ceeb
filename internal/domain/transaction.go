package domain

import (
	"cmp"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// TxType is the kind of ledger transaction.
type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxBuy        TxType = "buy"
	TxSell       TxType = "sell"
	TxSwap       TxType = "swap"
	TxTransfer   TxType = "transfer"
	TxStake      TxType = "stake"
	TxUnstake    TxType = "unstake"
	TxReward     TxType = "reward"
	TxLend       TxType = "lend"
	TxBorrow     TxType = "borrow"
	TxRepay      TxType = "repay"
	TxLiquidate  TxType = "liquidate"
)

// TxTypes lists every supported transaction type.
var TxTypes = []TxType{
	TxDeposit, TxWithdrawal, TxBuy, TxSell, TxSwap, TxTransfer, TxStake,
	TxUnstake, TxReward, TxLend, TxBorrow, TxRepay, TxLiquidate,
}

// ParseTxType validates a transaction type name.
func ParseTxType(s string) (TxType, error) {
	if !lo.Contains(TxTypes, TxType(s)) {
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrInvalidShape, s)
	}
	return TxType(s), nil
}

// Transaction is one append-only ledger record. It encodes up to three
// asset-account flows: from, to and fee.
type Transaction struct {
	ID            int64            `json:"id"`
	Type          TxType           `json:"type"`
	Date          time.Time        `json:"date"`
	FromAssetID   *int64           `json:"fromAssetId,omitempty"`
	FromAccountID *int64           `json:"fromAccountId,omitempty"`
	FromQty       *decimal.Decimal `json:"fromQty,omitempty"`
	ToAssetID     *int64           `json:"toAssetId,omitempty"`
	ToAccountID   *int64           `json:"toAccountId,omitempty"`
	ToQty         *decimal.Decimal `json:"toQty,omitempty"`
	FeeAssetID    *int64           `json:"feeAssetId,omitempty"`
	FeeQty        *decimal.Decimal `json:"feeQty,omitempty"`
	AccountID     *int64           `json:"accountId,omitempty"`
	ExchangeID    *int64           `json:"exchangeId,omitempty"`
	PriceEUR      *decimal.Decimal `json:"priceEur,omitempty"`
	TotalEUR      *decimal.Decimal `json:"totalEur,omitempty"`
	ExecutedBy    int64            `json:"executedBy"`
	Notes         string           `json:"notes,omitempty"`
	CompensatesID *int64           `json:"compensatesId,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
}

// LegSide identifies which flow of a transaction a leg comes from.
type LegSide string

const (
	SideFrom LegSide = "from"
	SideTo   LegSide = "to"
	SideFee  LegSide = "fee"
)

// Leg is a signed quantity change of one asset in one account.
// Unset marks legs whose account had to fall back to the bank sentinel.
type Leg struct {
	Side      LegSide
	AccountID int64
	AssetID   int64
	Qty       decimal.Decimal
	Unset     bool
}

// BalanceKey identifies a position.
type BalanceKey struct {
	AccountID int64
	AssetID   int64
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%d/%d", k.AccountID, k.AssetID)
}

// CompareBalanceKeys orders keys by account, then asset.
func CompareBalanceKeys(a, b BalanceKey) int {
	if c := cmp.Compare(a.AccountID, b.AccountID); c != 0 {
		return c
	}
	return cmp.Compare(a.AssetID, b.AssetID)
}

// resolveAccount picks the first non-nil account id, falling back to the bank sentinel.
func resolveAccount(ids ...*int64) (int64, bool) {
	for _, id := range ids {
		if id != nil {
			return *id, false
		}
	}
	return BankAccountID, true
}

// FeeEmbedded reports whether the fee is already folded into the from or to
// quantity (buy: from includes the fee; sell: to is net of it; deposit,
// withdrawal and transfer: to = from - fee). Such fees are informational and
// must not be debited a second time.
func (t Transaction) FeeEmbedded() bool {
	if t.FeeAssetID == nil || t.FeeQty == nil {
		return false
	}
	switch t.Type {
	case TxBuy, TxDeposit, TxWithdrawal, TxTransfer:
		return t.FromAssetID != nil && *t.FromAssetID == *t.FeeAssetID
	case TxSell:
		return t.ToAssetID != nil && *t.ToAssetID == *t.FeeAssetID
	default:
		return false
	}
}

// Legs expands the transaction into signed per-account deltas:
// +to_qty on the to side, -from_qty on the from side and -fee_qty for a fee
// that is paid separately.
func (t Transaction) Legs() []Leg {
	var legs []Leg
	if t.FromAssetID != nil && t.FromQty != nil {
		acc, unset := resolveAccount(t.FromAccountID, t.AccountID)
		legs = append(legs, Leg{Side: SideFrom, AccountID: acc, AssetID: *t.FromAssetID, Qty: t.FromQty.Neg(), Unset: unset})
	}
	if t.ToAssetID != nil && t.ToQty != nil {
		acc, unset := resolveAccount(t.ToAccountID, t.AccountID)
		legs = append(legs, Leg{Side: SideTo, AccountID: acc, AssetID: *t.ToAssetID, Qty: *t.ToQty, Unset: unset})
	}
	if t.FeeAssetID != nil && t.FeeQty != nil && t.FeeQty.IsPositive() && !t.FeeEmbedded() {
		acc, unset := resolveAccount(t.FromAccountID, t.AccountID, t.ToAccountID)
		legs = append(legs, Leg{Side: SideFee, AccountID: acc, AssetID: *t.FeeAssetID, Qty: t.FeeQty.Neg(), Unset: unset})
	}
	return legs
}

// Debits returns the total outflow per position caused by the transaction.
// The bank sentinel is external fiat and is never debited against a balance.
func (t Transaction) Debits() map[BalanceKey]decimal.Decimal {
	debits := make(map[BalanceKey]decimal.Decimal)
	for _, leg := range t.Legs() {
		if !leg.Qty.IsNegative() || leg.AccountID == BankAccountID {
			continue
		}
		key := BalanceKey{AccountID: leg.AccountID, AssetID: leg.AssetID}
		debits[key] = debits[key].Add(leg.Qty.Neg())
	}
	return debits
}

// Touches reports whether any leg of the transaction moves the given position.
func (t Transaction) Touches(key BalanceKey) bool {
	return lo.ContainsBy(t.Legs(), func(l Leg) bool {
		return l.AccountID == key.AccountID && l.AssetID == key.AssetID
	})
}

// Delta returns the net change the transaction applies to a position.
func (t Transaction) Delta(key BalanceKey) decimal.Decimal {
	return lo.Reduce(t.Legs(), func(acc decimal.Decimal, l Leg, _ int) decimal.Decimal {
		if l.AccountID == key.AccountID && l.AssetID == key.AssetID {
			return acc.Add(l.Qty)
		}
		return acc
	}, decimal.Zero)
}
