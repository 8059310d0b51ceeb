package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
)

// Reversal builds the compensating rows for orig dated on date. The first
// row mirrors the principal flows with the inverse type; any residual left on
// a non-bank position (typically a fee) is restored with reward or liquidate
// rows, so that orig plus its reversal nets to zero on every position.
func Reversal(orig domain.Transaction, date time.Time, executedBy int64, notes string) ([]domain.Transaction, error) {
	if date.Before(orig.Date) {
		return nil, fmt.Errorf("%w: compensation dated %s precedes transaction %d (%s)",
			domain.ErrConflict, date.Format(domain.DateLayout), orig.ID, orig.Date.Format(domain.DateLayout))
	}
	if notes == "" {
		notes = fmt.Sprintf("compensates #%d", orig.ID)
	}

	base := domain.Transaction{
		Date:          date,
		ExchangeID:    orig.ExchangeID,
		ExecutedBy:    executedBy,
		Notes:         notes,
		CompensatesID: &orig.ID,
		Tags:          orig.Tags,
	}

	fromAcc := lo.CoalesceOrEmpty(orig.FromAccountID, orig.AccountID)
	toAcc := lo.CoalesceOrEmpty(orig.ToAccountID, orig.AccountID)
	bank := domain.Ptr(domain.BankAccountID)
	zeroFee := func(t *domain.Transaction) {
		t.FeeAssetID = domain.Ptr(domain.EURAssetID)
		t.FeeQty = domain.Ptr(decimal.Zero)
	}

	main := base
	switch orig.Type {
	case domain.TxDeposit:
		main.Type = domain.TxWithdrawal
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.ToAssetID, toAcc, orig.ToQty
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.ToAssetID, bank, orig.ToQty
	case domain.TxWithdrawal:
		main.Type = domain.TxDeposit
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.FromAssetID, bank, orig.FromQty
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.FromAssetID, fromAcc, orig.FromQty
	case domain.TxBuy:
		main.Type = domain.TxSell
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.ToAssetID, toAcc, orig.ToQty
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.FromAssetID, fromAcc, orig.FromQty
		zeroFee(&main)
	case domain.TxSell:
		main.Type = domain.TxBuy
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.ToAssetID, toAcc, orig.ToQty
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.FromAssetID, fromAcc, orig.FromQty
		zeroFee(&main)
	case domain.TxSwap, domain.TxLend:
		main.Type = orig.Type
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.ToAssetID, toAcc, orig.ToQty
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.FromAssetID, fromAcc, orig.ToQty
		if orig.Type == domain.TxSwap {
			main.ToQty = orig.FromQty
		}
	case domain.TxTransfer:
		main.Type = domain.TxTransfer
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.ToAssetID, toAcc, orig.ToQty
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.FromAssetID, fromAcc, orig.ToQty
	case domain.TxStake, domain.TxUnstake:
		main.Type = lo.Ternary(orig.Type == domain.TxStake, domain.TxUnstake, domain.TxStake)
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.ToAssetID, toAcc, orig.ToQty
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.FromAssetID, fromAcc, orig.FromQty
	case domain.TxReward:
		main.Type = domain.TxLiquidate
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.ToAssetID, toAcc, orig.ToQty
	case domain.TxLiquidate:
		main.Type = domain.TxReward
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.FromAssetID, fromAcc, orig.FromQty
	case domain.TxBorrow:
		main.Type = domain.TxRepay
		main.FromAssetID, main.FromAccountID, main.FromQty = orig.ToAssetID, toAcc, orig.ToQty
		main.ToAccountID, main.ToQty = toAcc, orig.ToQty
	case domain.TxRepay:
		main.Type = domain.TxBorrow
		main.ToAssetID, main.ToAccountID, main.ToQty = orig.FromAssetID, fromAcc, orig.FromQty
	default:
		return nil, &domain.ShapeError{Type: orig.Type, Field: "type", Reason: "cannot be compensated"}
	}

	rows := []domain.Transaction{main}
	return append(rows, residualRows(orig, main, base)...), nil
}

// residualRows restores whatever orig and main leave behind on non-bank positions.
func residualRows(orig, main, base domain.Transaction) []domain.Transaction {
	net := make(map[domain.BalanceKey]decimal.Decimal)
	for _, t := range []domain.Transaction{orig, main} {
		for _, leg := range t.Legs() {
			if leg.AccountID == domain.BankAccountID {
				continue
			}
			key := domain.BalanceKey{AccountID: leg.AccountID, AssetID: leg.AssetID}
			net[key] = net[key].Add(leg.Qty)
		}
	}

	keys := lo.Keys(net)
	slices.SortFunc(keys, domain.CompareBalanceKeys)

	// credits before debits so a residual debit never trips the balance check
	var credits, debits []domain.Transaction
	for _, key := range keys {
		q := net[key]
		if domain.IsDust(q) {
			continue
		}
		row := base
		if q.IsNegative() {
			row.Type = domain.TxReward
			row.ToAssetID, row.ToAccountID, row.ToQty = domain.Ptr(key.AssetID), domain.Ptr(key.AccountID), domain.Ptr(q.Neg())
			credits = append(credits, row)
		} else {
			row.Type = domain.TxLiquidate
			row.FromAssetID, row.FromAccountID, row.FromQty = domain.Ptr(key.AssetID), domain.Ptr(key.AccountID), domain.Ptr(q)
			debits = append(debits, row)
		}
	}
	return append(credits, debits...)
}
