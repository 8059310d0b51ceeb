package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
)

// flow is one optional (asset, account, qty) triple of a transaction.
type flow struct {
	name    string
	asset   *int64
	account *int64
	qty     *decimal.Decimal
}

type shapeChecker struct {
	tx  domain.Transaction
	err *domain.ShapeError
}

func (c *shapeChecker) fail(field, reason string) {
	if c.err == nil {
		c.err = &domain.ShapeError{Type: c.tx.Type, Field: field, Reason: reason}
	}
}

// account resolves a flow's account against the principal account.
func (c *shapeChecker) account(f flow) *int64 {
	if f.account != nil {
		return f.account
	}
	return c.tx.AccountID
}

func (c *shapeChecker) required(f flow) {
	if f.asset == nil {
		c.fail(f.name+"_asset", "is required")
	}
	if f.qty == nil {
		c.fail(f.name+"_qty", "is required")
	} else if !f.qty.IsPositive() {
		c.fail(f.name+"_qty", "must be positive")
	}
	if acc := c.account(f); acc == nil {
		c.fail(f.name+"_account", "is required")
	} else if *acc == domain.BankAccountID {
		c.fail(f.name+"_account", "cannot be the bank")
	}
}

func (c *shapeChecker) forbidden(f flow) {
	if f.asset != nil {
		c.fail(f.name+"_asset", "must be empty")
	}
	if f.account != nil {
		c.fail(f.name+"_account", "must be empty")
	}
	if f.qty != nil {
		c.fail(f.name+"_qty", "must be empty")
	}
}

// bankSide checks a flow that must sit on the bank sentinel.
func (c *shapeChecker) bankSide(f flow) {
	if f.asset == nil {
		c.fail(f.name+"_asset", "is required")
	}
	if f.qty == nil {
		c.fail(f.name+"_qty", "is required")
	} else if !f.qty.IsPositive() {
		c.fail(f.name+"_qty", "must be positive")
	}
	if f.account != nil && *f.account != domain.BankAccountID {
		c.fail(f.name+"_account", "must be the bank (-1)")
	}
	if f.account == nil && c.tx.AccountID != nil {
		c.fail(f.name+"_account", "must be set to the bank (-1) when a principal account is given")
	}
}

func (c *shapeChecker) eur(f flow) {
	if f.asset != nil && *f.asset != domain.EURAssetID {
		c.fail(f.name+"_asset", "must be EUR")
	}
}

func (c *shapeChecker) notEUR(f flow) {
	if f.asset != nil && *f.asset == domain.EURAssetID {
		c.fail(f.name+"_asset", "cannot be EUR")
	}
}

func (c *shapeChecker) noFee() {
	if c.tx.FeeAssetID != nil || c.tx.FeeQty != nil {
		c.fail("fee", "must be empty")
	}
}

func (c *shapeChecker) optionalFee() {
	if (c.tx.FeeAssetID == nil) != (c.tx.FeeQty == nil) {
		c.fail("fee", "asset and quantity go together")
		return
	}
	if c.tx.FeeQty != nil && c.tx.FeeQty.IsNegative() {
		c.fail("fee_qty", "cannot be negative")
	}
}

func (c *shapeChecker) requiredFee() {
	if c.tx.FeeAssetID == nil || c.tx.FeeQty == nil {
		c.fail("fee", "is required")
		return
	}
	c.optionalFee()
}

// fee returns the fee quantity when it is paid in asset, else zero.
func (c *shapeChecker) fee(asset *int64) decimal.Decimal {
	if c.tx.FeeAssetID == nil || c.tx.FeeQty == nil || asset == nil || *c.tx.FeeAssetID != *asset {
		return decimal.Zero
	}
	return *c.tx.FeeQty
}

func (c *shapeChecker) sameAsset(a, b flow) {
	if a.asset != nil && b.asset != nil && *a.asset != *b.asset {
		c.fail(b.name+"_asset", "must equal "+a.name+"_asset")
	}
}

func (c *shapeChecker) approx(field string, got, want decimal.Decimal) {
	if !domain.ApproxEqual(got, want, domain.ShapeTolerance) {
		c.fail(field, "must equal "+want.String()+", got "+got.String())
	}
}

// Validate checks a transaction against the field rules of its type.
// It returns a *domain.ShapeError describing the first broken rule.
func Validate(tx domain.Transaction) error {
	if _, err := domain.ParseTxType(string(tx.Type)); err != nil {
		return &domain.ShapeError{Type: tx.Type, Field: "type", Reason: "is unknown"}
	}
	if tx.Date.IsZero() {
		return &domain.ShapeError{Type: tx.Type, Field: "date", Reason: "is required"}
	}
	if tx.ExecutedBy == 0 {
		return &domain.ShapeError{Type: tx.Type, Field: "executed_by", Reason: "is required"}
	}

	c := &shapeChecker{tx: tx}
	from := flow{name: "from", asset: tx.FromAssetID, account: tx.FromAccountID, qty: tx.FromQty}
	to := flow{name: "to", asset: tx.ToAssetID, account: tx.ToAccountID, qty: tx.ToQty}

	switch tx.Type {
	case domain.TxDeposit:
		c.bankSide(from)
		c.required(to)
		c.eur(from)
		c.eur(to)
		c.optionalFee()
		c.eur(flow{name: "fee", asset: tx.FeeAssetID})
		if c.err == nil {
			c.approx("to_qty", *tx.ToQty, tx.FromQty.Sub(c.fee(tx.FromAssetID)))
		}

	case domain.TxWithdrawal:
		c.required(from)
		c.bankSide(to)
		c.eur(from)
		c.eur(to)
		c.optionalFee()
		c.eur(flow{name: "fee", asset: tx.FeeAssetID})
		if c.err == nil {
			c.approx("to_qty", *tx.ToQty, tx.FromQty.Sub(c.fee(tx.FromAssetID)))
		}

	case domain.TxBuy:
		c.required(from)
		c.required(to)
		c.eur(from)
		c.notEUR(to)
		c.requiredFee()
		c.eur(flow{name: "fee", asset: tx.FeeAssetID})
		if c.err == nil && tx.PriceEUR != nil {
			c.approx("from_qty", *tx.FromQty, tx.ToQty.Mul(*tx.PriceEUR).Add(*tx.FeeQty))
		}

	case domain.TxSell:
		c.required(from)
		c.required(to)
		c.notEUR(from)
		c.eur(to)
		c.requiredFee()
		c.eur(flow{name: "fee", asset: tx.FeeAssetID})
		if c.err == nil && tx.PriceEUR != nil {
			c.approx("to_qty", *tx.ToQty, tx.FromQty.Mul(*tx.PriceEUR).Sub(*tx.FeeQty))
		}

	case domain.TxSwap:
		c.required(from)
		c.required(to)
		c.optionalFee()
		if c.err == nil {
			if *from.asset == *to.asset {
				c.fail("to_asset", "must differ from from_asset")
			}
			if *c.account(from) != *c.account(to) {
				c.fail("to_account", "must equal from_account")
			}
		}

	case domain.TxTransfer:
		c.required(from)
		c.required(to)
		c.sameAsset(from, to)
		c.optionalFee()
		if tx.FeeAssetID != nil && from.asset != nil && *tx.FeeAssetID != *from.asset {
			c.fail("fee_asset", "must equal the transferred asset")
		}
		if c.err == nil {
			c.approx("to_qty", *tx.ToQty, tx.FromQty.Sub(c.fee(tx.FromAssetID)))
		}

	case domain.TxStake, domain.TxUnstake:
		c.required(from)
		c.required(to)
		c.sameAsset(from, to)
		c.noFee()
		if c.err == nil {
			c.approx("to_qty", *tx.ToQty, *tx.FromQty)
		}

	case domain.TxReward:
		c.forbidden(from)
		c.required(to)
		c.noFee()

	case domain.TxLend:
		c.required(from)
		c.required(to)
		c.sameAsset(from, to)
		c.optionalFee()

	case domain.TxRepay:
		c.required(from)
		if tx.ToAssetID != nil {
			c.fail("to_asset", "must be empty")
		}
		if c.account(to) == nil {
			c.fail("to_account", "is required")
		}
		if tx.ToQty == nil || !tx.ToQty.IsPositive() {
			c.fail("to_qty", "must be positive")
		}
		c.optionalFee()

	case domain.TxBorrow:
		c.forbidden(from)
		c.required(to)
		c.optionalFee()

	case domain.TxLiquidate:
		c.required(from)
		c.forbidden(to)
		c.noFee()
	}

	if c.err != nil {
		return c.err
	}
	return nil
}
