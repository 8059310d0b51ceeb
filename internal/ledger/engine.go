// Package ledger accepts typed transactions, enforces their shape and the
// non-negative balance rule, and persists them append-only.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
)

// ListFilter narrows transaction listings. Zero values mean "no restriction".
// Account criteria match when the principal, from or to account qualifies.
type ListFilter struct {
	From       time.Time
	To         time.Time
	Type       domain.TxType
	AccountIDs []int64
	Categories []domain.AccountCategory
	TagCodes   []string
	AssetID    *int64
	Limit      int
}

// Queries is the set of operations available inside one database transaction.
type Queries interface {
	// LockPositions serialises writers on the given positions until the transaction ends.
	LockPositions(ctx context.Context, keys []domain.BalanceKey) error
	// History returns every transaction with a leg on the position, ordered by (date, id).
	History(ctx context.Context, key domain.BalanceKey) ([]domain.Transaction, error)
	Insert(ctx context.Context, tx domain.Transaction) (int64, error)
	AttachTags(ctx context.Context, txID int64, codes []string) error
	Get(ctx context.Context, id int64) (domain.Transaction, error)
	CompensatedBy(ctx context.Context, id int64) ([]int64, error)
}

// Store persists ledger transactions.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	History(ctx context.Context, key domain.BalanceKey) ([]domain.Transaction, error)
	Get(ctx context.Context, id int64) (domain.Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Transaction, error)
}

// Engine is the single write path into the ledger.
type Engine struct {
	store Store
}

// NewEngine creates a ledger Engine.
func NewEngine(store Store) *Engine {
	if store == nil {
		panic("ledger.NewEngine: store is nil")
	}
	return &Engine{store: store}
}

// Insert validates tx, checks every debited position can cover it at the
// transaction date and at every later date, and appends it. The check and
// the insert run in one database transaction.
func (e *Engine) Insert(ctx context.Context, tx domain.Transaction) (int64, error) {
	tx.Date = domain.Day(tx.Date)
	if err := Validate(tx); err != nil {
		return 0, err
	}

	var id int64
	err := e.store.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		var err error
		id, err = insertChecked(ctx, q, tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.Info("ledger: transaction recorded", "id", id, "type", tx.Type, "date", tx.Date.Format(domain.DateLayout))
	return id, nil
}

// insertChecked runs the balance check and the insert on an open transaction.
func insertChecked(ctx context.Context, q Queries, tx domain.Transaction) (int64, error) {
	debits := tx.Debits()
	keys := lo.Keys(debits)
	slices.SortFunc(keys, domain.CompareBalanceKeys)

	if err := q.LockPositions(ctx, keys); err != nil {
		return 0, fmt.Errorf("locking positions: %w", err)
	}

	for _, key := range keys {
		history, err := q.History(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("reading history of %s: %w", key, err)
		}
		if err := checkCoverage(key, history, tx, debits[key]); err != nil {
			return 0, err
		}
	}

	id, err := q.Insert(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("inserting transaction: %w", err)
	}
	if len(tx.Tags) > 0 {
		if err := q.AttachTags(ctx, id, lo.Uniq(tx.Tags)); err != nil {
			return 0, fmt.Errorf("attaching tags to transaction %d: %w", id, err)
		}
	}
	return id, nil
}

// checkCoverage verifies balance(key, tx.Date) - debit >= -ε and that every
// later running balance stays non-negative once tx is applied.
func checkCoverage(key domain.BalanceKey, history []domain.Transaction, tx domain.Transaction, debit decimal.Decimal) error {
	before := decimal.Zero
	var later []domain.Transaction
	for _, h := range history {
		if h.Date.After(tx.Date) {
			later = append(later, h)
			continue
		}
		before = before.Add(h.Delta(key))
	}

	if domain.BelowTolerance(before.Sub(debit)) {
		return &domain.InsufficientFundsError{AccountID: key.AccountID, AssetID: key.AssetID, Balance: before, Debit: debit}
	}

	running := before.Add(tx.Delta(key))
	for _, h := range later {
		running = running.Add(h.Delta(key))
		if domain.BelowTolerance(running) {
			return fmt.Errorf("position goes negative on %s: %w",
				h.Date.Format(domain.DateLayout),
				&domain.InsufficientFundsError{AccountID: key.AccountID, AssetID: key.AssetID, Balance: running.Sub(h.Delta(key)), Debit: h.Delta(key).Neg()})
		}
	}
	return nil
}

// Balance returns Σ to − Σ from − Σ separately paid fees for the position
// over transactions dated on or before asOf.
func (e *Engine) Balance(ctx context.Context, accountID, assetID int64, asOf time.Time) (decimal.Decimal, error) {
	key := domain.BalanceKey{AccountID: accountID, AssetID: assetID}
	history, err := e.store.History(ctx, key)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading history of %s: %w", key, err)
	}
	asOf = domain.Day(asOf)
	return lo.Reduce(history, func(acc decimal.Decimal, t domain.Transaction, _ int) decimal.Decimal {
		if t.Date.After(asOf) {
			return acc
		}
		return acc.Add(t.Delta(key))
	}, decimal.Zero), nil
}

// Get returns one transaction.
func (e *Engine) Get(ctx context.Context, id int64) (domain.Transaction, error) {
	return e.store.Get(ctx, id)
}

// List returns transactions matching the filter, ordered by (date, id).
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]domain.Transaction, error) {
	return e.store.List(ctx, filter)
}

// Compensate appends the rows that undo transaction id as of date. Rows are
// linked to the original through CompensatesID; the original is never touched.
// A transaction can be compensated once.
func (e *Engine) Compensate(ctx context.Context, id int64, date time.Time, executedBy int64, notes string) ([]int64, error) {
	date = domain.Day(date)
	var ids []int64
	err := e.store.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		orig, err := q.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("getting transaction %d: %w", id, err)
		}
		if orig.CompensatesID != nil {
			return fmt.Errorf("%w: transaction %d is itself a compensation", domain.ErrConflict, id)
		}
		done, err := q.CompensatedBy(ctx, id)
		if err != nil {
			return fmt.Errorf("checking compensations of %d: %w", id, err)
		}
		if len(done) > 0 {
			return fmt.Errorf("%w: transaction %d already compensated by %v", domain.ErrConflict, id, done)
		}

		rows, err := Reversal(orig, date, executedBy, notes)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := Validate(row); err != nil {
				return fmt.Errorf("compensating %d: %w", id, err)
			}
			newID, err := insertChecked(ctx, q, row)
			if err != nil {
				return fmt.Errorf("compensating %d: %w", id, err)
			}
			ids = append(ids, newID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("ledger: transaction compensated", "id", id, "rows", ids)
	return ids, nil
}
