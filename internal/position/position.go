// Package position derives per-account and aggregate holdings at a date by
// folding ledger deltas under account, category and tag filters.
package position

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/ledger"
)

// Filter selects which legs count towards a position report.
// Empty sets mean "any".
type Filter struct {
	AsOf       time.Time
	AccountIDs []int64
	Categories []domain.AccountCategory
	TagCodes   []string
	// IncludeNoAccount keeps legs without an explicit account, which fall
	// back to the bank sentinel.
	IncludeNoAccount bool
}

// Row is the quantity of one asset held in one account.
type Row struct {
	AccountID int64           `json:"accountId"`
	AssetID   int64           `json:"assetId"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// AssetTotal is the roll-up of an asset across the reported accounts.
type AssetTotal struct {
	AssetID  int64           `json:"assetId"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Report is the result of a position query.
type Report struct {
	AsOf    time.Time    `json:"asOf"`
	Rows    []Row        `json:"rows"`
	ByAsset []AssetTotal `json:"byAsset"`
}

// TransactionLister reads candidate ledger rows.
type TransactionLister interface {
	List(ctx context.Context, filter ledger.ListFilter) ([]domain.Transaction, error)
}

// AccountLister resolves account categories.
type AccountLister interface {
	ListAccounts(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error)
}

// Service answers position queries.
type Service struct {
	txs      TransactionLister
	accounts AccountLister
}

// NewService creates a position Service.
func NewService(txs TransactionLister, accounts AccountLister) *Service {
	if txs == nil {
		panic("position.NewService: txs is nil")
	}
	if accounts == nil {
		panic("position.NewService: accounts is nil")
	}
	return &Service{txs: txs, accounts: accounts}
}

// Positions returns the non-dust holdings matching the filter as of filter.AsOf.
func (s *Service) Positions(ctx context.Context, filter Filter) (Report, error) {
	filter.AsOf = domain.Day(filter.AsOf)

	query := ledger.ListFilter{To: filter.AsOf, TagCodes: filter.TagCodes}
	if !filter.IncludeNoAccount {
		// rows without any account would be dropped by the account predicate
		query.AccountIDs = filter.AccountIDs
		query.Categories = filter.Categories
	}
	txs, err := s.txs.List(ctx, query)
	if err != nil {
		return Report{}, fmt.Errorf("listing transactions: %w", err)
	}

	var categories map[int64]domain.AccountCategory
	if len(filter.Categories) > 0 {
		accounts, err := s.accounts.ListAccounts(ctx, domain.AccountFilter{})
		if err != nil {
			return Report{}, fmt.Errorf("listing accounts: %w", err)
		}
		categories = lo.SliceToMap(accounts, func(a domain.Account) (int64, domain.AccountCategory) {
			return a.ID, a.Category
		})
	}

	return Fold(txs, filter, categories), nil
}

// Holdings returns the fund-wide quantity of every asset as of asOf,
// across all accounts including unassigned legs.
func (s *Service) Holdings(ctx context.Context, asOf time.Time) (map[int64]decimal.Decimal, error) {
	report, err := s.Positions(ctx, Filter{AsOf: asOf, IncludeNoAccount: true})
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(report.ByAsset, func(t AssetTotal) (int64, decimal.Decimal) {
		return t.AssetID, t.Quantity
	}), nil
}

// Fold sums the legs of txs that pass the filter, grouped by (account, asset).
// Each leg is judged on its own account, so a transfer between two selected
// accounts shows at both and nets to zero in ByAsset.
func Fold(txs []domain.Transaction, filter Filter, categories map[int64]domain.AccountCategory) Report {
	asOf := domain.Day(filter.AsOf)
	sums := make(map[domain.BalanceKey]decimal.Decimal)

	for _, tx := range txs {
		if tx.Date.After(asOf) || !matchTags(tx, filter.TagCodes) {
			continue
		}
		for _, leg := range tx.Legs() {
			if !matchLeg(leg, filter, categories) {
				continue
			}
			key := domain.BalanceKey{AccountID: leg.AccountID, AssetID: leg.AssetID}
			sums[key] = sums[key].Add(leg.Qty)
		}
	}

	keys := lo.Keys(sums)
	slices.SortFunc(keys, domain.CompareBalanceKeys)

	report := Report{AsOf: asOf, Rows: []Row{}, ByAsset: []AssetTotal{}}
	totals := make(map[int64]decimal.Decimal)
	for _, key := range keys {
		q := sums[key]
		totals[key.AssetID] = totals[key.AssetID].Add(q)
		if domain.IsDust(q) {
			continue
		}
		report.Rows = append(report.Rows, Row{AccountID: key.AccountID, AssetID: key.AssetID, Quantity: q})
	}

	for assetID, q := range totals {
		if domain.IsDust(q) {
			continue
		}
		report.ByAsset = append(report.ByAsset, AssetTotal{AssetID: assetID, Quantity: q})
	}
	slices.SortFunc(report.ByAsset, func(a, b AssetTotal) int { return cmp.Compare(a.AssetID, b.AssetID) })
	return report
}

func matchTags(tx domain.Transaction, codes []string) bool {
	if len(codes) == 0 {
		return true
	}
	return lo.Some(tx.Tags, codes)
}

func matchLeg(leg domain.Leg, filter Filter, categories map[int64]domain.AccountCategory) bool {
	if leg.Unset || leg.AccountID == domain.BankAccountID {
		if filter.IncludeNoAccount {
			return true
		}
		if !leg.Unset && lo.Contains(filter.AccountIDs, domain.BankAccountID) {
			return true
		}
		return false
	}
	if len(filter.AccountIDs) > 0 && !lo.Contains(filter.AccountIDs, leg.AccountID) {
		return false
	}
	if len(filter.Categories) > 0 && !lo.Contains(filter.Categories, categories[leg.AccountID]) {
		return false
	}
	return true
}
