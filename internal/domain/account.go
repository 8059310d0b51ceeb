package domain

import (
	"fmt"

	"github.com/samber/lo"
)

// BankAccountID is the sentinel account for fiat that sits outside every
// exchange account (the members' bank, from the fund's perspective).
const BankAccountID int64 = -1

// AccountCategory classifies holding locations.
type AccountCategory string

const (
	CategorySpot    AccountCategory = "Spot"
	CategoryEarn    AccountCategory = "Earn"
	CategoryLP      AccountCategory = "LP"
	CategoryFutures AccountCategory = "Futures"
	CategoryStaking AccountCategory = "Staking"
	CategoryDeFi    AccountCategory = "DeFi"
	CategoryWallet  AccountCategory = "Wallet"
	CategoryOther   AccountCategory = "Outro"
	CategoryFIAT    AccountCategory = "FIAT"
)

// AccountCategories lists every valid category.
var AccountCategories = []AccountCategory{
	CategorySpot, CategoryEarn, CategoryLP, CategoryFutures, CategoryStaking,
	CategoryDeFi, CategoryWallet, CategoryOther, CategoryFIAT,
}

// ParseAccountCategory validates a category name.
func ParseAccountCategory(s string) (AccountCategory, error) {
	c, ok := lo.Find(AccountCategories, func(c AccountCategory) bool { return string(c) == s })
	if !ok {
		return "", fmt.Errorf("unknown account category %q", s)
	}
	return c, nil
}

// Account is a logical holding location inside an exchange or wallet.
type Account struct {
	ID         int64           `json:"id"`
	ExchangeID *int64          `json:"exchangeId,omitempty"`
	Name       string          `json:"name"`
	Category   AccountCategory `json:"category"`
}

// IsBank reports whether the account is the bank sentinel.
func (a Account) IsBank() bool {
	return a.ID == BankAccountID
}

// AccountFilter selects accounts by category and/or id. Empty fields match everything.
type AccountFilter struct {
	Categories []AccountCategory
	IDs        []int64
}

// Match reports whether the account passes the filter.
func (f AccountFilter) Match(a Account) bool {
	if len(f.Categories) > 0 && !lo.Contains(f.Categories, a.Category) {
		return false
	}
	if len(f.IDs) > 0 && !lo.Contains(f.IDs, a.ID) {
		return false
	}
	return true
}
