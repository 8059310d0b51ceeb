package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidShape means a transaction does not follow the field rules of its type.
	ErrInvalidShape = errors.New("invalid transaction shape")
	// ErrInsufficientFunds means a debit would drive an (account, asset) balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares means a withdrawal would drive a member's shares negative.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrState is a broken precondition that indicates corrupt data or an ordering bug.
	ErrState = errors.New("invalid fund state")
	// ErrPriceUnavailable means no price could be produced for (asset, date).
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrUpstreamRateLimited is returned while the price API answers 429 or the circuit is open.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	// ErrUpstreamTransient covers timeouts, network failures and 5xx responses.
	ErrUpstreamTransient = errors.New("upstream unavailable")
	// ErrConflict means the change would contradict existing data.
	ErrConflict = errors.New("conflict")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// ShapeError describes which field of a transaction broke its type's rules.
type ShapeError struct {
	Type   TxType
	Field  string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Type, e.Field, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrInvalidShape }

// InsufficientFundsError carries the balance that failed the check.
type InsufficientFundsError struct {
	AccountID int64
	AssetID   int64
	Balance   decimal.Decimal
	Debit     decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %d for asset %d: balance %s, debit %s",
		e.AccountID, e.AssetID, e.Balance, e.Debit)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }
