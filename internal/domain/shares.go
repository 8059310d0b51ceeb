package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType is the kind of capital event a share record reflects.
type MovementType string

const (
	MovementDeposit    MovementType = "deposit"
	MovementWithdrawal MovementType = "withdrawal"
)

// ShareRecord is one append-only entry of the share ledger.
type ShareRecord struct {
	ID                int64           `json:"id"`
	MemberID          int64           `json:"memberId"`
	MovementID        *int64          `json:"movementId,omitempty"`
	Date              time.Time       `json:"date"`
	MovementType      MovementType    `json:"movementType"`
	AmountEUR         decimal.Decimal `json:"amountEur"`
	NAVPerShare       decimal.Decimal `json:"navPerShare"`
	SharesDelta       decimal.Decimal `json:"sharesDelta"`
	MemberSharesAfter decimal.Decimal `json:"memberSharesAfter"`
	TotalSharesAfter  decimal.Decimal `json:"totalSharesAfter"`
	FundNAVAfter      decimal.Decimal `json:"fundNavAfter"`
	Notes             string          `json:"notes,omitempty"`
}
