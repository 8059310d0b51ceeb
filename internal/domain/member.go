package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Member is a participant of the club. Admins run the fund but hold no shares.
type Member struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// CapitalMovement is external EUR entering or leaving the fund on behalf of a member.
// Exactly one of CreditEUR and DebitEUR is non-zero.
type CapitalMovement struct {
	ID          int64           `json:"id"`
	MemberID    int64           `json:"memberId"`
	Date        time.Time       `json:"date"`
	CreditEUR   decimal.Decimal `json:"creditEur"`
	DebitEUR    decimal.Decimal `json:"debitEur"`
	Description string          `json:"description,omitempty"`
}

// Amount returns the non-zero side of the movement.
func (m CapitalMovement) Amount() decimal.Decimal {
	if m.CreditEUR.IsPositive() {
		return m.CreditEUR
	}
	return m.DebitEUR
}

// Tag labels transactions by strategy.
type Tag struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}
