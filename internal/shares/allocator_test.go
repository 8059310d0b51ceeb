package shares

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/nav"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func valuation(navEUR, total string) nav.Valuation {
	n, s := d(navEUR), d(total)
	return nav.Valuation{NAV: n, TotalShares: s, NAVPerShare: nav.PerShare(n, s)}
}

func TestPlanAllocation(t *testing.T) {
	tests := []struct {
		name      string
		kind      domain.MovementType
		req       MovementRequest
		before    nav.Valuation
		held      string
		wantDelta string
		wantAmt   string
		wantNotes string
		wantErr   error
	}{
		{
			name:      "first deposit seeds at one",
			kind:      domain.MovementDeposit,
			req:       MovementRequest{AmountEUR: d("1000")},
			before:    valuation("0", "0"),
			held:      "0",
			wantDelta: "1000",
			wantAmt:   "1000",
		},
		{
			name:      "deposit at premium",
			kind:      domain.MovementDeposit,
			req:       MovementRequest{AmountEUR: d("1010")},
			before:    valuation("1010", "1000"),
			held:      "0",
			wantDelta: "1000",
			wantAmt:   "1010",
		},
		{
			name:      "partial withdrawal",
			kind:      domain.MovementWithdrawal,
			req:       MovementRequest{AmountEUR: d("505")},
			before:    valuation("2020", "2000"),
			held:      "1000",
			wantDelta: "-500",
			wantAmt:   "505",
		},
		{
			name:      "exit-all derives the amount",
			kind:      domain.MovementWithdrawal,
			req:       MovementRequest{ExitAll: true},
			before:    valuation("2020", "2000"),
			held:      "1000",
			wantDelta: "-1000",
			wantAmt:   "1010",
			wantNotes: "exit-all",
		},
		{
			name:      "rounding leftover clamps to holdings",
			kind:      domain.MovementWithdrawal,
			req:       MovementRequest{AmountEUR: d("100.005")},
			before:    valuation("200", "200"),
			held:      "100",
			wantDelta: "-100",
			wantAmt:   "100",
			wantNotes: "exit-all (rounded)",
		},
		{
			name:      "rounding leftover pays the value of the shares",
			kind:      domain.MovementWithdrawal,
			req:       MovementRequest{AmountEUR: d("1010.004")},
			before:    valuation("2020", "2000"),
			held:      "1000",
			wantDelta: "-1000",
			wantAmt:   "1010",
			wantNotes: "exit-all (rounded)",
		},
		{
			name:    "overdraw beyond tolerance",
			kind:    domain.MovementWithdrawal,
			req:     MovementRequest{AmountEUR: d("100.01")},
			before:  valuation("200", "200"),
			held:    "100",
			wantErr: domain.ErrInsufficientShares,
		},
		{
			name:    "withdrawal without shares in circulation",
			kind:    domain.MovementWithdrawal,
			req:     MovementRequest{AmountEUR: d("1")},
			before:  valuation("0", "0"),
			held:    "0",
			wantErr: domain.ErrState,
		},
		{
			name:    "deposit into a fund with zero NAV",
			kind:    domain.MovementDeposit,
			req:     MovementRequest{AmountEUR: d("1")},
			before:  nav.Valuation{NAV: decimal.Zero, TotalShares: d("10"), NAVPerShare: decimal.Zero},
			held:    "0",
			wantErr: domain.ErrState,
		},
		{
			name:    "exit-all with nothing held",
			kind:    domain.MovementWithdrawal,
			req:     MovementRequest{ExitAll: true},
			before:  valuation("100", "100"),
			held:    "0",
			wantErr: domain.ErrInsufficientShares,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := planAllocation(tt.kind, tt.req, tt.before, d(tt.held))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !p.delta.Equal(d(tt.wantDelta)) {
				t.Errorf("delta = %s, want %s", p.delta, tt.wantDelta)
			}
			if !p.amount.Equal(d(tt.wantAmt)) {
				t.Errorf("amount = %s, want %s", p.amount, tt.wantAmt)
			}
			if p.notes != tt.wantNotes {
				t.Errorf("notes = %q, want %q", p.notes, tt.wantNotes)
			}
		})
	}
}

func TestReplay(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := func(id, member int64, delta, memberAfter, totalAfter string) domain.ShareRecord {
		return domain.ShareRecord{
			ID: id, MemberID: member, Date: day, SharesDelta: d(delta),
			MemberSharesAfter: d(memberAfter), TotalSharesAfter: d(totalAfter),
		}
	}

	t.Run("consistent ledger", func(t *testing.T) {
		records := []domain.ShareRecord{
			rec(1, 1, "1000", "1000", "1000"),
			rec(2, 2, "1000", "1000", "2000"),
			rec(3, 1, "-500", "500", "1500"),
		}
		if problems := Replay(records, nil); len(problems) != 0 {
			t.Errorf("problems = %v", problems)
		}
	})

	t.Run("running totals drift", func(t *testing.T) {
		records := []domain.ShareRecord{
			rec(1, 1, "1000", "1000", "1000"),
			rec(2, 1, "10", "1000", "1000"),
		}
		if problems := Replay(records, nil); len(problems) != 2 {
			t.Errorf("problems = %v, want 2", problems)
		}
	})

	t.Run("negative balance and admin holder", func(t *testing.T) {
		records := []domain.ShareRecord{
			rec(1, 1, "-1", "-1", "-1"),
			rec(2, 9, "5", "5", "4"),
		}
		problems := Replay(records, map[int64]bool{9: true})
		if len(problems) != 2 {
			t.Errorf("problems = %v, want 2", problems)
		}
	})
}
