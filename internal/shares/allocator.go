// Package shares keeps each member's share balance consistent with the fund's
// NAV: deposits issue and withdrawals burn shares at the pre-event NAV per share.
package shares

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/price"
)

// Queries is the set of operations available inside one database transaction.
type Queries interface {
	// LockShares serialises share allocations until the transaction ends.
	LockShares(ctx context.Context) error
	Member(ctx context.Context, id int64) (domain.Member, error)
	InsertMovement(ctx context.Context, m domain.CapitalMovement) (int64, error)
	InsertShareRecord(ctx context.Context, r domain.ShareRecord) (int64, error)
	// LatestShareDate returns the date of the newest share record, if any.
	LatestShareDate(ctx context.Context) (time.Time, bool, error)
	MemberShares(ctx context.Context, memberID int64, asOf time.Time) (decimal.Decimal, error)
	TotalShares(ctx context.Context, asOf time.Time) (decimal.Decimal, error)
	CashFlows(ctx context.Context, asOf time.Time) (nav.Flows, error)
}

// Store persists capital movements and the share ledger.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	MemberShares(ctx context.Context, memberID int64, asOf time.Time) (decimal.Decimal, error)
	TotalShares(ctx context.Context, asOf time.Time) (decimal.Decimal, error)
	// SharesByMember returns Σ shares_delta per member as of a date.
	SharesByMember(ctx context.Context, asOf time.Time) (map[int64]decimal.Decimal, error)
	// Records returns share records ordered by (date, id); memberID nil means all members.
	Records(ctx context.Context, memberID *int64) ([]domain.ShareRecord, error)
	Movements(ctx context.Context, memberID *int64) ([]domain.CapitalMovement, error)
}

// MemberSource lists club members.
type MemberSource interface {
	Members(ctx context.Context) ([]domain.Member, error)
	Member(ctx context.Context, id int64) (domain.Member, error)
}

// MovementRequest is a member's deposit or withdrawal of EUR. ExitAll burns
// every remaining share of the member; the EUR amount is then derived from
// the pre-event NAV per share.
type MovementRequest struct {
	MemberID    int64           `json:"memberId"`
	Date        time.Time       `json:"date"`
	AmountEUR   decimal.Decimal `json:"amountEur"`
	ExitAll     bool            `json:"exitAll,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Allocation is the outcome of a capital movement.
type Allocation struct {
	Movement domain.CapitalMovement `json:"movement"`
	// Record is nil for admin members, who hold no shares.
	Record *domain.ShareRecord `json:"record,omitempty"`
}

// Allocator writes capital movements together with their share records.
type Allocator struct {
	store   Store
	nav     *nav.Service
	members MemberSource
}

// NewAllocator creates an Allocator.
func NewAllocator(store Store, navService *nav.Service, members MemberSource) *Allocator {
	if store == nil {
		panic("shares.NewAllocator: store is nil")
	}
	if navService == nil {
		panic("shares.NewAllocator: nav service is nil")
	}
	if members == nil {
		panic("shares.NewAllocator: members is nil")
	}
	return &Allocator{store: store, nav: navService, members: members}
}

// Deposit records the EUR credit and issues shares at the pre-event NAV per share.
func (a *Allocator) Deposit(ctx context.Context, req MovementRequest) (Allocation, error) {
	if !req.AmountEUR.IsPositive() {
		return Allocation{}, fmt.Errorf("deposit amount must be positive, got %s", req.AmountEUR)
	}
	if req.ExitAll {
		return Allocation{}, fmt.Errorf("exit-all only applies to withdrawals")
	}
	return a.allocate(ctx, domain.MovementDeposit, req)
}

// Withdraw records the EUR debit and burns shares at the pre-event NAV per
// share. It fails with domain.ErrInsufficientShares when the member does not
// hold enough shares.
func (a *Allocator) Withdraw(ctx context.Context, req MovementRequest) (Allocation, error) {
	if !req.ExitAll && !req.AmountEUR.IsPositive() {
		return Allocation{}, fmt.Errorf("withdrawal amount must be positive, got %s", req.AmountEUR)
	}
	return a.allocate(ctx, domain.MovementWithdrawal, req)
}

func (a *Allocator) allocate(ctx context.Context, kind domain.MovementType, req MovementRequest) (Allocation, error) {
	req.Date = domain.Day(req.Date)
	var out Allocation

	// fetch missing prices now; the valuation under the lock reads the store only
	if err := a.nav.WarmPrices(ctx, req.Date); err != nil {
		if ctx.Err() != nil {
			return Allocation{}, ctx.Err()
		}
		slog.Warn("Shares: price warm-up failed", "date", req.Date.Format(domain.DateLayout), "error", err)
	}
	locked := a.nav.WithPriceOptions(price.WithoutAPIFallback())

	err := a.store.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		if err := q.LockShares(ctx); err != nil {
			return err
		}
		member, err := q.Member(ctx, req.MemberID)
		if err != nil {
			return fmt.Errorf("member %d: %w", req.MemberID, err)
		}
		latest, ok, err := q.LatestShareDate(ctx)
		if err != nil {
			return err
		}
		if ok && req.Date.Before(latest) {
			return fmt.Errorf("%w: %s on %s precedes the latest share record (%s)", domain.ErrState,
				kind, req.Date.Format(domain.DateLayout), latest.Format(domain.DateLayout))
		}

		if member.IsAdmin {
			if req.ExitAll {
				return fmt.Errorf("admin member %d holds no shares to exit", member.ID)
			}
			mv, err := insertMovement(ctx, q, kind, req, req.AmountEUR)
			if err != nil {
				return err
			}
			out = Allocation{Movement: mv}
			return nil
		}

		// pre-event valuation: the movement is not yet visible
		before, err := locked.WithSources(q, q).Compute(ctx, req.Date)
		if err != nil {
			return fmt.Errorf("valuing fund before %s: %w", kind, err)
		}
		held, err := q.MemberShares(ctx, member.ID, req.Date)
		if err != nil {
			return err
		}

		p, err := planAllocation(kind, req, before, held)
		if err != nil {
			return err
		}
		mv, err := insertMovement(ctx, q, kind, req, p.amount)
		if err != nil {
			return err
		}
		rec := domain.ShareRecord{
			MemberID:          member.ID,
			MovementID:        &mv.ID,
			Date:              req.Date,
			MovementType:      kind,
			AmountEUR:         p.amount,
			NAVPerShare:       p.perShare,
			SharesDelta:       p.delta,
			MemberSharesAfter: held.Add(p.delta),
			TotalSharesAfter:  before.TotalShares.Add(p.delta),
			FundNAVAfter:      p.navAfter,
			Notes:             p.notes,
		}
		if rec.ID, err = q.InsertShareRecord(ctx, rec); err != nil {
			return err
		}
		out = Allocation{Movement: mv, Record: &rec}
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}

	if out.Record != nil {
		slog.Info("Shares: allocated", "member", req.MemberID, "type", kind,
			"amount", out.Record.AmountEUR.String(), "navPerShare", out.Record.NAVPerShare.String(),
			"delta", out.Record.SharesDelta.String())
	}
	return out, nil
}

type plan struct {
	amount   decimal.Decimal
	perShare decimal.Decimal
	delta    decimal.Decimal
	navAfter decimal.Decimal
	notes    string
}

// planAllocation prices the movement at the NAV per share before it.
func planAllocation(kind domain.MovementType, req MovementRequest, before nav.Valuation, held decimal.Decimal) (plan, error) {
	p := plan{amount: req.AmountEUR, perShare: before.NAVPerShare}

	if kind == domain.MovementDeposit {
		if before.TotalShares.IsPositive() && !p.perShare.IsPositive() {
			return plan{}, fmt.Errorf("%w: NAV per share is %s with %s shares outstanding", domain.ErrState, p.perShare, before.TotalShares)
		}
		p.delta = domain.Div(p.amount, p.perShare)
		p.navAfter = before.NAV.Add(p.amount)
		return p, nil
	}

	if !before.TotalShares.IsPositive() {
		return plan{}, fmt.Errorf("%w: withdrawal with no shares in circulation", domain.ErrState)
	}
	if !p.perShare.IsPositive() {
		return plan{}, fmt.Errorf("%w: NAV per share is %s", domain.ErrState, p.perShare)
	}
	if req.ExitAll {
		if !held.IsPositive() {
			return plan{}, fmt.Errorf("member %d: %w: nothing to exit", req.MemberID, domain.ErrInsufficientShares)
		}
		p.amount = held.Mul(p.perShare).Round(2)
		p.delta = held.Neg()
		p.navAfter = before.NAV.Sub(p.amount)
		p.notes = "exit-all"
		return p, nil
	}

	p.delta = domain.Div(p.amount, p.perShare).Neg()
	p.navAfter = before.NAV.Sub(p.amount)
	if residual := held.Add(p.delta); domain.BelowTolerance(residual) {
		if residual.LessThanOrEqual(domain.ExitAllTolerance.Neg()) {
			return plan{}, fmt.Errorf("member %d: %w: holds %s, withdrawal needs %s", req.MemberID,
				domain.ErrInsufficientShares, held, p.delta.Neg())
		}
		// rounding leftovers of a full withdrawal: pay out what the shares are worth
		p.amount = held.Mul(p.perShare).Round(2)
		p.delta = held.Neg()
		p.navAfter = before.NAV.Sub(p.amount)
		p.notes = "exit-all (rounded)"
	}
	return p, nil
}

func insertMovement(ctx context.Context, q Queries, kind domain.MovementType, req MovementRequest, amount decimal.Decimal) (domain.CapitalMovement, error) {
	if !amount.IsPositive() {
		return domain.CapitalMovement{}, fmt.Errorf("%s amount must be positive, got %s", kind, amount)
	}
	mv := domain.CapitalMovement{
		MemberID:    req.MemberID,
		Date:        req.Date,
		CreditEUR:   decimal.Zero,
		DebitEUR:    decimal.Zero,
		Description: req.Description,
	}
	if kind == domain.MovementDeposit {
		mv.CreditEUR = amount
	} else {
		mv.DebitEUR = amount
	}
	id, err := q.InsertMovement(ctx, mv)
	if err != nil {
		return domain.CapitalMovement{}, err
	}
	mv.ID = id
	return mv, nil
}

// Ownership is a member's stake in the fund.
type Ownership struct {
	MemberID    int64           `json:"memberId"`
	Name        string          `json:"name"`
	Shares      decimal.Decimal `json:"shares"`
	Pct         decimal.Decimal `json:"pct"`
	ValueEUR    decimal.Decimal `json:"valueEur"`
	NAVPerShare decimal.Decimal `json:"navPerShare"`
}

func ownership(m domain.Member, held decimal.Decimal, v nav.Valuation) Ownership {
	o := Ownership{MemberID: m.ID, Name: m.Name, Shares: held, NAVPerShare: v.NAVPerShare, Pct: decimal.Zero}
	if v.TotalShares.IsPositive() {
		o.Pct = domain.Div(held.Mul(decimal.NewFromInt(100)), v.TotalShares)
	}
	o.ValueEUR = held.Mul(v.NAVPerShare)
	return o
}

// Ownership returns the member's shares, percentage and EUR value as of asOf.
func (a *Allocator) Ownership(ctx context.Context, memberID int64, asOf time.Time) (Ownership, error) {
	member, err := a.members.Member(ctx, memberID)
	if err != nil {
		return Ownership{}, fmt.Errorf("member %d: %w", memberID, err)
	}
	v, err := a.nav.Compute(ctx, asOf)
	if err != nil {
		return Ownership{}, err
	}
	held, err := a.store.MemberShares(ctx, memberID, domain.Day(asOf))
	if err != nil {
		return Ownership{}, err
	}
	return ownership(member, held, v), nil
}

// Register returns the ownership of every non-admin member as of asOf,
// together with the valuation it was computed from.
func (a *Allocator) Register(ctx context.Context, asOf time.Time) ([]Ownership, nav.Valuation, error) {
	members, err := a.members.Members(ctx)
	if err != nil {
		return nil, nav.Valuation{}, fmt.Errorf("listing members: %w", err)
	}
	v, err := a.nav.Compute(ctx, asOf)
	if err != nil {
		return nil, nav.Valuation{}, err
	}
	held, err := a.store.SharesByMember(ctx, domain.Day(asOf))
	if err != nil {
		return nil, nav.Valuation{}, err
	}

	register := make([]Ownership, 0, len(members))
	for _, m := range members {
		if m.IsAdmin {
			continue
		}
		register = append(register, ownership(m, held[m.ID], v))
	}
	return register, v, nil
}

// Records returns the share ledger, optionally for one member.
func (a *Allocator) Records(ctx context.Context, memberID *int64) ([]domain.ShareRecord, error) {
	return a.store.Records(ctx, memberID)
}

// Movements returns the capital movements, optionally for one member.
func (a *Allocator) Movements(ctx context.Context, memberID *int64) ([]domain.CapitalMovement, error) {
	return a.store.Movements(ctx, memberID)
}

// ErrInconsistent is returned by Verify when the share ledger breaks its invariants.
var ErrInconsistent = errors.New("share ledger inconsistent")

// Verify replays the share ledger: no non-admin member may end below zero
// shares, and the recorded running totals must match the per-member sums.
func (a *Allocator) Verify(ctx context.Context) ([]string, error) {
	records, err := a.store.Records(ctx, nil)
	if err != nil {
		return nil, err
	}
	members, err := a.members.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	admins := make(map[int64]bool, len(members))
	for _, m := range members {
		admins[m.ID] = m.IsAdmin
	}

	problems := Replay(records, admins)
	if len(problems) > 0 {
		slog.Error("Shares: ledger verification failed", "problems", len(problems))
		return problems, fmt.Errorf("%w: %d problem(s)", ErrInconsistent, len(problems))
	}
	return nil, nil
}

// Replay checks records (in ledger order) and returns one message per problem.
func Replay(records []domain.ShareRecord, admins map[int64]bool) []string {
	var problems []string
	perMember := make(map[int64]decimal.Decimal)
	total := decimal.Zero
	for _, r := range records {
		if admins[r.MemberID] {
			problems = append(problems, fmt.Sprintf("record %d: admin member %d holds shares", r.ID, r.MemberID))
		}
		perMember[r.MemberID] = perMember[r.MemberID].Add(r.SharesDelta)
		total = total.Add(r.SharesDelta)
		if !domain.ApproxEqual(perMember[r.MemberID], r.MemberSharesAfter, domain.Epsilon) {
			problems = append(problems, fmt.Sprintf("record %d: member shares after %s, replay gives %s",
				r.ID, r.MemberSharesAfter, perMember[r.MemberID]))
		}
		if !domain.ApproxEqual(total, r.TotalSharesAfter, domain.Epsilon) {
			problems = append(problems, fmt.Sprintf("record %d: total shares after %s, replay gives %s",
				r.ID, r.TotalSharesAfter, total))
		}
	}
	for id, held := range perMember {
		if domain.BelowTolerance(held) {
			problems = append(problems, fmt.Sprintf("member %d holds %s shares", id, held))
		}
	}
	return problems
}
