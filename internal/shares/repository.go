package shares

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/database"
	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/nav"
)

const shareLedgerLock = "share_ledger"

// PgRepository implements Store with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
	pgQueries
}

// NewPgRepository creates a new PostgreSQL share ledger repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, pgQueries: pgQueries{db: pool}}
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgQueries{db: tx})
	})
}

func (r *PgRepository) SharesByMember(ctx context.Context, asOf time.Time) (map[int64]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx,
		`SELECT member_id, SUM(shares_delta) FROM share_ledger WHERE date <= $1 GROUP BY member_id`, asOf)
	if err != nil {
		return nil, fmt.Errorf("summing shares per member: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var id int64
		var sum decimal.Decimal
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("scanning member shares: %w", err)
		}
		result[id] = sum
	}
	return result, rows.Err()
}

func (r *PgRepository) Records(ctx context.Context, memberID *int64) ([]domain.ShareRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, member_id, movement_id, date, movement_type, amount_eur, nav_per_share,
		        shares_delta, member_shares_after, total_shares_after, fund_nav_after, notes
		 FROM share_ledger
		 WHERE $1::bigint IS NULL OR member_id = $1
		 ORDER BY date, id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("querying share ledger: %w", err)
	}
	defer rows.Close()

	var records []domain.ShareRecord
	for rows.Next() {
		var rec domain.ShareRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.MemberID, &rec.MovementID, &rec.Date, &kind, &rec.AmountEUR,
			&rec.NAVPerShare, &rec.SharesDelta, &rec.MemberSharesAfter, &rec.TotalSharesAfter,
			&rec.FundNAVAfter, &rec.Notes); err != nil {
			return nil, fmt.Errorf("scanning share record: %w", err)
		}
		rec.MovementType = domain.MovementType(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PgRepository) Movements(ctx context.Context, memberID *int64) ([]domain.CapitalMovement, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, member_id, date, credit_eur, debit_eur, description
		 FROM capital_movements
		 WHERE $1::bigint IS NULL OR member_id = $1
		 ORDER BY date, id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("querying capital movements: %w", err)
	}
	defer rows.Close()

	var movements []domain.CapitalMovement
	for rows.Next() {
		var m domain.CapitalMovement
		if err := rows.Scan(&m.ID, &m.MemberID, &m.Date, &m.CreditEUR, &m.DebitEUR, &m.Description); err != nil {
			return nil, fmt.Errorf("scanning capital movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// pgQueries runs share ledger statements on the pool or inside a transaction.
type pgQueries struct {
	db database.Querier
}

func (q pgQueries) LockShares(ctx context.Context) error {
	return database.AdvisoryLock(ctx, q.db, shareLedgerLock)
}

func (q pgQueries) Member(ctx context.Context, id int64) (domain.Member, error) {
	m := domain.Member{ID: id}
	err := q.db.QueryRow(ctx, `SELECT name, is_admin FROM members WHERE member_id = $1`, id).Scan(&m.Name, &m.IsAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Member{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("getting member %d: %w", id, err)
	}
	return m, nil
}

func (q pgQueries) InsertMovement(ctx context.Context, m domain.CapitalMovement) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO capital_movements (member_id, date, credit_eur, debit_eur, description)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		m.MemberID, m.Date, m.CreditEUR, m.DebitEUR, m.Description).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting capital movement: %w", err)
	}
	return id, nil
}

func (q pgQueries) InsertShareRecord(ctx context.Context, r domain.ShareRecord) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO share_ledger (member_id, movement_id, date, movement_type, amount_eur, nav_per_share,
		                           shares_delta, member_shares_after, total_shares_after, fund_nav_after, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		r.MemberID, r.MovementID, r.Date, string(r.MovementType), r.AmountEUR, r.NAVPerShare,
		r.SharesDelta, r.MemberSharesAfter, r.TotalSharesAfter, r.FundNAVAfter, r.Notes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting share record: %w", err)
	}
	return id, nil
}

func (q pgQueries) LatestShareDate(ctx context.Context) (time.Time, bool, error) {
	var latest *time.Time
	if err := q.db.QueryRow(ctx, `SELECT MAX(date) FROM share_ledger`).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("reading latest share date: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return *latest, true, nil
}

func (q pgQueries) MemberShares(ctx context.Context, memberID int64, asOf time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(shares_delta), 0) FROM share_ledger WHERE member_id = $1 AND date <= $2`,
		memberID, asOf).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing shares of member %d: %w", memberID, err)
	}
	return sum, nil
}

func (q pgQueries) TotalShares(ctx context.Context, asOf time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(shares_delta), 0) FROM share_ledger WHERE date <= $1`, asOf).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing total shares: %w", err)
	}
	return sum, nil
}

func (q pgQueries) CashFlows(ctx context.Context, asOf time.Time) (nav.Flows, error) {
	return nav.NewPgRepository(q.db).CashFlows(ctx, asOf)
}
