package nav

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/fundo/internal/database"
)

// PgRepository reads cash flows from PostgreSQL. It runs on the pool or,
// when built over a pgx.Tx, inside that transaction.
type PgRepository struct {
	db database.Querier
}

// NewPgRepository creates a new PostgreSQL cash-flow repository.
func NewPgRepository(db database.Querier) *PgRepository {
	return &PgRepository{db: db}
}

func (r *PgRepository) CashFlows(ctx context.Context, asOf time.Time) (Flows, error) {
	var f Flows
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(cm.credit_eur), 0), COALESCE(SUM(cm.debit_eur), 0)
		 FROM capital_movements cm
		 JOIN members m ON m.member_id = cm.member_id
		 WHERE NOT m.is_admin AND cm.date <= $1`, asOf).Scan(&f.Credits, &f.Debits)
	if err != nil {
		return Flows{}, fmt.Errorf("summing capital movements: %w", err)
	}

	// trades count regardless of who executed them
	err = r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(from_quantity) FILTER (WHERE type = 'buy'), 0),
		        COALESCE(SUM(to_quantity) FILTER (WHERE type = 'sell'), 0)
		 FROM transactions
		 WHERE date <= $1 AND type IN ('buy', 'sell')`, asOf).Scan(&f.BuyCost, &f.SellProceeds)
	if err != nil {
		return Flows{}, fmt.Errorf("summing trades: %w", err)
	}
	return f, nil
}
