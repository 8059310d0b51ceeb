package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/database"
	"github.com/mtlprog/fundo/internal/domain"
)

// PgRepository implements Store with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL ledger repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgQueries{db: tx})
	})
}

func (r *PgRepository) History(ctx context.Context, key domain.BalanceKey) ([]domain.Transaction, error) {
	return pgQueries{db: r.pool}.History(ctx, key)
}

func (r *PgRepository) Get(ctx context.Context, id int64) (domain.Transaction, error) {
	return pgQueries{db: r.pool}.Get(ctx, id)
}

func (r *PgRepository) List(ctx context.Context, filter ListFilter) ([]domain.Transaction, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.From.IsZero() {
		where = append(where, "t.date >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "t.date <= "+arg(filter.To))
	}
	if filter.Type != "" {
		where = append(where, "t.type = "+arg(string(filter.Type)))
	}
	if len(filter.AccountIDs) > 0 {
		p := arg(filter.AccountIDs)
		where = append(where, fmt.Sprintf("(t.account_id = ANY(%[1]s) OR t.from_account_id = ANY(%[1]s) OR t.to_account_id = ANY(%[1]s))", p))
	}
	if len(filter.Categories) > 0 {
		p := arg(lo.Map(filter.Categories, func(c domain.AccountCategory, _ int) string { return string(c) }))
		where = append(where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM accounts a
			WHERE a.account_id IN (t.account_id, t.from_account_id, t.to_account_id)
			  AND a.category = ANY(%s))`, p))
	}
	if len(filter.TagCodes) > 0 {
		p := arg(filter.TagCodes)
		where = append(where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM transaction_tags tt JOIN tags g ON g.tag_id = tt.tag_id
			WHERE tt.tx_id = t.tx_id AND g.code = ANY(%s))`, p))
	}
	if filter.AssetID != nil {
		p := arg(*filter.AssetID)
		where = append(where, fmt.Sprintf("(t.from_asset_id = %[1]s OR t.to_asset_id = %[1]s OR t.fee_asset_id = %[1]s)", p))
	}

	sql := selectTransactions
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY t.date, t.tx_id"
	if filter.Limit > 0 {
		sql += " LIMIT " + arg(filter.Limit)
	}
	return queryTransactions(ctx, r.pool, sql, args...)
}

// pgQueries runs ledger statements on either the pool or an open transaction.
type pgQueries struct {
	db database.Querier
}

func (q pgQueries) LockPositions(ctx context.Context, keys []domain.BalanceKey) error {
	for _, key := range keys {
		if err := database.AdvisoryLock(ctx, q.db, "position:"+key.String()); err != nil {
			return err
		}
	}
	return nil
}

func (q pgQueries) History(ctx context.Context, key domain.BalanceKey) ([]domain.Transaction, error) {
	// candidate rows; Touches drops fee matches that are embedded in another leg
	txs, err := queryTransactions(ctx, q.db, selectTransactions+`
		 WHERE (t.from_asset_id = $2 AND COALESCE(t.from_account_id, t.account_id, -1) = $1)
		    OR (t.to_asset_id = $2 AND COALESCE(t.to_account_id, t.account_id, -1) = $1)
		    OR (t.fee_asset_id = $2 AND COALESCE(t.from_account_id, t.account_id, t.to_account_id, -1) = $1)
		 ORDER BY t.date, t.tx_id`, key.AccountID, key.AssetID)
	if err != nil {
		return nil, err
	}
	out := txs[:0]
	for _, t := range txs {
		if t.Touches(key) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (q pgQueries) Insert(ctx context.Context, t domain.Transaction) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO transactions (type, date, from_asset_id, to_asset_id, fee_asset_id,
		     from_account_id, to_account_id, account_id, exchange_id,
		     from_quantity, to_quantity, fee_quantity, price_eur, total_eur,
		     executed_by, notes, compensates_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING tx_id`,
		string(t.Type), t.Date, t.FromAssetID, t.ToAssetID, t.FeeAssetID,
		t.FromAccountID, t.ToAccountID, t.AccountID, t.ExchangeID,
		nullDecimal(t.FromQty), nullDecimal(t.ToQty), nullDecimal(t.FeeQty), nullDecimal(t.PriceEUR), nullDecimal(t.TotalEUR),
		t.ExecutedBy, t.Notes, t.CompensatesID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting %s transaction: %w", t.Type, err)
	}
	return id, nil
}

func (q pgQueries) AttachTags(ctx context.Context, txID int64, codes []string) error {
	for _, code := range codes {
		_, err := q.db.Exec(ctx,
			`WITH tag AS (
			     INSERT INTO tags (code, label) VALUES ($2, $2)
			     ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
			     RETURNING tag_id
			 )
			 INSERT INTO transaction_tags (tx_id, tag_id)
			 SELECT $1, tag_id FROM tag
			 ON CONFLICT DO NOTHING`,
			txID, code)
		if err != nil {
			return fmt.Errorf("tagging transaction %d with %s: %w", txID, code, err)
		}
	}
	return nil
}

func (q pgQueries) Get(ctx context.Context, id int64) (domain.Transaction, error) {
	txs, err := queryTransactions(ctx, q.db, selectTransactions+` WHERE t.tx_id = $1`, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(txs) == 0 {
		return domain.Transaction{}, fmt.Errorf("getting transaction %d: %w", id, domain.ErrNotFound)
	}
	return txs[0], nil
}

func (q pgQueries) CompensatedBy(ctx context.Context, id int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT tx_id FROM transactions WHERE compensates_id = $1 ORDER BY tx_id`, id)
	if err != nil {
		return nil, fmt.Errorf("reading compensations of %d: %w", id, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("reading compensations of %d: %w", id, err)
	}
	return ids, nil
}

const selectTransactions = `
	SELECT t.tx_id, t.type, t.date,
	       t.from_asset_id, t.from_account_id, t.from_quantity,
	       t.to_asset_id, t.to_account_id, t.to_quantity,
	       t.fee_asset_id, t.fee_quantity,
	       t.account_id, t.exchange_id, t.price_eur, t.total_eur,
	       t.executed_by, t.notes, t.compensates_id,
	       COALESCE((SELECT array_agg(g.code ORDER BY g.code)
	                 FROM transaction_tags tt JOIN tags g ON g.tag_id = tt.tag_id
	                 WHERE tt.tx_id = t.tx_id), '{}') AS tags
	FROM transactions t`

func queryTransactions(ctx context.Context, db database.Querier, sql string, args ...any) ([]domain.Transaction, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	var txType string
	var fromQty, toQty, feeQty, price, total decimal.NullDecimal
	err := row.Scan(&t.ID, &txType, &t.Date,
		&t.FromAssetID, &t.FromAccountID, &fromQty,
		&t.ToAssetID, &t.ToAccountID, &toQty,
		&t.FeeAssetID, &feeQty,
		&t.AccountID, &t.ExchangeID, &price, &total,
		&t.ExecutedBy, &t.Notes, &t.CompensatesID, &t.Tags)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Type = domain.TxType(txType)
	t.Date = domain.Day(t.Date)
	t.FromQty, t.ToQty, t.FeeQty = decimalPtr(fromQty), decimalPtr(toQty), decimalPtr(feeQty)
	t.PriceEUR, t.TotalEUR = decimalPtr(price), decimalPtr(total)
	return t, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}
