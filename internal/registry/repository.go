package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/mtlprog/fundo/internal/database"
	"github.com/mtlprog/fundo/internal/domain"
)

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	db database.Querier
}

// NewPgRepository creates a new PostgreSQL registry repository.
func NewPgRepository(db database.Querier) *PgRepository {
	return &PgRepository{db: db}
}

const assetColumns = `asset_id, symbol, name, chain, external_price_id, is_stablecoin`

func scanAsset(row pgx.Row) (domain.Asset, error) {
	var a domain.Asset
	var ext *string
	if err := row.Scan(&a.ID, &a.Symbol, &a.Name, &a.Chain, &ext, &a.IsStablecoin); err != nil {
		return domain.Asset{}, err
	}
	a.ExternalPriceID = lo.FromPtr(ext)
	return a, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (r *PgRepository) Asset(ctx context.Context, id int64) (domain.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE asset_id = $1`, id))
	if err != nil {
		return domain.Asset{}, notFound(err, fmt.Sprintf("getting asset %d", id))
	}
	return a, nil
}

func (r *PgRepository) AssetBySymbol(ctx context.Context, symbol string) (domain.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE symbol = $1`, symbol))
	if err != nil {
		return domain.Asset{}, notFound(err, fmt.Sprintf("getting asset %s", symbol))
	}
	return a, nil
}

func (r *PgRepository) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := r.db.Query(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *PgRepository) InsertAsset(ctx context.Context, spec domain.AssetSpec) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO assets (symbol, name, chain, external_price_id, is_stablecoin)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		 RETURNING asset_id`,
		spec.Symbol, spec.Name, spec.Chain, spec.ExternalPriceID, spec.IsStablecoin).Scan(&id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, fmt.Errorf("inserting asset %s: %w", spec.Symbol, domain.ErrConflict)
		}
		return 0, fmt.Errorf("inserting asset %s: %w", spec.Symbol, err)
	}
	return id, nil
}

func (r *PgRepository) SetExternalPriceID(ctx context.Context, id int64, externalID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE assets SET external_price_id = $2
		 WHERE asset_id = $1 AND (external_price_id IS NULL OR external_price_id = '')`,
		id, externalID)
	if err != nil {
		return fmt.Errorf("setting external price id of asset %d: %w", id, err)
	}
	return nil
}

func (r *PgRepository) AssetReferenced(ctx context.Context, id int64) (bool, error) {
	var referenced bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM transactions
		     WHERE from_asset_id = $1 OR to_asset_id = $1 OR fee_asset_id = $1
		 ) OR EXISTS (
		     SELECT 1 FROM price_snapshots WHERE asset_id = $1
		 )`, id).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("checking references of asset %d: %w", id, err)
	}
	return referenced, nil
}

func (r *PgRepository) UpdateAssetSymbol(ctx context.Context, id int64, symbol string) error {
	tag, err := r.db.Exec(ctx, `UPDATE assets SET symbol = $2 WHERE asset_id = $1`, id, symbol)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("symbol %s already taken: %w", symbol, domain.ErrConflict)
		}
		return fmt.Errorf("updating symbol of asset %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating symbol of asset %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

const accountColumns = `account_id, exchange_id, name, category`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	var category string
	if err := row.Scan(&a.ID, &a.ExchangeID, &a.Name, &category); err != nil {
		return domain.Account{}, err
	}
	a.Category = domain.AccountCategory(category)
	return a, nil
}

func (r *PgRepository) Account(ctx context.Context, id int64) (domain.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`, id))
	if err != nil {
		return domain.Account{}, notFound(err, fmt.Sprintf("getting account %d", id))
	}
	return a, nil
}

func (r *PgRepository) ListAccounts(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	categories := lo.Map(filter.Categories, func(c domain.AccountCategory, _ int) string { return string(c) })
	rows, err := r.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE (cardinality($1::text[]) = 0 OR category = ANY($1))
		   AND (cardinality($2::bigint[]) = 0 OR account_id = ANY($2))
		 ORDER BY account_id`,
		categories, filter.IDs)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *PgRepository) InsertAccount(ctx context.Context, acc domain.Account) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO accounts (exchange_id, name, category) VALUES ($1, $2, $3) RETURNING account_id`,
		acc.ExchangeID, acc.Name, string(acc.Category)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting account %s: %w", acc.Name, err)
	}
	return id, nil
}

func (r *PgRepository) Member(ctx context.Context, id int64) (domain.Member, error) {
	var m domain.Member
	err := r.db.QueryRow(ctx, `SELECT member_id, name, is_admin FROM members WHERE member_id = $1`, id).
		Scan(&m.ID, &m.Name, &m.IsAdmin)
	if err != nil {
		return domain.Member{}, notFound(err, fmt.Sprintf("getting member %d", id))
	}
	return m, nil
}

func (r *PgRepository) ListMembers(ctx context.Context) ([]domain.Member, error) {
	rows, err := r.db.Query(ctx, `SELECT member_id, name, is_admin FROM members ORDER BY member_id`)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.IsAdmin); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *PgRepository) InsertMember(ctx context.Context, name string, isAdmin bool) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO members (name, is_admin) VALUES ($1, $2) RETURNING member_id`, name, isAdmin).Scan(&id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, fmt.Errorf("member %s exists: %w", name, domain.ErrConflict)
		}
		return 0, fmt.Errorf("inserting member %s: %w", name, err)
	}
	return id, nil
}

func (r *PgRepository) EnsureTag(ctx context.Context, code, label string) (domain.Tag, error) {
	var t domain.Tag
	err := r.db.QueryRow(ctx,
		`INSERT INTO tags (code, label) VALUES ($1, $2)
		 ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		 RETURNING tag_id, code, label, active`,
		code, label).Scan(&t.ID, &t.Code, &t.Label, &t.Active)
	if err != nil {
		return domain.Tag{}, fmt.Errorf("ensuring tag %s: %w", code, err)
	}
	return t, nil
}

func (r *PgRepository) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := r.db.Query(ctx, `SELECT tag_id, code, label, active FROM tags ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Code, &t.Label, &t.Active); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
