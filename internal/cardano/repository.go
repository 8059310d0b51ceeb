package cardano

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/fundo/internal/database"
)

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL Cardano repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Wallets(ctx context.Context) ([]Wallet, error) {
	rows, err := r.pool.Query(ctx, `SELECT wallet_id, address, label FROM cardano_wallets ORDER BY wallet_id`)
	if err != nil {
		return nil, fmt.Errorf("querying wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.Address, &w.Label); err != nil {
			return nil, fmt.Errorf("scanning wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (r *PgRepository) AddWallet(ctx context.Context, address, label string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO cardano_wallets (address, label) VALUES ($1, $2)
		 ON CONFLICT (address) DO UPDATE SET label = EXCLUDED.label
		 RETURNING wallet_id`, address, label).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("adding wallet %s: %w", address, err)
	}
	return id, nil
}

func (r *PgRepository) SyncState(ctx context.Context, walletID int64) (SyncState, bool, error) {
	st := SyncState{WalletID: walletID}
	err := r.pool.QueryRow(ctx,
		`SELECT last_block_height, last_tx_timestamp, last_synced_at
		 FROM cardano_sync_state WHERE wallet_id = $1`, walletID).
		Scan(&st.LastBlockHeight, &st.LastTxTimestamp, &st.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SyncState{WalletID: walletID}, false, nil
	}
	if err != nil {
		return SyncState{}, false, fmt.Errorf("reading sync state of wallet %d: %w", walletID, err)
	}
	return st, true, nil
}

func (r *PgRepository) SaveSyncState(ctx context.Context, st SyncState) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cardano_sync_state (wallet_id, last_block_height, last_tx_timestamp, last_synced_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (wallet_id) DO UPDATE SET
		   last_block_height = EXCLUDED.last_block_height,
		   last_tx_timestamp = EXCLUDED.last_tx_timestamp,
		   last_synced_at = EXCLUDED.last_synced_at`,
		st.WalletID, st.LastBlockHeight, st.LastTxTimestamp, st.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("saving sync state of wallet %d: %w", st.WalletID, err)
	}
	return nil
}

func (r *PgRepository) Token(ctx context.Context, policyID, assetName string) (Token, bool, error) {
	t := Token{PolicyID: policyID, AssetName: assetName}
	err := r.pool.QueryRow(ctx,
		`SELECT display_name, decimals FROM cardano_assets WHERE policy_id = $1 AND asset_name = $2`,
		policyID, assetName).Scan(&t.DisplayName, &t.Decimals)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("reading token %s.%s: %w", policyID, assetName, err)
	}
	return t, true, nil
}

func (r *PgRepository) UpsertToken(ctx context.Context, t Token) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cardano_assets (policy_id, asset_name, display_name, decimals)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (policy_id, asset_name) DO UPDATE SET
		   display_name = EXCLUDED.display_name, decimals = EXCLUDED.decimals`,
		t.PolicyID, t.AssetName, t.DisplayName, t.Decimals)
	if err != nil {
		return fmt.Errorf("saving token %s.%s: %w", t.PolicyID, t.AssetName, err)
	}
	return nil
}

// SaveTx upserts the transaction and replaces its IO rows in one database
// transaction, so a re-sync of the same range leaves identical rows.
func (r *PgRepository) SaveTx(ctx context.Context, tx Tx, ios []IO) error {
	return database.WithTx(ctx, r.pool, func(dbTx pgx.Tx) error {
		_, err := dbTx.Exec(ctx,
			`INSERT INTO cardano_tx (tx_hash, wallet_id, address, block_height, timestamp, status, fees_ada, raw)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
			 ON CONFLICT (tx_hash, wallet_id) DO UPDATE SET
			   block_height = EXCLUDED.block_height, timestamp = EXCLUDED.timestamp,
			   status = EXCLUDED.status, fees_ada = EXCLUDED.fees_ada, raw = EXCLUDED.raw`,
			tx.Hash, tx.WalletID, tx.Address, tx.BlockHeight, tx.Timestamp, tx.Status, tx.FeesADA, tx.Raw)
		if err != nil {
			return fmt.Errorf("upserting transaction: %w", err)
		}
		if _, err := dbTx.Exec(ctx,
			`DELETE FROM cardano_io WHERE tx_hash = $1 AND wallet_id = $2`, tx.Hash, tx.WalletID); err != nil {
			return fmt.Errorf("clearing IO rows: %w", err)
		}

		batch := &pgx.Batch{}
		for _, io := range ios {
			batch.Queue(
				`INSERT INTO cardano_io (tx_hash, wallet_id, io_type, io_index, address, lovelace,
				                         policy_id, asset_name, raw_value, formatted_amount)
				 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
				io.TxHash, io.WalletID, string(io.Type), io.Index, io.Address, io.Lovelace,
				io.PolicyID, io.AssetName, io.RawValue, io.FormattedAmount)
		}
		if err := dbTx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting IO rows: %w", err)
		}
		return nil
	})
}

// IOs returns the stored IO rows of a wallet, newest transaction first.
func (r *PgRepository) IOs(ctx context.Context, walletID int64) ([]IO, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT io.tx_hash, io.wallet_id, io.io_type, io.io_index, io.address, io.lovelace,
		        COALESCE(io.policy_id, ''), COALESCE(io.asset_name, ''), io.raw_value, io.formatted_amount
		 FROM cardano_io io
		 JOIN cardano_tx t ON t.tx_hash = io.tx_hash AND t.wallet_id = io.wallet_id
		 WHERE io.wallet_id = $1
		 ORDER BY t.block_height DESC, io.io_type, io.io_index`, walletID)
	if err != nil {
		return nil, fmt.Errorf("querying IO rows of wallet %d: %w", walletID, err)
	}
	defer rows.Close()

	var ios []IO
	for rows.Next() {
		var io IO
		var kind string
		if err := rows.Scan(&io.TxHash, &io.WalletID, &kind, &io.Index, &io.Address, &io.Lovelace,
			&io.PolicyID, &io.AssetName, &io.RawValue, &io.FormattedAmount); err != nil {
			return nil, fmt.Errorf("scanning IO row: %w", err)
		}
		io.Type = IOType(kind)
		ios = append(ios, io)
	}
	return ios, rows.Err()
}
