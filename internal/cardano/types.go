package cardano

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// APITxPage is the JSON response from GET /transaction/list.
type APITxPage struct {
	PageNo       int     `json:"pageNo"`
	Limit        int     `json:"limit"`
	Transactions []APITx `json:"transactions"`
}

// APITx is one explorer transaction with its inputs and outputs.
type APITx struct {
	Hash        string  `json:"hash"`
	BlockHash   string  `json:"blockHash"`
	BlockHeight int64   `json:"blockHeight"`
	Timestamp   string  `json:"timestamp"`
	Fees        string  `json:"fees"`
	Status      bool    `json:"status"`
	Inputs      []APIIO `json:"inputs"`
	Outputs     []APIIO `json:"outputs"`
}

// APIIO is a transaction input or output. Value is in lovelace.
type APIIO struct {
	Address string     `json:"address"`
	Value   string     `json:"value"`
	Tokens  []APIToken `json:"tokens"`
}

// APIToken is a native token amount attached to an IO.
type APIToken struct {
	PolicyID  string `json:"policyId"`
	AssetName string `json:"assetName"`
	Value     string `json:"value"`
}

// APIAsset is the JSON response from GET /asset.
type APIAsset struct {
	PolicyID  string `json:"policyId"`
	AssetName string `json:"assetName"`
	Metadata  struct {
		Name     string `json:"name"`
		Ticker   string `json:"ticker"`
		Decimals int32  `json:"decimals"`
	} `json:"metadata"`
}

// Wallet is a tracked Cardano address.
type Wallet struct {
	ID      int64  `json:"id"`
	Address string `json:"address"`
	Label   string `json:"label"`
}

// IOType tells whether the wallet spent (input) or received (output) an IO.
type IOType string

const (
	IOInput  IOType = "input"
	IOOutput IOType = "output"
)

// Tx is a stored transaction as seen from one wallet.
type Tx struct {
	Hash        string          `json:"hash"`
	WalletID    int64           `json:"walletId"`
	Address     string          `json:"address"`
	BlockHeight int64           `json:"blockHeight"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      string          `json:"status"`
	FeesADA     decimal.Decimal `json:"feesAda"`
	Raw         json.RawMessage `json:"raw"`
}

// IO is one stored input or output row. Lovelace rows carry Lovelace; native
// token rows carry the policy id, asset name and raw value.
type IO struct {
	TxHash          string           `json:"txHash"`
	WalletID        int64            `json:"walletId"`
	Type            IOType           `json:"type"`
	Index           int              `json:"index"`
	Address         string           `json:"address"`
	Lovelace        *decimal.Decimal `json:"lovelace,omitempty"`
	PolicyID        string           `json:"policyId,omitempty"`
	AssetName       string           `json:"assetName,omitempty"`
	RawValue        *decimal.Decimal `json:"rawValue,omitempty"`
	FormattedAmount *decimal.Decimal `json:"formattedAmount,omitempty"`
}

// Token is native token metadata.
type Token struct {
	PolicyID    string `json:"policyId"`
	AssetName   string `json:"assetName"`
	DisplayName string `json:"displayName"`
	Decimals    int32  `json:"decimals"`
}

// SyncState is how far a wallet has been synced.
type SyncState struct {
	WalletID        int64      `json:"walletId"`
	LastBlockHeight int64      `json:"lastBlockHeight"`
	LastTxTimestamp *time.Time `json:"lastTxTimestamp,omitempty"`
	LastSyncedAt    time.Time  `json:"lastSyncedAt"`
}
