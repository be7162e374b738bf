package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// User holds the aggregate counters the indexer keeps per address.
type User struct {
	Address                string          `json:"address"`
	TotalBetsAmount        decimal.Decimal `json:"totalBetsAmount"`
	TotalBetsCount         int64           `json:"totalBetsCount"`
	TotalFeesCollected     decimal.Decimal `json:"totalFeesCollected"`
	TotalLiquidityProvided decimal.Decimal `json:"totalLiquidityProvided"`
	TotalProviderReward    decimal.Decimal `json:"totalProviderReward"`
	TotalReward            decimal.Decimal `json:"totalReward"`
	TotalWithdrawn         decimal.Decimal `json:"totalWithdrawn"`
}

// RowID implements state.Row.
func (u User) RowID() string { return u.Address }

// Balance is the spendable and locked amount of the active address.
type Balance struct {
	Address      string          `json:"address,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	LockedAmount decimal.Decimal `json:"lockedAmount"`
}

// Network selects which indexer and wallet endpoints are used.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// Valid reports whether n is a supported network.
func (n Network) Valid() bool {
	return n == NetworkMainnet || n == NetworkTestnet
}

// WalletAccount is the connected wallet account.
type WalletAccount struct {
	Address         string `json:"address"`
	Chain           string `json:"chain"`
	PublicKey       string `json:"publicKey"`
	WalletStateInit string `json:"walletStateInit"`
}

// Proof is the signed proof-of-ownership returned by the wallet. The payload
// is kept raw so fields the wallet adds are forwarded untouched.
type Proof struct {
	Timestamp int64           `json:"timestamp"`
	Domain    json.RawMessage `json:"domain"`
	Signature string          `json:"signature"`
	Payload   string          `json:"payload"`
}
