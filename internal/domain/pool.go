package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool is a liquidity pool that provides to events automatically.
type Pool struct {
	Address         string `json:"address"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	IsDepositPaused bool   `json:"isDepositPaused"`
	EntryLockPeriod int64  `json:"entryLockPeriod"`
}

// PoolLine is a recurring event template a pool creates events from.
type PoolLine struct {
	ID                int64           `json:"id"`
	PoolID            string          `json:"poolId"`
	CurrencyPairID    int64           `json:"currencyPairId"`
	MeasurePeriod     int64           `json:"measurePeriod"`
	BetsCloseTimeStep int64           `json:"betsCloseTimeStep"`
	MaxEvents         int64           `json:"maxEvents"`
	TargetDynamics    decimal.Decimal `json:"targetDynamics"`
	LiquidityPercent  decimal.Decimal `json:"liquidityPercent"`
	IsDisabled        bool            `json:"isDisabled"`
}

// PoolState is one snapshot of a pool's liquidity after an action.
type PoolState struct {
	ID                    int64           `json:"id"`
	PoolID                string          `json:"poolId"`
	Level                 int64           `json:"level"`
	Counter               int64           `json:"counter"`
	Action                string          `json:"action"`
	ActiveLiquidity       decimal.Decimal `json:"activeLiquidity"`
	EntryLiquidity        decimal.Decimal `json:"entryLiquidity"`
	WithdrawableLiquidity decimal.Decimal `json:"withdrawableLiquidity"`
	TotalLiquidity        decimal.Decimal `json:"totalLiquidity"`
	TotalShares           decimal.Decimal `json:"totalShares"`
	SharePrice            decimal.Decimal `json:"sharePrice"`
	Timestamp             time.Time       `json:"timestamp"`
	OpgHash               string          `json:"opgHash"`
}
