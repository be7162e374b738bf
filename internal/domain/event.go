package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the lifecycle state of a betting round.
type EventStatus string

const (
	EventStatusNew      EventStatus = "NEW"
	EventStatusStarted  EventStatus = "STARTED"
	EventStatusFinished EventStatus = "FINISHED"
	EventStatusCanceled EventStatus = "CANCELED"
)

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusNew, EventStatusStarted, EventStatusFinished, EventStatusCanceled:
		return true
	}
	return false
}

// PairRef is the short market reference nested in events.
type PairRef struct {
	ID     int64  `json:"id"`
	Symbol string `json:"symbol"`
}

// Event is a single betting round tied to a market.
type Event struct {
	ID                     int64           `json:"id"`
	Status                 EventStatus     `json:"status"`
	CreatorID              string          `json:"creatorId,omitempty"`
	BetsCloseTime          time.Time       `json:"betsCloseTime"`
	CreatedTime            time.Time       `json:"createdTime"`
	MeasurePeriod          int64           `json:"measurePeriod"`
	MeasureOracleStartTime *time.Time      `json:"measureOracleStartTime,omitempty"`
	ClosedOracleTime       *time.Time      `json:"closedOracleTime,omitempty"`
	PoolAboveEq            decimal.Decimal `json:"poolAboveEq"`
	PoolBelow              decimal.Decimal `json:"poolBelow"`
	TotalBetsAmount        decimal.Decimal `json:"totalBetsAmount"`
	TotalLiquidityProvided decimal.Decimal `json:"totalLiquidityProvided"`
	TotalLiquidityShares   decimal.Decimal `json:"totalLiquidityShares"`
	TotalValueLocked       decimal.Decimal `json:"totalValueLocked"`
	LiquidityPercent       decimal.Decimal `json:"liquidityPercent"`
	StartRate              decimal.Decimal `json:"startRate"`
	ClosedRate             decimal.Decimal `json:"closedRate"`
	WinnerBets             string          `json:"winnerBets,omitempty"`
	TargetDynamics         decimal.Decimal `json:"targetDynamics"`
	CurrencyPair           PairRef         `json:"currencyPair"`
	Bets                   []Bet           `json:"bets,omitempty"`
	Deposits               []Deposit       `json:"deposits,omitempty"`
}

// RowID implements state.Row.
func (e Event) RowID() string { return strconv.FormatInt(e.ID, 10) }

// Refresh returns e with the financial fields and nested rows of next. The
// identity, status and timing of e are kept.
func (e Event) Refresh(next Event) Event {
	e.PoolAboveEq = next.PoolAboveEq
	e.PoolBelow = next.PoolBelow
	e.TotalBetsAmount = next.TotalBetsAmount
	e.TotalLiquidityProvided = next.TotalLiquidityProvided
	e.TotalLiquidityShares = next.TotalLiquidityShares
	e.TotalValueLocked = next.TotalValueLocked
	e.LiquidityPercent = next.LiquidityPercent
	e.StartRate = next.StartRate
	e.ClosedRate = next.ClosedRate
	e.WinnerBets = next.WinnerBets
	if next.Bets != nil {
		e.Bets = next.Bets
	}
	if next.Deposits != nil {
		e.Deposits = next.Deposits
	}
	return e
}

// BetSide is the direction of a bet relative to the start rate.
type BetSide string

const (
	BetSideAboveEq BetSide = "ABOVE_EQ"
	BetSideBelow   BetSide = "BELOW"
)

// Bet is a single stake placed on an event.
type Bet struct {
	ID          int64           `json:"id"`
	EventID     int64           `json:"eventId"`
	UserID      string          `json:"userId"`
	Side        BetSide         `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	Reward      decimal.Decimal `json:"reward"`
	CreatedTime time.Time       `json:"createdTime"`
	OpgHash     string          `json:"opgHash"`
}

// Deposit is liquidity provided to an event.
type Deposit struct {
	ID            int64           `json:"id"`
	EventID       int64           `json:"eventId"`
	UserID        string          `json:"userId"`
	AmountAboveEq decimal.Decimal `json:"amountAboveEq"`
	AmountBelow   decimal.Decimal `json:"amountBelow"`
	Shares        decimal.Decimal `json:"shares"`
	CreatedTime   time.Time       `json:"createdTime"`
	OpgHash       string          `json:"opgHash"`
}
