package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a user's stake in one event.
type Position struct {
	ID                       int64           `json:"id"`
	UserID                   string          `json:"userId"`
	EventID                  int64           `json:"eventId"`
	Value                    decimal.Decimal `json:"value"`
	Withdrawn                bool            `json:"withdrawn"`
	RewardAboveEq            decimal.Decimal `json:"rewardAboveEq"`
	RewardBelow              decimal.Decimal `json:"rewardBelow"`
	ProvidedLiquidityAboveEq decimal.Decimal `json:"providedLiquidityAboveEq"`
	ProvidedLiquidityBelow   decimal.Decimal `json:"providedLiquidityBelow"`
	LiquidityProvided        decimal.Decimal `json:"liquidityProvided"`
	Event                    *Event          `json:"event,omitempty"`
}

// RowID implements state.Row.
func (p Position) RowID() string { return strconv.FormatInt(p.ID, 10) }

// Withdrawable reports whether the position belongs in the "for withdrawal"
// projection: not withdrawn, non-zero and its event finished.
func (p Position) Withdrawable() bool {
	if p.Withdrawn || p.Value.IsZero() {
		return false
	}
	return p.Event == nil || p.Event.Status == EventStatusFinished
}

// WithdrawalEventRef is the short event reference nested in withdrawals.
type WithdrawalEventRef struct {
	ID               int64      `json:"id"`
	ClosedOracleTime *time.Time `json:"closedOracleTime,omitempty"`
}

// Withdrawal records funds moved out for a position.
type Withdrawal struct {
	ID             int64              `json:"id"`
	UserID         string             `json:"userId"`
	Amount         decimal.Decimal    `json:"amount"`
	Type           string             `json:"type"`
	FeeCollectorID string             `json:"feeCollectorId,omitempty"`
	OpgHash        string             `json:"opgHash"`
	CreatedTime    time.Time          `json:"createdTime"`
	Event          WithdrawalEventRef `json:"event"`
}

// RowID implements state.Row.
func (w Withdrawal) RowID() string { return strconv.FormatInt(w.ID, 10) }
