package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Market is a currency pair events are created on, e.g. "BTC-USD".
type Market struct {
	ID               int64           `json:"id"`
	Symbol           string          `json:"symbol"`
	TotalEvents      int64           `json:"totalEvents"`
	TotalVolume      decimal.Decimal `json:"totalVolume"`
	TotalValueLocked decimal.Decimal `json:"totalValueLocked"`

	// Display metadata joined from the supported markets table.
	Target      string `json:"target,omitempty"`
	Description string `json:"description,omitempty"`
}

// RowID implements state.Row.
func (m Market) RowID() string { return m.Symbol }

// Quote is a single weighted moving average price point for a market.
type Quote struct {
	MarketID  int64           `json:"currencyPairId"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// RowID implements state.Row. Quotes of one market are identified by their
// timestamp.
func (q Quote) RowID() string { return strconv.FormatInt(q.Timestamp.UnixNano(), 10) }

// TVLPoint is one cumulative total-value-locked sample of an event.
type TVLPoint struct {
	EventID     int64           `json:"eventId"`
	CumSum      decimal.Decimal `json:"cumSum"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedTime time.Time       `json:"createdTime"`
}
