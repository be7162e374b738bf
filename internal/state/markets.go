package state

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// Markets is the typed facade over market, quote and event views.
type Markets struct {
	s *Store
}

// NewMarkets returns the market facade of s.
func NewMarkets(s *Store) *Markets {
	return &Markets{s: s}
}

// SetMarket inserts m or replaces the market with the same symbol.
func (m *Markets) SetMarket(market domain.Market) {
	found := m.s.UpdateByID(KeyMarkets, market.RowID(), func(Row) (Row, bool) {
		return market, true
	})
	if !found {
		m.s.AppendUnique(KeyMarkets, market)
	}
}

// Market returns the market with the given symbol.
func (m *Markets) Market(symbol string) (domain.Market, bool) {
	for _, mk := range Rows[domain.Market](m.s, KeyMarkets) {
		if mk.Symbol == symbol {
			return mk, true
		}
	}
	return domain.Market{}, false
}

// Markets returns every loaded market.
func (m *Markets) Markets() []domain.Market {
	return Rows[domain.Market](m.s, KeyMarkets)
}

// MarkLoaded records that the initial market list has been seeded.
func (m *Markets) MarkLoaded() {
	m.s.PatchScalar(KeyMarketsMeta, map[string]any{"loaded": true})
}

// Loaded reports whether MarkLoaded has been called.
func (m *Markets) Loaded() bool {
	loaded, _ := m.s.Scalar(KeyMarketsMeta)["loaded"].(bool)
	return loaded
}

// SetQuotes replaces the quote history of a market. quotes must be
// newest-first.
func (m *Markets) SetQuotes(symbol string, quotes []domain.Quote) {
	m.s.SetCollection(QuotesKey(symbol), AsRows(quotes))
}

// Quotes returns the newest-first quote history of a market.
func (m *Markets) Quotes(symbol string) []domain.Quote {
	return Rows[domain.Quote](m.s, QuotesKey(symbol))
}

// ClearQuotes empties the quote history of every loaded market.
func (m *Markets) ClearQuotes() {
	for _, mk := range m.Markets() {
		m.s.SetCollection(QuotesKey(mk.Symbol), nil)
	}
}

// UpdateQuote prepends q when it is newer than the current head. A quote
// whose timestamp does not exceed the head's is a duplicate or out of order
// delivery and is discarded. It reports whether q was accepted.
func (m *Markets) UpdateQuote(symbol string, q domain.Quote) bool {
	return m.s.PrependIf(QuotesKey(symbol), q, func(head Row, ok bool) bool {
		if !ok {
			return true
		}
		newest, isQuote := head.(domain.Quote)
		return !isQuote || q.Timestamp.After(newest.Timestamp)
	})
}

// SetHistoryPrice records the reference price used for the weekly change.
func (m *Markets) SetHistoryPrice(symbol string, price decimal.Decimal) {
	m.s.PatchScalar(MarketKey(symbol), map[string]any{
		"historyPrice": price,
		"historyAt":    time.Now().UTC(),
	})
}

// HistoryPrice returns the reference price of a market, zero when unknown.
func (m *Markets) HistoryPrice(symbol string) decimal.Decimal {
	p, _ := m.s.Scalar(MarketKey(symbol))["historyPrice"].(decimal.Decimal)
	return p
}

// SetEvents replaces an events view.
func (m *Markets) SetEvents(key Key, events []domain.Event) {
	m.s.SetCollection(key, AsRows(events))
}

// Events returns an events view.
func (m *Markets) Events(key Key) []domain.Event {
	return Rows[domain.Event](m.s, key)
}

// UpdateEvent applies a pushed event row to an events projection. When the
// status changed the event left the projection and is removed; otherwise its
// financial fields are refreshed in place. Events not in the projection are
// ignored, so a removed event is never re-inserted by an update.
func (m *Markets) UpdateEvent(key Key, next domain.Event) bool {
	return m.s.UpdateByID(key, next.RowID(), func(old Row) (Row, bool) {
		prev, ok := old.(domain.Event)
		if !ok {
			return next, true
		}
		if prev.Status != next.Status {
			return nil, false
		}
		return prev.Refresh(next), true
	})
}
