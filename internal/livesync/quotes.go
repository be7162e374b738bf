package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/state"
)

// QuoteSink receives every quote accepted into a market's history. It is
// called from the subscription delivery path outside any view lock and
// should not block.
type QuoteSink interface {
	RecordQuote(symbol string, q domain.Quote)
}

// MarketQuotes keeps the newest-first quote history of one market. Pushes
// carry the latest quote; one that is not newer than the head is discarded.
type MarketQuotes struct {
	*lifecycle
	gw      Gateway
	markets *state.Markets
	market  domain.Market
	sink    QuoteSink
	now     func() time.Time

	limit  int
	window time.Duration
}

func newMarketQuotes(gw Gateway, markets *state.Markets, market domain.Market, opts Options, m *metrics.Metrics, logger *slog.Logger) *MarketQuotes {
	return &MarketQuotes{
		lifecycle: newLifecycle("quotes", m, logger.With(slog.String("market", market.Symbol))),
		gw:        gw,
		markets:   markets,
		market:    market,
		sink:      opts.QuoteSink,
		now:       opts.Now,
		limit:     opts.QuoteHistory,
		window:    opts.HistoryWindow,
	}
}

// historyAt is the start of the UTC day one window ago.
func historyAt(now time.Time, window time.Duration) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	return day.Add(-window)
}

// Start seeds the history and the reference price, then follows the latest
// quote.
func (v *MarketQuotes) Start(ctx context.Context) error {
	gen := v.begin()
	symbol := v.market.Symbol

	quotes, err := v.gw.QuotesByMarket(ctx, v.market.ID, v.limit, 0)
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: quotes %s: %w", symbol, err)
	}
	ref, ok, err := v.gw.QuoteAt(ctx, v.market.ID, historyAt(v.now(), v.window))
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: history price %s: %w", symbol, err)
	}
	v.seed(gen, func() {
		v.markets.SetQuotes(symbol, quotes)
		if ok {
			v.markets.SetHistoryPrice(symbol, ref.Price)
		}
	})

	sub, err := v.gw.SubscribeLatestQuote(ctx, v.market.ID, func(quotes []domain.Quote) {
		for _, q := range quotes {
			accepted := v.merge(gen, func() bool {
				return v.markets.UpdateQuote(symbol, q)
			})
			if accepted && v.sink != nil {
				v.sink.RecordQuote(symbol, q)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("livesync: quotes %s: %w", symbol, err)
	}
	v.attach(gen, sub)
	return nil
}
