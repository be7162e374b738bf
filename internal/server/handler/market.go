package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// MarketState is the market projection the handler reads.
type MarketState interface {
	Markets() []domain.Market
	Market(symbol string) (domain.Market, bool)
	Quotes(symbol string) []domain.Quote
	HistoryPrice(symbol string) decimal.Decimal
	Loaded() bool
}

// LatestQuotes serves the latest accepted quote per market.
type LatestQuotes interface {
	LatestQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// MarketHandler serves market and quote endpoints.
type MarketHandler struct {
	markets MarketState
	latest  LatestQuotes
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. latest may be nil.
func NewMarketHandler(markets MarketState, latest LatestQuotes, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		latest:  latest,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Loaded  bool            `json:"loaded"`
}

// ListMarkets returns the supported markets.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: h.markets.Markets(),
		Loaded:  h.markets.Loaded(),
	})
}

type marketResponse struct {
	domain.Market
	HistoryPrice decimal.Decimal `json:"historyPrice"`
	LatestQuote  *domain.Quote   `json:"latestQuote,omitempty"`
}

// GetMarket returns one market with its reference price and latest quote.
// GET /api/markets/{symbol}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	market, ok := h.markets.Market(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}

	resp := marketResponse{Market: market, HistoryPrice: h.markets.HistoryPrice(symbol)}
	if quotes := h.markets.Quotes(symbol); len(quotes) > 0 {
		resp.LatestQuote = &quotes[0]
	} else if h.latest != nil {
		q, err := h.latest.LatestQuote(r.Context(), symbol)
		switch {
		case err == nil:
			resp.LatestQuote = &q
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.WarnContext(r.Context(), "handler: latest quote failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListQuotes returns the live quote history of a market, newest first.
// GET /api/markets/{symbol}/quotes?limit=100
func (h *MarketHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if _, ok := h.markets.Market(symbol); !ok {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	quotes := h.markets.Quotes(symbol)
	if limit := parseLimit(r, len(quotes), 1000); limit < len(quotes) {
		quotes = quotes[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "quotes": quotes})
}
