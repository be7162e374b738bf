package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/justersync/internal/domain"
)

const quoteWriteTimeout = 2 * time.Second

// QuoteCache keeps the latest accepted quote of every market in a hash at
// "quote:{symbol}" with fields "market", "price" and "ts" (Unix nanoseconds).
// RecordQuote only stages the quote; Run writes staged quotes, keeping the
// newest per market when writes fall behind.
type QuoteCache struct {
	c      *Client
	rdb    *redis.Client
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.Quote
	wake    chan struct{}
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client, logger *slog.Logger) *QuoteCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuoteCache{
		c:       c,
		rdb:     c.Underlying(),
		logger:  logger.With(slog.String("component", "quote-cache")),
		pending: make(map[string]domain.Quote),
		wake:    make(chan struct{}, 1),
	}
}

func (qc *QuoteCache) quoteKey(symbol string) string {
	return qc.c.Key("quote:" + symbol)
}

func quoteFields(q domain.Quote) map[string]interface{} {
	return map[string]interface{}{
		"market": strconv.FormatInt(q.MarketID, 10),
		"price":  q.Price.String(),
		"ts":     strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
}

// RecordQuote implements livesync.QuoteSink. It never blocks.
func (qc *QuoteCache) RecordQuote(symbol string, q domain.Quote) {
	qc.mu.Lock()
	qc.pending[symbol] = q
	qc.mu.Unlock()
	select {
	case qc.wake <- struct{}{}:
	default:
	}
}

// Run writes staged quotes until ctx is cancelled, then writes what is left.
func (qc *QuoteCache) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), quoteWriteTimeout)
			qc.Flush(shutdownCtx)
			cancel()
			return nil
		case <-qc.wake:
			writeCtx, cancel := context.WithTimeout(ctx, quoteWriteTimeout)
			qc.Flush(writeCtx)
			cancel()
		}
	}
}

// Flush writes every staged quote in one pipeline. Quotes that fail to
// write are dropped after logging; a newer push stages them again.
func (qc *QuoteCache) Flush(ctx context.Context) {
	qc.mu.Lock()
	staged := qc.pending
	qc.pending = make(map[string]domain.Quote, len(staged))
	qc.mu.Unlock()
	if len(staged) == 0 {
		return
	}

	pipe := qc.rdb.Pipeline()
	for symbol, q := range staged {
		pipe.HSet(ctx, qc.quoteKey(symbol), quoteFields(q))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		qc.logger.Warn("cache quotes",
			slog.Int("count", len(staged)),
			slog.String("error", err.Error()),
		)
	}
}

// LatestQuote returns the latest quote of symbol. It returns
// domain.ErrNotFound when none was recorded.
func (qc *QuoteCache) LatestQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, qc.quoteKey(symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	return parseQuote(symbol, vals)
}

// LatestQuotes fetches the latest quotes of several markets in one pipeline.
// Markets without a cached quote are omitted.
func (qc *QuoteCache) LatestQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, qc.quoteKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	out := make(map[string]domain.Quote, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(s, vals)
		if err != nil {
			continue
		}
		out[s] = q
	}
	return out, nil
}

func parseQuote(symbol string, vals map[string]string) (domain.Quote, error) {
	market, err := strconv.ParseInt(vals["market"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse market %s: %w", symbol, err)
	}
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}
	return domain.Quote{MarketID: market, Price: price, Timestamp: time.Unix(0, ts).UTC()}, nil
}
