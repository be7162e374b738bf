package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// ArchivedQuote is a quote together with the market symbol it belongs to.
type ArchivedQuote struct {
	Symbol string
	domain.Quote
}

// QuoteStore persists accepted quotes.
type QuoteStore struct {
	pool *pgxpool.Pool
}

// NewQuoteStore creates a new QuoteStore backed by the given connection pool.
func NewQuoteStore(pool *pgxpool.Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

// Prices travel as text so NUMERIC keeps every digit of the decimal.
const quoteSelectCols = `market_id, price::text, ts`

func scanQuoteRows(rows pgx.Rows) ([]domain.Quote, error) {
	var quotes []domain.Quote
	for rows.Next() {
		var (
			q     domain.Quote
			price string
		)
		if err := rows.Scan(&q.MarketID, &price, &q.Timestamp); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		q.Price = p
		q.Timestamp = q.Timestamp.UTC()
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// InsertBatch inserts quotes using a pgx Batch. Quotes already archived for
// the same symbol and timestamp are skipped.
func (s *QuoteStore) InsertBatch(ctx context.Context, quotes []ArchivedQuote) error {
	if len(quotes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO quotes (symbol, market_id, price, ts)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (symbol, ts) DO NOTHING`

	for _, q := range quotes {
		batch.Queue(query, q.Symbol, q.MarketID, q.Price.String(), q.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range quotes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert quote batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns the newest quotes of symbol, newest first.
func (s *QuoteStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.Quote, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("postgres: list quotes: limit %d: %w", limit, domain.ErrInvalidArgument)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+quoteSelectCols+` FROM quotes WHERE symbol = $1 ORDER BY ts DESC LIMIT $2`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list quotes %s: %w", symbol, err)
	}
	defer rows.Close()

	quotes, err := scanQuoteRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan quotes %s: %w", symbol, err)
	}
	return quotes, nil
}

// ListRange returns the quotes of symbol within [from, to], newest first.
func (s *QuoteStore) ListRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Quote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+quoteSelectCols+` FROM quotes WHERE symbol = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts DESC`,
		symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list quote range %s: %w", symbol, err)
	}
	defer rows.Close()

	quotes, err := scanQuoteRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan quotes %s: %w", symbol, err)
	}
	return quotes, nil
}

// LastTimestamp returns the newest archived timestamp of symbol, or the zero
// time if nothing was archived yet.
func (s *QuoteStore) LastTimestamp(ctx context.Context, symbol string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, "SELECT MAX(ts) FROM quotes WHERE symbol = $1", symbol).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last quote timestamp %s: %w", symbol, err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return ts.UTC(), nil
}

// ListBefore returns every archived quote with a timestamp strictly before
// the cutoff, oldest first.
func (s *QuoteStore) ListBefore(ctx context.Context, before time.Time) ([]ArchivedQuote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, `+quoteSelectCols+` FROM quotes WHERE ts < $1 ORDER BY symbol, ts`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list quotes before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []ArchivedQuote
	for rows.Next() {
		var (
			q     ArchivedQuote
			price string
		)
		if err := rows.Scan(&q.Symbol, &q.MarketID, &price, &q.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan archived quote: %w", err)
		}
		if q.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("postgres: parse price %q: %w", price, err)
		}
		q.Timestamp = q.Timestamp.UTC()
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list quotes before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes every quote with a timestamp strictly before the
// cutoff and returns how many rows were deleted.
func (s *QuoteStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM quotes WHERE ts < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete quotes before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
