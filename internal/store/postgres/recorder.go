package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/metrics"
)

// QuoteWriter is the write half of QuoteStore.
type QuoteWriter interface {
	InsertBatch(ctx context.Context, quotes []ArchivedQuote) error
}

// RecorderOptions tunes batching. Zero values fall back to defaults.
type RecorderOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	Buffer        int
}

// Recorder batches quotes accepted by the live quote views and writes them
// to the archive. RecordQuote never blocks; quotes arriving while the buffer
// is full are dropped.
type Recorder struct {
	writer  QuoteWriter
	opts    RecorderOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
	queue   chan ArchivedQuote
}

// NewRecorder creates a Recorder writing through w. m may be nil.
func NewRecorder(w QuoteWriter, opts RecorderOptions, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		writer:  w,
		opts:    opts,
		metrics: m,
		logger:  logger.With(slog.String("component", "quote-recorder")),
		queue:   make(chan ArchivedQuote, opts.Buffer),
	}
}

// RecordQuote implements livesync.QuoteSink.
func (r *Recorder) RecordQuote(symbol string, q domain.Quote) {
	select {
	case r.queue <- ArchivedQuote{Symbol: symbol, Quote: q}:
	default:
		r.logger.Warn("archive queue full, dropping quote", slog.String("symbol", symbol))
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]ArchivedQuote, 0, r.opts.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.writer.InsertBatch(ctx, batch); err != nil {
			r.logger.Error("archive quotes",
				slog.Int("count", len(batch)),
				slog.String("error", err.Error()),
			)
		} else if r.metrics != nil {
			r.metrics.QuotesArchived.Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case q := <-r.queue:
					batch = append(batch, q)
				default:
					break drain
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			flush(shutdownCtx)
			cancel()
			return nil
		case q := <-r.queue:
			batch = append(batch, q)
			if len(batch) >= r.opts.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
