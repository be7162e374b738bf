package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/store/postgres"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	// Payloads above this size go through the multipart uploader.
	multipartThreshold = 16 * 1024 * 1024
)

// QuoteSource is the slice of the postgres quote store the archiver needs.
type QuoteSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]postgres.ArchivedQuote, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter uploads objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// BlobChecker tells whether an object was already uploaded.
type BlobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Locker serialises archive runs across instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ArchiverOptions configures a QuoteArchiver.
type ArchiverOptions struct {
	Network   domain.Network
	Retention time.Duration
	Interval  time.Duration
	// Prune deletes the uploaded quotes from postgres.
	Prune bool
}

// QuoteArchiver uploads quotes older than the retention window as JSONL
// objects, one per symbol and UTC day:
//
//	archive/testnet/quotes/BTC-USD/2024-05-01/1714521600-1714607999.jsonl
//
// Objects that already exist are not uploaded again, so a run interrupted
// before pruning is safe to repeat.
type QuoteArchiver struct {
	quotes  QuoteSource
	writer  BlobWriter
	checker BlobChecker
	locker  Locker
	opts    ArchiverOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates a QuoteArchiver. locker and m may be nil.
func NewArchiver(quotes QuoteSource, writer BlobWriter, checker BlobChecker, locker Locker, opts ArchiverOptions, m *metrics.Metrics, logger *slog.Logger) *QuoteArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuoteArchiver{
		quotes:  quotes,
		writer:  writer,
		checker: checker,
		locker:  locker,
		opts:    opts,
		metrics: m,
		logger:  logger.With(slog.String("component", "quote_archiver")),
		now:     time.Now,
	}
}

// Run archives once immediately and then every Interval until ctx is done.
// Failed runs are logged and retried on the next tick.
func (a *QuoteArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		a.runOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *QuoteArchiver) runOnce(ctx context.Context) {
	if a.locker != nil {
		unlock, err := a.locker.Acquire(ctx, "quote-archive", a.opts.Interval)
		if err != nil {
			a.logger.DebugContext(ctx, "archive run skipped", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	cutoff := a.now().UTC().Add(-a.opts.Retention)
	n, err := a.ArchiveQuotes(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive quotes failed",
			slog.Time("before", cutoff),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "quotes archived",
			slog.Time("before", cutoff),
			slog.Int64("count", n),
		)
	}
}

// ArchiveQuotes uploads every quote older than before and, with Prune set,
// removes them from postgres once all uploads succeeded. It returns the
// number of quotes uploaded or found already uploaded.
func (a *QuoteArchiver) ArchiveQuotes(ctx context.Context, before time.Time) (int64, error) {
	quotes, err := a.quotes.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive quotes query: %w", err)
	}
	if len(quotes) == 0 {
		return 0, nil
	}

	var count int64
	for _, chunk := range chunkByDay(quotes) {
		path := archivePath(a.opts.Network, chunk)

		exists, err := a.checker.Exists(ctx, path)
		if err != nil {
			return count, err
		}
		if !exists {
			buf, err := marshalJSONL(chunk)
			if err != nil {
				return count, fmt.Errorf("s3blob: archive quotes marshal: %w", err)
			}
			if err := a.upload(ctx, path, buf); err != nil {
				return count, fmt.Errorf("s3blob: archive quotes upload: %w", err)
			}
			if a.metrics != nil {
				a.metrics.QuotesUploaded.Add(float64(len(chunk)))
			}
		}
		count += int64(len(chunk))
	}

	if a.opts.Prune {
		deleted, err := a.quotes.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive quotes prune: %w", err)
		}
		a.logger.DebugContext(ctx, "archived quotes pruned", slog.Int64("deleted", deleted))
	}
	return count, nil
}

func (a *QuoteArchiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), contentTypeJSONL, minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
}

// chunkByDay splits quotes, sorted by symbol then timestamp, into runs that
// share a symbol and a UTC day.
func chunkByDay(quotes []postgres.ArchivedQuote) [][]postgres.ArchivedQuote {
	var (
		out   [][]postgres.ArchivedQuote
		start int
	)
	for i := 1; i <= len(quotes); i++ {
		if i == len(quotes) || !sameDay(quotes[start], quotes[i]) {
			out = append(out, quotes[start:i])
			start = i
		}
	}
	return out
}

func sameDay(a, b postgres.ArchivedQuote) bool {
	return a.Symbol == b.Symbol &&
		a.Timestamp.UTC().Format(time.DateOnly) == b.Timestamp.UTC().Format(time.DateOnly)
}

// archivePath builds the object key of one chunk. The first and last
// timestamps make the key stable for the same rows.
func archivePath(network domain.Network, chunk []postgres.ArchivedQuote) string {
	first, last := chunk[0], chunk[len(chunk)-1]
	return fmt.Sprintf("archive/%s/quotes/%s/%s/%d-%d.jsonl",
		network, first.Symbol, first.Timestamp.UTC().Format(time.DateOnly),
		first.Timestamp.Unix(), last.Timestamp.Unix())
}

type quoteLine struct {
	Symbol string `json:"symbol"`
	domain.Quote
}

// marshalJSONL writes one compact JSON object per quote, newline-terminated.
func marshalJSONL(quotes []postgres.ArchivedQuote) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, q := range quotes {
		if err := enc.Encode(quoteLine{Symbol: q.Symbol, Quote: q.Quote}); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
