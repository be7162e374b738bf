package postgres

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/metrics"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/juster?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "juster", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p@db:6543/juster?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "juster", User: "u", Password: "p", SSLMode: "require"}))
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_quotes.sql", names[0])

	body, err := fs.ReadFile(migrationsFS, "migrations/"+names[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "PRIMARY KEY (symbol, ts)")
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]ArchivedQuote
	err     error
}

func (f *fakeWriter) InsertBatch(_ context.Context, quotes []ArchivedQuote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]ArchivedQuote(nil), quotes...))
	return f.err
}

func (f *fakeWriter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func quote(sec int64) domain.Quote {
	return domain.Quote{MarketID: 1, Price: decimal.NewFromInt(sec), Timestamp: time.Unix(sec, 0).UTC()}
}

func TestRecorderFlushesFullBatches(t *testing.T) {
	w := &fakeWriter{}
	m := metrics.New()
	r := NewRecorder(w, RecorderOptions{BatchSize: 2, FlushInterval: time.Hour}, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.RecordQuote("BTC-USD", quote(100))
	r.RecordQuote("BTC-USD", quote(101))
	require.Eventually(t, func() bool { return w.total() == 2 }, time.Second, 5*time.Millisecond)

	r.RecordQuote("ETH-USD", quote(102))
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, w.total())
	assert.Equal(t, "ETH-USD", w.batches[1][0].Symbol)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.QuotesArchived))
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, RecorderOptions{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	r.RecordQuote("BTC-USD", quote(100))
	require.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorderFailedWriteNotCounted(t *testing.T) {
	w := &fakeWriter{err: errors.New("db down")}
	m := metrics.New()
	r := NewRecorder(w, RecorderOptions{BatchSize: 1, FlushInterval: time.Hour}, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.RecordQuote("BTC-USD", quote(100))
	require.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.QuotesArchived))
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := NewRecorder(&fakeWriter{}, RecorderOptions{Buffer: 1}, nil, nil)
	r.RecordQuote("BTC-USD", quote(100))
	r.RecordQuote("BTC-USD", quote(101))
	assert.Len(t, r.queue, 1)
}
