package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/prefs"
	"github.com/alanyoungcy/justersync/internal/state"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}

func TestHashKV(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	kv := NewHashKV(c)

	_, ok, err := kv.Get(ctx, "activeNetwork")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "activeNetwork", "mainnet"))
	v, ok, err := kv.Get(ctx, "activeNetwork")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mainnet", v)
	assert.Equal(t, "mainnet", mr.HGet("test:prefs", "activeNetwork"))

	require.NoError(t, kv.Delete(ctx, "activeNetwork"))
	_, ok, err = kv.Get(ctx, "activeNetwork")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashKVBacksPrefs(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	mr.HSet("test:prefs", prefs.KeyActiveNetwork, "devnet")

	p := prefs.New(NewHashKV(c), nil)
	n, err := p.Network(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkTestnet, n)
	assert.Equal(t, "testnet", mr.HGet("test:prefs", prefs.KeyActiveNetwork))
}

func TestSignalBusPatternSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)

	ch, err := bus.Subscribe(ctx, "test:state:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "test:state:markets", []byte("a")))
	require.NoError(t, bus.Publish(ctx, "test:other", []byte("b")))
	require.NoError(t, bus.Publish(ctx, "test:state:balance", []byte("c")))

	assert.Equal(t, []byte("a"), receive(t, ch))
	assert.Equal(t, []byte("c"), receive(t, ch))

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)

	msgs, err := bus.StreamRead(ctx, "test:s", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	first, err := bus.StreamAppend(ctx, "test:s", []byte("one"))
	require.NoError(t, err)
	_, err = bus.StreamAppend(ctx, "test:s", []byte("two"))
	require.NoError(t, err)

	msgs, err = bus.StreamRead(ctx, "test:s", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first, msgs[0].ID)

	msgs, err = bus.StreamRead(ctx, "test:s", first, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("two"), msgs[0].Payload)
}

func TestBridgeForwardsChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	store := state.New()
	bridge := NewBridge(c, bus, store, nil)

	sub, err := bus.Subscribe(ctx, ChangeChannel(c, ""))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	markets := state.NewMarkets(store)
	require.Eventually(t, func() bool {
		markets.SetMarket(domain.Market{ID: 1, Symbol: "BTC-USD"})
		select {
		case raw := <-sub:
			var ev ChangeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return false
			}
			return ev.Key == string(state.KeyMarkets)
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		entries, err := bridge.Journal(ctx, "0", 100)
		return err == nil && len(entries) > 0 && entries[0].Key == string(state.KeyMarkets)
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestBridgeKeepsChangesMadeBeforeRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	store := state.New()
	bridge := NewBridge(c, bus, store, nil)

	state.NewMarkets(store).SetMarket(domain.Market{ID: 1, Symbol: "BTC-USD"})

	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	require.Eventually(t, func() bool {
		entries, err := bridge.Journal(ctx, "0", 100)
		return err == nil && len(entries) > 0 && entries[0].Key == string(state.KeyMarkets)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestQuoteCache(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	qc := NewQuoteCache(c, nil)

	_, err := qc.LatestQuote(ctx, "BTC-USD")
	require.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	qc.RecordQuote("BTC-USD", domain.Quote{MarketID: 2, Price: decimal.RequireFromString("64123.456789"), Timestamp: ts})
	qc.Flush(ctx)

	q, err := qc.LatestQuote(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, int64(2), q.MarketID)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("64123.456789")))
	assert.True(t, q.Timestamp.Equal(ts))

	all, err := qc.LatestQuotes(ctx, []string{"BTC-USD", "ETH-USD"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "BTC-USD")
}

func TestQuoteCacheRecordDoesNotWaitForRedis(t *testing.T) {
	c, mr := newTestClient(t)
	qc := NewQuoteCache(c, nil)
	mr.SetError("LOADING server is busy")

	start := time.Now()
	for i := 0; i < 1000; i++ {
		qc.RecordQuote("BTC-USD", domain.Quote{MarketID: 2, Price: decimal.NewFromInt(int64(i)), Timestamp: time.Unix(int64(i), 0)})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	mr.SetError("")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- qc.Run(ctx) }()

	require.Eventually(t, func() bool {
		q, err := qc.LatestQuote(context.Background(), "BTC-USD")
		return err == nil && q.Price.Equal(decimal.NewFromInt(999))
	}, 2*time.Second, 10*time.Millisecond)

	qc.RecordQuote("ETH-USD", domain.Quote{MarketID: 3, Price: decimal.NewFromInt(7), Timestamp: time.Unix(5, 0)})
	cancel()
	require.NoError(t, <-done)
	q, err := qc.LatestQuote(context.Background(), "ETH-USD")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(7)))
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	base := time.Now()
	step := 0
	rl.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "auth:1.2.3.4", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "auth:1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "auth:5.6.7.8", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "migrate", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "migrate", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.AcquireWait(ctx, "migrate", time.Minute, 10*time.Millisecond)
	require.NoError(t, err)
	unlock2()
}

func TestLockManagerWaitCancelled(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	unlock, err := lm.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = lm.AcquireWait(ctx, "k", time.Minute, 5*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}
