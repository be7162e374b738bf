package livesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/livesync"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/state"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc = domain.Market{ID: 1, Symbol: "BTC-USD"}

func quote(ts int64, price int64) domain.Quote {
	return domain.Quote{MarketID: btc.ID, Price: decimal.NewFromInt(price), Timestamp: time.Unix(ts, 0).UTC()}
}

func newSyncer(t *testing.T, gw *fakeGateway, opts livesync.Options) (*livesync.Syncer, *state.Store, *metrics.Metrics) {
	t.Helper()
	store := state.New()
	m := metrics.New()
	s := livesync.NewSyncer(gw, store, opts, m, nil)
	t.Cleanup(s.Close)
	return s, store, m
}

func TestMarketQuotes_MergeScenario(t *testing.T) {
	gw := newFakeGateway()
	gw.markets = []domain.Market{btc, {ID: 9, Symbol: "DOGE-USD"}}
	gw.quotes[btc.ID] = []domain.Quote{quote(100, 5)}
	sink := &recordingSink{}
	s, _, m := newSyncer(t, gw, livesync.Options{QuoteSink: sink})

	require.NoError(t, s.SetupMarkets(context.Background()))

	markets := s.Markets().Markets()
	require.Len(t, markets, 1)
	assert.Equal(t, "Bitcoin", markets[0].Target)
	assert.Equal(t, "Bitcoin / U.S. Dollar", markets[0].Description)

	push := gw.onQuote[btc.ID][0]
	push([]domain.Quote{quote(100, 6)})
	assert.Equal(t, []domain.Quote{quote(100, 5)}, s.Markets().Quotes("BTC-USD"))

	push([]domain.Quote{quote(101, 7)})
	assert.Equal(t, []domain.Quote{quote(101, 7), quote(100, 5)}, s.Markets().Quotes("BTC-USD"))

	require.Len(t, sink.quotes, 1)
	assert.Equal(t, quote(101, 7), sink.quotes[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushesApplied.WithLabelValues("quotes")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushesDropped.WithLabelValues("quotes")))
}

func TestMarketQuotes_SlowSinkDoesNotHoldView(t *testing.T) {
	gw := newFakeGateway()
	gw.markets = []domain.Market{btc}
	gw.quotes[btc.ID] = []domain.Quote{quote(100, 5)}
	sink := newBlockingSink()
	s, _, _ := newSyncer(t, gw, livesync.Options{QuoteSink: sink})
	require.NoError(t, s.SetupMarkets(context.Background()))
	view, ok := s.QuoteView("BTC-USD")
	require.True(t, ok)

	push := gw.onQuote[btc.ID][0]
	go push([]domain.Quote{quote(101, 7)})
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("sink never received the quote")
	}
	assert.Equal(t, quote(101, 7), s.Markets().Quotes("BTC-USD")[0])

	stopped := make(chan struct{})
	go func() {
		view.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for the quote sink")
	}
	assert.False(t, view.Active())
	close(sink.release)
}

func TestMarketQuotes_NewestFirstProperty(t *testing.T) {
	gw := newFakeGateway()
	gw.markets = []domain.Market{btc}
	s, _, _ := newSyncer(t, gw, livesync.Options{})
	require.NoError(t, s.SetupMarkets(context.Background()))

	push := gw.onQuote[btc.ID][0]
	for _, ts := range []int64{5, 3, 5, 8, 8, 7, 12, 1, 12, 13} {
		push([]domain.Quote{quote(ts, ts)})
	}

	quotes := s.Markets().Quotes("BTC-USD")
	require.NotEmpty(t, quotes)
	for i := 1; i < len(quotes); i++ {
		assert.True(t, quotes[i-1].Timestamp.After(quotes[i].Timestamp), "quotes must be strictly newest-first")
	}
	assert.Equal(t, []domain.Quote{quote(13, 13), quote(12, 12), quote(8, 8), quote(5, 5)}, quotes)
}

func TestMarketQuotes_HistoryPrice(t *testing.T) {
	gw := newFakeGateway()
	gw.markets = []domain.Market{btc}
	gw.history[btc.ID] = quote(0, 60000)
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	s, _, _ := newSyncer(t, gw, livesync.Options{Now: func() time.Time { return now }})

	require.NoError(t, s.SetupMarkets(context.Background()))

	require.Len(t, gw.historyAt, 1)
	assert.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), gw.historyAt[0])
	assert.True(t, decimal.NewFromInt(60000).Equal(s.Markets().HistoryPrice("BTC-USD")))
}

func TestSetupMarkets_LoadsOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.markets = []domain.Market{btc}
	s, _, _ := newSyncer(t, gw, livesync.Options{})

	require.NoError(t, s.SetupMarkets(context.Background()))
	gw.markets = []domain.Market{btc, {ID: 2, Symbol: "ETH-USD"}}
	require.NoError(t, s.SetupMarkets(context.Background()))

	assert.Len(t, s.Markets().Markets(), 1)
	require.Len(t, gw.subs, 2)
	assert.Equal(t, 1, gw.subs[0].unsubscribed(), "restart must release the previous subscription")
}

func TestSetupMarkets_LookupsDoNotWaitForFetches(t *testing.T) {
	gw := newFakeGateway()
	gw.markets = []domain.Market{btc}
	gate := make(chan struct{})
	gw.quotesGate = gate
	s, _, _ := newSyncer(t, gw, livesync.Options{})

	done := make(chan error, 1)
	go func() { done <- s.SetupMarkets(context.Background()) }()

	require.Eventually(t, func() bool {
		_, ok := s.QuoteView("BTC-USD")
		return ok
	}, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("SetupMarkets returned before the quote fetch was released")
	default:
	}

	close(gate)
	require.NoError(t, <-done)
}

func TestPositionsForWithdrawal_Merges(t *testing.T) {
	gw := newFakeGateway()
	gw.withdrawable = []domain.Position{{ID: 1, Value: decimal.NewFromInt(3)}, {ID: 2, Value: decimal.NewFromInt(4)}}
	s, _, _ := newSyncer(t, gw, livesync.Options{})

	require.NoError(t, s.Positions.Start(context.Background(), "tz1"))
	assert.False(t, s.Account().PositionsLoading())

	added := gw.onWithdrawable[0]
	withdrawn := gw.onWithdrawn[0]

	added([]domain.Position{{ID: 2, Value: decimal.NewFromInt(4)}, {ID: 3, Value: decimal.NewFromInt(1)}})
	added([]domain.Position{{ID: 3, Value: decimal.NewFromInt(1)}})
	assert.Equal(t, []int64{1, 2, 3}, positionIDs(s.Account().PositionsForWithdrawal()))

	withdrawn([]domain.Position{{ID: 42}})
	assert.Equal(t, []int64{1, 2, 3}, positionIDs(s.Account().PositionsForWithdrawal()))

	withdrawn([]domain.Position{{ID: 2}})
	assert.Equal(t, []int64{1, 3}, positionIDs(s.Account().PositionsForWithdrawal()))
}

func positionIDs(ps []domain.Position) []int64 {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

func TestStop_TwiceAndNoMergeAfter(t *testing.T) {
	gw := newFakeGateway()
	gw.withdrawable = []domain.Position{{ID: 1}}
	s, _, m := newSyncer(t, gw, livesync.Options{})

	require.NoError(t, s.Positions.Start(context.Background(), "tz1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveViews))

	s.Positions.Stop()
	s.Positions.Stop()
	assert.False(t, s.Positions.Active())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveViews))
	for _, sub := range gw.subs {
		assert.Equal(t, 1, sub.unsubscribed())
	}

	gw.onWithdrawable[0]([]domain.Position{{ID: 7}})
	gw.onWithdrawn[0]([]domain.Position{{ID: 1}})
	assert.Equal(t, []int64{1}, positionIDs(s.Account().PositionsForWithdrawal()))
}

func TestStop_WithoutStart(t *testing.T) {
	s, _, _ := newSyncer(t, newFakeGateway(), livesync.Options{})
	assert.NotPanics(t, func() {
		s.Top.Stop()
		s.Top.Stop()
	})
}

func TestRestart_IgnoresPreviousGeneration(t *testing.T) {
	gw := newFakeGateway()
	gw.top = []domain.Event{{ID: 1}}
	s, _, _ := newSyncer(t, gw, livesync.Options{})

	require.NoError(t, s.Top.Start(context.Background(), 3))
	require.NoError(t, s.Top.Start(context.Background(), 3))
	require.Len(t, gw.onTop, 2)

	gw.onTop[0]([]domain.Event{{ID: 99}})
	assert.Equal(t, "1", s.Markets().Events(state.KeyTopEvents)[0].RowID())

	gw.onTop[1]([]domain.Event{{ID: 5}, {ID: 6}})
	events := s.Markets().Events(state.KeyTopEvents)
	require.Len(t, events, 2)
	assert.Equal(t, int64(5), events[0].ID)
}

func TestActiveEvents_StatusRule(t *testing.T) {
	gw := newFakeGateway()
	gw.byStatus = []domain.Event{
		{ID: 1, Status: domain.EventStatusNew, TotalBetsAmount: decimal.NewFromInt(1)},
		{ID: 2, Status: domain.EventStatusNew},
	}
	s, _, _ := newSyncer(t, gw, livesync.Options{})

	require.NoError(t, s.Active.Start(context.Background()))
	require.Len(t, gw.subscribedIDs, 1)
	assert.Equal(t, []int64{1, 2}, gw.subscribedIDs[0])

	push := gw.onEvents[0]
	push([]domain.Event{{ID: 1, Status: domain.EventStatusNew, TotalBetsAmount: decimal.NewFromInt(10)}})
	events := s.Markets().Events(state.KeyActiveEvents)
	require.Len(t, events, 2)
	assert.True(t, decimal.NewFromInt(10).Equal(events[0].TotalBetsAmount))

	push([]domain.Event{{ID: 2, Status: domain.EventStatusStarted}})
	events = s.Markets().Events(state.KeyActiveEvents)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].ID)

	push([]domain.Event{{ID: 2, Status: domain.EventStatusNew}})
	assert.Len(t, s.Markets().Events(state.KeyActiveEvents), 1)
}

func TestActiveEvents_NoRowsNoSubscription(t *testing.T) {
	gw := newFakeGateway()
	s, _, _ := newSyncer(t, gw, livesync.Options{})
	require.NoError(t, s.Active.Start(context.Background()))
	assert.Empty(t, gw.onEvents)
}

func TestParticipatedEvents_MapsPositions(t *testing.T) {
	gw := newFakeGateway()
	gw.positions = []domain.Position{
		{ID: 3, Event: &domain.Event{ID: 30}},
		{ID: 2},
		{ID: 1, Event: &domain.Event{ID: 10}},
	}
	s, _, _ := newSyncer(t, gw, livesync.Options{})
	require.NoError(t, s.Participated.Start(context.Background(), "tz1"))

	events := s.Markets().Events(state.KeyParticipatedEvents)
	require.Len(t, events, 2)
	assert.Equal(t, int64(30), events[0].ID)
	assert.Equal(t, int64(10), events[1].ID)

	gw.onUserPos[0]([]domain.Position{{ID: 4, Event: &domain.Event{ID: 40}}})
	events = s.Markets().Events(state.KeyParticipatedEvents)
	require.Len(t, events, 1)
	assert.Equal(t, int64(40), events[0].ID)
}

func TestFilteredEvents_ReplacesSnapshot(t *testing.T) {
	gw := newFakeGateway()
	gw.filtered = []domain.Event{{ID: 1}, {ID: 2}}
	s, _, _ := newSyncer(t, gw, livesync.Options{})
	require.NoError(t, s.Filtered.Start(context.Background(), 1, domain.EventStatusNew))

	gw.onFiltered[0]([]domain.Event{{ID: 3}})
	events := s.Markets().Events(state.KeyFilteredEvents)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].ID)
}

func TestBalanceAndWithdrawals(t *testing.T) {
	gw := newFakeGateway()
	gw.balance = domain.Balance{Balance: decimal.NewFromInt(10), LockedAmount: decimal.NewFromInt(2)}
	gw.withdrawals = []domain.Withdrawal{{ID: 1}}
	s, _, _ := newSyncer(t, gw, livesync.Options{})

	require.NoError(t, s.SetupUser(context.Background(), "tz1"))
	assert.Equal(t, "tz1", s.User())
	assert.True(t, decimal.NewFromInt(10).Equal(s.Account().Balance().Balance))

	gw.onBalance[0](domain.Balance{Balance: decimal.NewFromInt(7), LockedAmount: decimal.NewFromInt(0)})
	b := s.Account().Balance()
	assert.True(t, decimal.NewFromInt(7).Equal(b.Balance))
	assert.True(t, b.LockedAmount.IsZero())

	gw.onWithdrawal[0]([]domain.Withdrawal{{ID: 1}, {ID: 2}})
	gw.onWithdrawal[0]([]domain.Withdrawal{{ID: 2}})
	ws := s.Account().Withdrawals()
	require.Len(t, ws, 2)
	assert.Equal(t, int64(2), ws[1].ID)

	s.TeardownUser()
	assert.Empty(t, s.User())
	gw.onBalance[0](domain.Balance{Balance: decimal.NewFromInt(99)})
	assert.True(t, decimal.NewFromInt(7).Equal(s.Account().Balance().Balance))
}

func TestSetupUser_RequiresAddress(t *testing.T) {
	s, _, _ := newSyncer(t, newFakeGateway(), livesync.Options{})
	assert.ErrorIs(t, s.SetupUser(context.Background(), ""), domain.ErrInvalidArgument)
}

func TestStart_FetchErrorLeavesViewStopped(t *testing.T) {
	gw := newFakeGateway()
	gw.fetchErr = domain.ErrInvalidArgument
	s, _, _ := newSyncer(t, gw, livesync.Options{})

	err := s.Top.Start(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.False(t, s.Top.Active())
	assert.Empty(t, gw.onTop)
}

func TestStart_NilSubscriptionStillSeeds(t *testing.T) {
	gw := newFakeGateway()
	gw.noSubs = true
	gw.top = []domain.Event{{ID: 1}}
	s, _, _ := newSyncer(t, gw, livesync.Options{})

	require.NoError(t, s.Top.Start(context.Background(), 3))
	assert.Len(t, s.Markets().Events(state.KeyTopEvents), 1)
	assert.NotPanics(t, s.Top.Stop)
}
