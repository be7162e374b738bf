package livesync_test

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/gateway"
)

type fakeSub struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *fakeSub) unsubscribed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeGateway serves canned fetch results and captures subscription
// handlers so tests can push rows.
type fakeGateway struct {
	mu sync.Mutex

	markets      []domain.Market
	quotes       map[int64][]domain.Quote
	historyAt    []time.Time
	history      map[int64]domain.Quote
	top          []domain.Event
	filtered     []domain.Event
	byStatus     []domain.Event
	positions    []domain.Position
	withdrawable []domain.Position
	balance      domain.Balance
	withdrawals  []domain.Withdrawal
	fetchErr     error
	noSubs       bool
	// quotesGate, when set, holds QuotesByMarket until it is closed.
	quotesGate chan struct{}

	subs []*fakeSub

	onTop          []func([]domain.Event)
	onFiltered     []func([]domain.Event)
	onUserPos      []func([]domain.Position)
	onEvents       []func([]domain.Event)
	subscribedIDs  [][]int64
	onQuote        map[int64][]func([]domain.Quote)
	onWithdrawable []func([]domain.Position)
	onWithdrawn    []func([]domain.Position)
	onBalance      []func(domain.Balance)
	onWithdrawal   []func([]domain.Withdrawal)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		quotes:  make(map[int64][]domain.Quote),
		history: make(map[int64]domain.Quote),
		onQuote: make(map[int64][]func([]domain.Quote)),
	}
}

func (f *fakeGateway) sub() gateway.Subscription {
	if f.noSubs {
		return nil
	}
	s := &fakeSub{}
	f.subs = append(f.subs, s)
	return s
}

func (f *fakeGateway) Markets(context.Context) []domain.Market {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets
}

func (f *fakeGateway) QuotesByMarket(_ context.Context, id int64, _, _ int) ([]domain.Quote, error) {
	f.mu.Lock()
	gate := f.quotesGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes[id], f.fetchErr
}

func (f *fakeGateway) QuoteAt(_ context.Context, id int64, ts time.Time) (domain.Quote, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyAt = append(f.historyAt, ts)
	q, ok := f.history[id]
	return q, ok, nil
}

func (f *fakeGateway) TopEvents(context.Context, int) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.top, f.fetchErr
}

func (f *fakeGateway) EventsByMarket(context.Context, int64, domain.EventStatus) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filtered, f.fetchErr
}

func (f *fakeGateway) EventsByStatus(context.Context, ...domain.EventStatus) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byStatus, f.fetchErr
}

func (f *fakeGateway) UserPositions(context.Context, string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions, f.fetchErr
}

func (f *fakeGateway) PositionsForWithdrawal(context.Context, string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.withdrawable, f.fetchErr
}

func (f *fakeGateway) Balance(context.Context, string) (domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.fetchErr
}

func (f *fakeGateway) UserWithdrawals(context.Context, string) ([]domain.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.withdrawals, f.fetchErr
}

func (f *fakeGateway) SubscribeTopEvents(_ context.Context, _ int, fn func([]domain.Event)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTop = append(f.onTop, fn)
	return f.sub(), nil
}

func (f *fakeGateway) SubscribeFilteredEvents(_ context.Context, _ int64, _ domain.EventStatus, fn func([]domain.Event)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFiltered = append(f.onFiltered, fn)
	return f.sub(), nil
}

func (f *fakeGateway) SubscribeUserPositions(_ context.Context, _ string, fn func([]domain.Position)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUserPos = append(f.onUserPos, fn)
	return f.sub(), nil
}

func (f *fakeGateway) SubscribeEvents(_ context.Context, ids []int64, fn func([]domain.Event)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribedIDs = append(f.subscribedIDs, ids)
	f.onEvents = append(f.onEvents, fn)
	return f.sub(), nil
}

func (f *fakeGateway) SubscribeLatestQuote(_ context.Context, id int64, fn func([]domain.Quote)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onQuote[id] = append(f.onQuote[id], fn)
	return f.sub(), nil
}

func (f *fakeGateway) SubscribeWithdrawable(_ context.Context, _ string, fn func([]domain.Position)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWithdrawable = append(f.onWithdrawable, fn)
	return f.sub(), nil
}

func (f *fakeGateway) SubscribeWithdrawn(_ context.Context, _ string, fn func([]domain.Position)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWithdrawn = append(f.onWithdrawn, fn)
	return f.sub(), nil
}

func (f *fakeGateway) SubscribeBalance(_ context.Context, _ string, fn func(domain.Balance)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onBalance = append(f.onBalance, fn)
	return f.sub(), nil
}

func (f *fakeGateway) SubscribeWithdrawals(_ context.Context, _ string, fn func([]domain.Withdrawal)) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWithdrawal = append(f.onWithdrawal, fn)
	return f.sub(), nil
}

// blockingSink holds every RecordQuote until release is closed.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingSink) RecordQuote(string, domain.Quote) {
	b.entered <- struct{}{}
	<-b.release
}

type recordingSink struct {
	mu     sync.Mutex
	quotes []domain.Quote
}

func (r *recordingSink) RecordQuote(_ string, q domain.Quote) {
	r.mu.Lock()
	r.quotes = append(r.quotes, q)
	r.mu.Unlock()
}
