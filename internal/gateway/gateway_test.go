package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/gateway"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/platform/indexer"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexer struct {
	mu       sync.Mutex
	queries  []indexer.Query
	rows     map[indexer.Entity]string
	err      error
	subErr   error
	handlers []indexer.Handler
}

func (f *fakeIndexer) Query(_ context.Context, q indexer.Query) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.rows[q.Entity]
	if !ok {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(raw), nil
}

func (f *fakeIndexer) Subscribe(_ context.Context, q indexer.Query, h indexer.Handler) (*indexer.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.handlers = append(f.handlers, h)
	return nil, nil
}

func (f *fakeIndexer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func TestValidationFailsBeforeNetwork(t *testing.T) {
	idx := &fakeIndexer{}
	g := gateway.New(idx, nil, nil)
	ctx := context.Background()

	_, err := g.QuotesByMarket(ctx, 0, 10, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.QuotesByMarket(ctx, 1, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.TopEvents(ctx, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, _, err = g.EventByID(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.PositionsForWithdrawal(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.EventsByStatus(ctx, "BOGUS")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.QuotesInRange(ctx, 1, time.Unix(10, 0), time.Unix(5, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.SubscribeBalance(ctx, "", func(domain.Balance) {})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.Zero(t, idx.calls())
}

func TestTransportFailureResolvesToEmpty(t *testing.T) {
	m := metrics.New()
	idx := &fakeIndexer{err: errors.New("connection refused")}
	g := gateway.New(idx, m, nil)

	events, err := g.TopEvents(context.Background(), 3)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	_, ok, err := g.EventByID(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues("TopEvents")))
}

func TestDecodeFailureResolvesToEmpty(t *testing.T) {
	idx := &fakeIndexer{rows: map[indexer.Entity]string{indexer.EntityMarket: `{"not":"a list"}`}}
	g := gateway.New(idx, nil, nil)
	assert.Empty(t, g.Markets(context.Background()))
}

func TestQuotesByMarket(t *testing.T) {
	idx := &fakeIndexer{rows: map[indexer.Entity]string{
		indexer.EntityQuote: `[{"currencyPairId":2,"price":"65000.5","timestamp":"2024-05-01T12:00:00+00:00"}]`,
	}}
	g := gateway.New(idx, nil, nil)

	quotes, err := g.QuotesByMarket(context.Background(), 2, 1000, 0)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, int64(2), quotes[0].MarketID)
	assert.True(t, decimal.RequireFromString("65000.5").Equal(quotes[0].Price))
	assert.True(t, quotes[0].Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	q := idx.queries[0]
	assert.Equal(t, indexer.EntityQuote, q.Entity)
	assert.Equal(t, 1000, q.Limit)
	doc, err := q.Document(indexer.SchemaV2, "query")
	require.NoError(t, err)
	assert.Contains(t, doc, `where: {currencyPairId: {_eq: 2}}`)
	assert.Contains(t, doc, `order_by: [{timestamp: desc}]`)
}

func TestPositionsForWithdrawalQuery(t *testing.T) {
	idx := &fakeIndexer{rows: map[indexer.Entity]string{
		indexer.EntityPosition: `[{"id":5,"userId":"tz1","value":"12","withdrawn":false,"event":{"id":9,"status":"FINISHED"}}]`,
	}}
	g := gateway.New(idx, nil, nil)

	positions, err := g.PositionsForWithdrawal(context.Background(), "tz1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Withdrawable())
	require.NotNil(t, positions[0].Event)
	assert.Equal(t, domain.EventStatusFinished, positions[0].Event.Status)

	doc, err := idx.queries[0].Document(indexer.SchemaV2, "query")
	require.NoError(t, err)
	assert.Contains(t, doc, `event: {status: {_eq: "FINISHED"}}`)
	assert.Contains(t, doc, `userId: {_eq: "tz1"}`)
	assert.Contains(t, doc, `value: {_neq: 0}`)
	assert.Contains(t, doc, `withdrawn: {_eq: false}`)
}

func TestEventByID(t *testing.T) {
	idx := &fakeIndexer{rows: map[indexer.Entity]string{
		indexer.EntityEventByPK: `{"id":7,"status":"STARTED","currencyPair":{"id":1,"symbol":"BTC-USD"}}`,
	}}
	g := gateway.New(idx, nil, nil)

	ev, ok, err := g.EventByID(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), ev.ID)
	assert.Equal(t, "BTC-USD", ev.CurrencyPair.Symbol)

	_, ok, err = gateway.New(&fakeIndexer{}, nil, nil).EventByID(context.Background(), 8)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBalanceMissingRowIsZero(t *testing.T) {
	g := gateway.New(&fakeIndexer{rows: map[indexer.Entity]string{indexer.EntityBalance: `[]`}}, nil, nil)
	b, err := g.Balance(context.Background(), "tz1")
	require.NoError(t, err)
	assert.Equal(t, "tz1", b.Address)
	assert.True(t, b.Balance.IsZero())
}

func TestSubscribeDecodesPushes(t *testing.T) {
	idx := &fakeIndexer{}
	g := gateway.New(idx, nil, nil)

	var got []domain.Quote
	_, err := g.SubscribeLatestQuote(context.Background(), 1, func(q []domain.Quote) { got = append(got, q...) })
	require.NoError(t, err)
	require.Len(t, idx.handlers, 1)

	idx.handlers[0](json.RawMessage(`[{"currencyPairId":1,"price":5,"timestamp":"2024-05-01T00:00:00Z"}]`))
	idx.handlers[0](json.RawMessage(`{"broken":`))
	require.Len(t, got, 1)
	assert.True(t, decimal.NewFromInt(5).Equal(got[0].Price))
}

func TestSubscribeBalanceSkipsEmptyPush(t *testing.T) {
	idx := &fakeIndexer{}
	g := gateway.New(idx, nil, nil)

	var calls int
	_, err := g.SubscribeBalance(context.Background(), "tz1", func(domain.Balance) { calls++ })
	require.NoError(t, err)
	idx.handlers[0](json.RawMessage(`[]`))
	idx.handlers[0](json.RawMessage(`[{"address":"tz1","balance":"3","lockedAmount":"1"}]`))
	assert.Equal(t, 1, calls)
}

func TestSubscribeFailureYieldsNil(t *testing.T) {
	g := gateway.New(&fakeIndexer{subErr: errors.New("dial failed")}, nil, nil)
	sub, err := g.SubscribeTopEvents(context.Background(), 3, func([]domain.Event) {})
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestLedgerFetchesValidateBeforeNetwork(t *testing.T) {
	idx := &fakeIndexer{}
	g := gateway.New(idx, nil, nil)
	ctx := context.Background()

	_, err := g.BetsByEvent(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.BetsByUser(ctx, 3, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.BetsByUser(ctx, -1, "tz1")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.DepositsByEvent(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, _, err = g.MarketByID(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.PoolStatesInRange(ctx, "", time.Unix(1, 0), time.Unix(2, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.PoolStatesInRange(ctx, "KT1pool", time.Unix(5, 0), time.Unix(5, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.Zero(t, idx.calls())
}

func TestBetsByUser(t *testing.T) {
	idx := &fakeIndexer{rows: map[indexer.Entity]string{
		indexer.EntityBet: `[{"id":11,"eventId":3,"userId":"tz1","side":"ABOVE_EQ","amount":"2.5","reward":"4.1","createdTime":"2024-05-01T10:00:00Z"}]`,
	}}
	g := gateway.New(idx, nil, nil)

	bets, err := g.BetsByUser(context.Background(), 3, "tz1")
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, domain.BetSideAboveEq, bets[0].Side)
	assert.True(t, decimal.RequireFromString("4.1").Equal(bets[0].Reward))

	doc, err := idx.queries[0].Document(indexer.SchemaV2, "query")
	require.NoError(t, err)
	assert.Contains(t, doc, `bet(where: {eventId: {_eq: 3}, userId: {_eq: "tz1"}})`)
}

func TestDepositsByEvent(t *testing.T) {
	idx := &fakeIndexer{rows: map[indexer.Entity]string{
		indexer.EntityDeposit: `[{"id":1,"eventId":9,"userId":"tz2","amountAboveEq":"10","amountBelow":"12","shares":"11"}]`,
	}}
	g := gateway.New(idx, nil, nil)

	deposits, err := g.DepositsByEvent(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, "tz2", deposits[0].UserID)
	assert.True(t, decimal.NewFromInt(11).Equal(deposits[0].Shares))
}

func TestMarketByID(t *testing.T) {
	idx := &fakeIndexer{rows: map[indexer.Entity]string{
		indexer.EntityMarketByPK: `{"id":2,"symbol":"XTZ-USD","totalEvents":40}`,
	}}
	g := gateway.New(idx, nil, nil)

	m, ok, err := g.MarketByID(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "XTZ-USD", m.Symbol)
	assert.Equal(t, int64(40), m.TotalEvents)

	doc, err := idx.queries[0].Document(indexer.SchemaV1, "query")
	require.NoError(t, err)
	assert.Contains(t, doc, `currency_pair_by_pk(id: 2)`)
}

func TestPoolStatesInRange(t *testing.T) {
	idx := &fakeIndexer{rows: map[indexer.Entity]string{
		indexer.EntityPoolState: `[{"id":4,"poolId":"KT1pool","level":100,"sharePrice":"1.02","totalLiquidity":"5000","timestamp":"2024-05-01T06:00:00Z"}]`,
	}}
	g := gateway.New(idx, nil, nil)
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	states, err := g.PoolStatesInRange(context.Background(), "KT1pool", from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.True(t, decimal.RequireFromString("1.02").Equal(states[0].SharePrice))

	doc, err := idx.queries[0].Document(indexer.SchemaV2, "query")
	require.NoError(t, err)
	assert.Contains(t, doc, `timestamp: {_gt: "2024-05-01T00:00:00Z", _lt: "2024-05-02T00:00:00Z"}`)
	assert.Contains(t, doc, `order_by: [{timestamp: asc}]`)
}

func TestCatalogFetchesResolveFailuresToEmpty(t *testing.T) {
	m := metrics.New()
	g := gateway.New(&fakeIndexer{err: errors.New("timeout")}, m, nil)
	ctx := context.Background()

	assert.Empty(t, g.Pools(ctx))
	assert.Empty(t, g.PoolLines(ctx))
	assert.Empty(t, g.AllEvents(ctx))
	assert.Empty(t, g.AllUsers(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues("PoolLines")))
}
