// Package gateway is the typed data-access layer over the indexer. Every
// fetch resolves transport and decode failures to an empty result after
// logging them; only invalid arguments are returned as errors, and those are
// detected before any network call.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/platform/indexer"
)

// Indexer is the transport the gateway runs queries on.
type Indexer interface {
	Query(ctx context.Context, q indexer.Query) (json.RawMessage, error)
	Subscribe(ctx context.Context, q indexer.Query, h indexer.Handler) (*indexer.Subscription, error)
}

// Subscription is a live query that can be released.
type Subscription interface {
	Unsubscribe()
}

// Gateway runs the typed indexer operations.
type Gateway struct {
	idx     Indexer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Gateway. m may be nil.
func New(idx Indexer, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		idx:     idx,
		logger:  logger.With(slog.String("component", "gateway")),
		metrics: m,
	}
}

func invalid(op, msg string) error {
	return fmt.Errorf("gateway: %s: %s: %w", op, msg, domain.ErrInvalidArgument)
}

func (g *Gateway) fail(op string, err error) {
	g.logger.Error("indexer fetch failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	if g.metrics != nil {
		g.metrics.FetchFailures.WithLabelValues(op).Inc()
	}
}

func decode[T any](raw json.RawMessage) ([]T, error) {
	out := []T{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return []T{}, fmt.Errorf("decode rows: %w", err)
	}
	return out, nil
}

// fetchOne runs a by-primary-key query whose root is a single object.
func fetchOne[T any](ctx context.Context, g *Gateway, op string, q indexer.Query) (row T, ok bool, err error) {
	raw, qerr := g.idx.Query(ctx, q)
	if qerr != nil {
		g.fail(op, qerr)
		return row, false, nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return row, false, nil
	}
	if derr := json.Unmarshal(raw, &row); derr != nil {
		var zero T
		g.fail(op, fmt.Errorf("decode row: %w", derr))
		return zero, false, nil
	}
	return row, true, nil
}

func fetch[T any](ctx context.Context, g *Gateway, op string, q indexer.Query) []T {
	raw, err := g.idx.Query(ctx, q)
	if err != nil {
		g.fail(op, err)
		return []T{}
	}
	rows, err := decode[T](raw)
	if err != nil {
		g.fail(op, err)
		return []T{}
	}
	return rows
}

// Markets returns every market the indexer knows.
func (g *Gateway) Markets(ctx context.Context) []domain.Market {
	return fetch[domain.Market](ctx, g, "Markets", indexer.Query{
		Entity: indexer.EntityMarket,
		Fields: marketFields,
	})
}

// MarketByID returns a single market, or ok=false when it does not exist.
func (g *Gateway) MarketByID(ctx context.Context, id int64) (market domain.Market, ok bool, err error) {
	const op = "MarketByID"
	if id <= 0 {
		return domain.Market{}, false, invalid(op, "market id is required")
	}
	return fetchOne[domain.Market](ctx, g, op, indexer.Query{
		Entity: indexer.EntityMarketByPK,
		PK:     id,
		Fields: marketFields,
	})
}

// QuotesByMarket returns a page of quotes of one market, newest first.
func (g *Gateway) QuotesByMarket(ctx context.Context, marketID int64, limit, offset int) ([]domain.Quote, error) {
	const op = "QuotesByMarket"
	if marketID <= 0 {
		return nil, invalid(op, "market id is required")
	}
	if limit <= 0 {
		return nil, invalid(op, "limit is required")
	}
	if offset < 0 {
		return nil, invalid(op, "offset must not be negative")
	}
	return fetch[domain.Quote](ctx, g, op, indexer.Query{
		Entity:  indexer.EntityQuote,
		Where:   indexer.Cond{"currencyPairId": indexer.Eq(marketID)},
		OrderBy: []indexer.Order{indexer.Desc("timestamp")},
		Limit:   limit,
		Offset:  offset,
		Fields:  quoteFields,
	}), nil
}

// QuoteAt returns the quote of a market at exactly ts. ok is false when the
// indexer has none.
func (g *Gateway) QuoteAt(ctx context.Context, marketID int64, ts time.Time) (quote domain.Quote, ok bool, err error) {
	const op = "QuoteAt"
	if marketID <= 0 {
		return domain.Quote{}, false, invalid(op, "market id is required")
	}
	rows := fetch[domain.Quote](ctx, g, op, indexer.Query{
		Entity: indexer.EntityQuote,
		Where: indexer.Cond{
			"currencyPairId": indexer.Eq(marketID),
			"timestamp":      indexer.Eq(ts),
		},
		OrderBy: []indexer.Order{indexer.Desc("timestamp")},
		Limit:   1,
		Fields:  quoteFields,
	})
	if len(rows) == 0 {
		return domain.Quote{}, false, nil
	}
	return rows[0], true, nil
}

// QuotesInRange returns the quotes of a market with from <= timestamp <= to,
// newest first.
func (g *Gateway) QuotesInRange(ctx context.Context, marketID int64, from, to time.Time) ([]domain.Quote, error) {
	const op = "QuotesInRange"
	if marketID <= 0 {
		return nil, invalid(op, "market id is required")
	}
	if to.Before(from) {
		return nil, invalid(op, "range end before start")
	}
	return fetch[domain.Quote](ctx, g, op, indexer.Query{
		Entity: indexer.EntityQuote,
		Where: indexer.Cond{
			"currencyPairId": indexer.Eq(marketID),
			"timestamp":      indexer.Ops{indexer.Gte(from), indexer.Lte(to)},
		},
		OrderBy: []indexer.Order{indexer.Desc("timestamp")},
		Fields:  quoteFields,
	}), nil
}

// EventTVL returns the total-value-locked samples of an event.
func (g *Gateway) EventTVL(ctx context.Context, eventID int64) ([]domain.TVLPoint, error) {
	const op = "EventTVL"
	if eventID <= 0 {
		return nil, invalid(op, "event id is required")
	}
	return fetch[domain.TVLPoint](ctx, g, op, indexer.Query{
		Entity: indexer.EntityTVL,
		Where:  indexer.Cond{"eventId": indexer.Eq(eventID)},
		Fields: tvlFields,
	}), nil
}

func topEventsQuery(limit int) indexer.Query {
	return indexer.Query{
		Entity:  indexer.EntityEvent,
		Where:   indexer.Cond{"status": indexer.Eq(domain.EventStatusNew)},
		OrderBy: []indexer.Order{indexer.Desc("bets_aggregate", "count"), indexer.Desc("id")},
		Limit:   limit,
		Fields:  eventFields,
	}
}

// TopEvents returns up to limit NEW events with the most bets.
func (g *Gateway) TopEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	const op = "TopEvents"
	if limit <= 0 {
		return nil, invalid(op, "limit is required")
	}
	return fetch[domain.Event](ctx, g, op, topEventsQuery(limit)), nil
}

// EventsByStatus returns the events in any of the given statuses.
func (g *Gateway) EventsByStatus(ctx context.Context, statuses ...domain.EventStatus) ([]domain.Event, error) {
	const op = "EventsByStatus"
	if len(statuses) == 0 {
		return nil, invalid(op, "status is required")
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		if !s.Valid() {
			return nil, invalid(op, fmt.Sprintf("unknown status %q", s))
		}
		names[i] = string(s)
	}
	return fetch[domain.Event](ctx, g, op, indexer.Query{
		Entity:  indexer.EntityEvent,
		Where:   indexer.Cond{"status": indexer.In(names)},
		OrderBy: []indexer.Order{indexer.Desc("id")},
		Fields:  eventFields,
	}), nil
}

func filteredEventsQuery(marketID int64, status domain.EventStatus) indexer.Query {
	where := indexer.Cond{}
	if marketID > 0 {
		where["currencyPairId"] = indexer.Eq(marketID)
	}
	if status != "" {
		where["status"] = indexer.Eq(status)
	}
	return indexer.Query{
		Entity:  indexer.EntityEvent,
		Where:   where,
		OrderBy: []indexer.Order{indexer.Desc("createdTime")},
		Fields:  eventFields,
	}
}

func validFilter(op string, marketID int64, status domain.EventStatus) error {
	if marketID < 0 {
		return invalid(op, "market id must not be negative")
	}
	if status != "" && !status.Valid() {
		return invalid(op, fmt.Sprintf("unknown status %q", status))
	}
	return nil
}

// EventsByMarket returns events newest first, optionally narrowed to a market
// (marketID > 0) and a status (non-empty).
func (g *Gateway) EventsByMarket(ctx context.Context, marketID int64, status domain.EventStatus) ([]domain.Event, error) {
	const op = "EventsByMarket"
	if err := validFilter(op, marketID, status); err != nil {
		return nil, err
	}
	return fetch[domain.Event](ctx, g, op, filteredEventsQuery(marketID, status)), nil
}

// EventByID returns a single event, or ok=false when it does not exist.
func (g *Gateway) EventByID(ctx context.Context, id int64) (event domain.Event, ok bool, err error) {
	const op = "EventByID"
	if id <= 0 {
		return domain.Event{}, false, invalid(op, "event id is required")
	}
	return fetchOne[domain.Event](ctx, g, op, indexer.Query{
		Entity: indexer.EntityEventByPK,
		PK:     id,
		Fields: eventFields,
	})
}

// AllEvents returns every event, newest first.
func (g *Gateway) AllEvents(ctx context.Context) []domain.Event {
	return fetch[domain.Event](ctx, g, "AllEvents", indexer.Query{
		Entity:  indexer.EntityEvent,
		OrderBy: []indexer.Order{indexer.Desc("createdTime")},
		Fields:  eventFields,
	})
}

// BetsByEvent returns the bets placed on an event.
func (g *Gateway) BetsByEvent(ctx context.Context, eventID int64) ([]domain.Bet, error) {
	const op = "BetsByEvent"
	if eventID <= 0 {
		return nil, invalid(op, "event id is required")
	}
	return fetch[domain.Bet](ctx, g, op, indexer.Query{
		Entity: indexer.EntityBet,
		Where:  indexer.Cond{"eventId": indexer.Eq(eventID)},
		Fields: betFields,
	}), nil
}

// BetsByUser returns the bets an address placed on an event.
func (g *Gateway) BetsByUser(ctx context.Context, eventID int64, address string) ([]domain.Bet, error) {
	const op = "BetsByUser"
	if eventID <= 0 {
		return nil, invalid(op, "event id is required")
	}
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return fetch[domain.Bet](ctx, g, op, indexer.Query{
		Entity: indexer.EntityBet,
		Where: indexer.Cond{
			"eventId": indexer.Eq(eventID),
			"userId":  indexer.Eq(address),
		},
		Fields: betFields,
	}), nil
}

// DepositsByEvent returns the liquidity deposits of an event.
func (g *Gateway) DepositsByEvent(ctx context.Context, eventID int64) ([]domain.Deposit, error) {
	const op = "DepositsByEvent"
	if eventID <= 0 {
		return nil, invalid(op, "event id is required")
	}
	return fetch[domain.Deposit](ctx, g, op, indexer.Query{
		Entity: indexer.EntityDeposit,
		Where:  indexer.Cond{"eventId": indexer.Eq(eventID)},
		Fields: depositFields,
	}), nil
}

// EventParticipants returns the positions held in an event.
func (g *Gateway) EventParticipants(ctx context.Context, eventID int64) ([]domain.Position, error) {
	const op = "EventParticipants"
	if eventID <= 0 {
		return nil, invalid(op, "event id is required")
	}
	return fetch[domain.Position](ctx, g, op, indexer.Query{
		Entity:  indexer.EntityPosition,
		Where:   indexer.Cond{"eventId": indexer.Eq(eventID)},
		OrderBy: []indexer.Order{indexer.Desc("id")},
		Fields:  participantFields,
	}), nil
}

// EventsWithUserPosition returns the NEW or STARTED events the user has bet on.
func (g *Gateway) EventsWithUserPosition(ctx context.Context, userID string) ([]domain.Event, error) {
	const op = "EventsWithUserPosition"
	if userID == "" {
		return nil, invalid(op, "user id is required")
	}
	return fetch[domain.Event](ctx, g, op, indexer.Query{
		Entity: indexer.EntityEvent,
		Where: indexer.Cond{
			"bets":   indexer.Cond{"userId": indexer.Eq(userID)},
			"status": indexer.In([]string{string(domain.EventStatusNew), string(domain.EventStatusStarted)}),
		},
		Fields: eventFields,
	}), nil
}

func userPositionsQuery(address string) indexer.Query {
	return indexer.Query{
		Entity:  indexer.EntityPosition,
		Where:   indexer.Cond{"userId": indexer.Eq(address)},
		OrderBy: []indexer.Order{indexer.Desc("id")},
		Fields:  positionFields,
	}
}

// UserPositions returns every position of an address, newest first.
func (g *Gateway) UserPositions(ctx context.Context, address string) ([]domain.Position, error) {
	const op = "UserPositions"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return fetch[domain.Position](ctx, g, op, userPositionsQuery(address)), nil
}

func withdrawableQuery(address string, eventID int64) indexer.Query {
	where := indexer.Cond{
		"userId":    indexer.Eq(address),
		"withdrawn": indexer.Eq(false),
		"value":     indexer.Neq(0),
		"event":     indexer.Cond{"status": indexer.Eq(domain.EventStatusFinished)},
	}
	if eventID > 0 {
		where["eventId"] = indexer.Eq(eventID)
	}
	return indexer.Query{
		Entity:  indexer.EntityPosition,
		Where:   where,
		OrderBy: []indexer.Order{indexer.Desc("id")},
		Fields:  positionFields,
	}
}

func withdrawnQuery(address string) indexer.Query {
	return indexer.Query{
		Entity: indexer.EntityPosition,
		Where: indexer.Cond{
			"userId":    indexer.Eq(address),
			"withdrawn": indexer.Eq(true),
			"event":     indexer.Cond{"status": indexer.Eq(domain.EventStatusFinished)},
		},
		Fields: positionFields,
	}
}

// PositionsForWithdrawal returns the non-withdrawn, non-zero positions of an
// address in finished events.
func (g *Gateway) PositionsForWithdrawal(ctx context.Context, address string) ([]domain.Position, error) {
	const op = "PositionsForWithdrawal"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return fetch[domain.Position](ctx, g, op, withdrawableQuery(address, 0)), nil
}

// PositionsForWithdrawalByEvent narrows PositionsForWithdrawal to one event.
func (g *Gateway) PositionsForWithdrawalByEvent(ctx context.Context, address string, eventID int64) ([]domain.Position, error) {
	const op = "PositionsForWithdrawalByEvent"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	if eventID <= 0 {
		return nil, invalid(op, "event id is required")
	}
	return fetch[domain.Position](ctx, g, op, withdrawableQuery(address, eventID)), nil
}

// User returns the aggregate counters of an address. ok is false when the
// indexer has no such user.
func (g *Gateway) User(ctx context.Context, address string) (user domain.User, ok bool, err error) {
	const op = "User"
	if address == "" {
		return domain.User{}, false, invalid(op, "address is required")
	}
	rows := fetch[domain.User](ctx, g, op, indexer.Query{
		Entity: indexer.EntityUser,
		Where:  indexer.Cond{"address": indexer.Eq(address)},
		Fields: userFields,
	})
	if len(rows) == 0 {
		return domain.User{}, false, nil
	}
	return rows[0], true, nil
}

func withdrawalsQuery(address string) indexer.Query {
	return indexer.Query{
		Entity:  indexer.EntityWithdrawal,
		Where:   indexer.Cond{"userId": indexer.Eq(address)},
		OrderBy: []indexer.Order{indexer.Desc("id")},
		Fields:  withdrawalFields,
	}
}

// UserWithdrawals returns the withdrawals of an address, newest first.
func (g *Gateway) UserWithdrawals(ctx context.Context, address string) ([]domain.Withdrawal, error) {
	const op = "UserWithdrawals"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return fetch[domain.Withdrawal](ctx, g, op, withdrawalsQuery(address)), nil
}

// AllUsers returns the address of every user the indexer knows.
func (g *Gateway) AllUsers(ctx context.Context) []domain.User {
	return fetch[domain.User](ctx, g, "AllUsers", indexer.Query{
		Entity: indexer.EntityUser,
		Fields: indexer.Fields("address"),
	})
}

const leaderboardSize = 5

// TopBettors returns the users with the most bets.
func (g *Gateway) TopBettors(ctx context.Context) []domain.User {
	return fetch[domain.User](ctx, g, "TopBettors", indexer.Query{
		Entity:  indexer.EntityUser,
		OrderBy: []indexer.Order{indexer.Desc("totalBetsCount")},
		Limit:   leaderboardSize,
		Fields:  indexer.Fields("address", "totalBetsCount"),
	})
}

// TopLiquidityProviders returns the users with the highest provider reward.
func (g *Gateway) TopLiquidityProviders(ctx context.Context) []domain.User {
	return fetch[domain.User](ctx, g, "TopLiquidityProviders", indexer.Query{
		Entity:  indexer.EntityUser,
		OrderBy: []indexer.Order{indexer.Desc("totalProviderReward")},
		Limit:   leaderboardSize,
		Fields:  indexer.Fields("address", "totalProviderReward"),
	})
}

func balanceQuery(address string) indexer.Query {
	return indexer.Query{
		Entity: indexer.EntityBalance,
		Where:  indexer.Cond{"address": indexer.Eq(address)},
		Limit:  1,
		Fields: balanceFields,
	}
}

// Balance returns the balance and locked amount of an address. A missing
// row resolves to zero amounts.
func (g *Gateway) Balance(ctx context.Context, address string) (domain.Balance, error) {
	const op = "Balance"
	if address == "" {
		return domain.Balance{}, invalid(op, "address is required")
	}
	rows := fetch[domain.Balance](ctx, g, op, balanceQuery(address))
	if len(rows) == 0 {
		return domain.Balance{Address: address}, nil
	}
	return rows[0], nil
}
