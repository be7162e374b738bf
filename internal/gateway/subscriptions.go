package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/platform/indexer"
)

// subscribe opens q and decodes every push into rows of T. A failure to
// establish the subscription is logged and yields a nil Subscription; the
// caller then simply gets no live updates.
func subscribe[T any](ctx context.Context, g *Gateway, op string, q indexer.Query, fn func([]T)) Subscription {
	sub, err := g.idx.Subscribe(ctx, q, func(raw json.RawMessage) {
		rows, err := decode[T](raw)
		if err != nil {
			g.logger.Warn("drop undecodable push",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
			return
		}
		fn(rows)
	})
	if err != nil {
		g.logger.Error("subscribe failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if sub == nil {
		return nil
	}
	return sub
}

// SubscribeTopEvents pushes the full top-N NEW events snapshot.
func (g *Gateway) SubscribeTopEvents(ctx context.Context, limit int, fn func([]domain.Event)) (Subscription, error) {
	const op = "SubscribeTopEvents"
	if limit <= 0 {
		return nil, invalid(op, "limit is required")
	}
	return subscribe(ctx, g, op, topEventsQuery(limit), fn), nil
}

// SubscribeFilteredEvents pushes the full snapshot of the filtered events list.
func (g *Gateway) SubscribeFilteredEvents(ctx context.Context, marketID int64, status domain.EventStatus, fn func([]domain.Event)) (Subscription, error) {
	const op = "SubscribeFilteredEvents"
	if err := validFilter(op, marketID, status); err != nil {
		return nil, err
	}
	return subscribe(ctx, g, op, filteredEventsQuery(marketID, status), fn), nil
}

// SubscribeUserPositions pushes every position of an address.
func (g *Gateway) SubscribeUserPositions(ctx context.Context, address string, fn func([]domain.Position)) (Subscription, error) {
	const op = "SubscribeUserPositions"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return subscribe(ctx, g, op, userPositionsQuery(address), fn), nil
}

// SubscribeEvents pushes the current rows of the given events, whatever
// their status.
func (g *Gateway) SubscribeEvents(ctx context.Context, ids []int64, fn func([]domain.Event)) (Subscription, error) {
	const op = "SubscribeEvents"
	if len(ids) == 0 {
		return nil, invalid(op, "event ids are required")
	}
	return subscribe(ctx, g, op, indexer.Query{
		Entity: indexer.EntityEvent,
		Where:  indexer.Cond{"id": indexer.In(ids)},
		Fields: eventFields,
	}, fn), nil
}

// SubscribeLatestQuote pushes the newest quote of a market.
func (g *Gateway) SubscribeLatestQuote(ctx context.Context, marketID int64, fn func([]domain.Quote)) (Subscription, error) {
	const op = "SubscribeLatestQuote"
	if marketID <= 0 {
		return nil, invalid(op, "market id is required")
	}
	return subscribe(ctx, g, op, indexer.Query{
		Entity:  indexer.EntityQuote,
		Where:   indexer.Cond{"currencyPairId": indexer.Eq(marketID)},
		OrderBy: []indexer.Order{indexer.Desc("timestamp")},
		Limit:   1,
		Fields:  quoteFields,
	}, fn), nil
}

// SubscribeWithdrawable pushes the positions of an address that qualify for
// withdrawal.
func (g *Gateway) SubscribeWithdrawable(ctx context.Context, address string, fn func([]domain.Position)) (Subscription, error) {
	const op = "SubscribeWithdrawable"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return subscribe(ctx, g, op, withdrawableQuery(address, 0), fn), nil
}

// SubscribeWithdrawn pushes the withdrawn positions of an address in
// finished events.
func (g *Gateway) SubscribeWithdrawn(ctx context.Context, address string, fn func([]domain.Position)) (Subscription, error) {
	const op = "SubscribeWithdrawn"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return subscribe(ctx, g, op, withdrawnQuery(address), fn), nil
}

// SubscribeBalance pushes the balance row of an address.
func (g *Gateway) SubscribeBalance(ctx context.Context, address string, fn func(domain.Balance)) (Subscription, error) {
	const op = "SubscribeBalance"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return subscribe(ctx, g, op, balanceQuery(address), func(rows []domain.Balance) {
		if len(rows) == 0 {
			return
		}
		fn(rows[0])
	}), nil
}

// SubscribeWithdrawals pushes the withdrawals of an address.
func (g *Gateway) SubscribeWithdrawals(ctx context.Context, address string, fn func([]domain.Withdrawal)) (Subscription, error) {
	const op = "SubscribeWithdrawals"
	if address == "" {
		return nil, invalid(op, "address is required")
	}
	return subscribe(ctx, g, op, withdrawalsQuery(address), fn), nil
}
