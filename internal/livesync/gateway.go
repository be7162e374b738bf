package livesync

import (
	"context"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/gateway"
)

// Gateway is the subset of the data-access layer the live views use.
type Gateway interface {
	Markets(ctx context.Context) []domain.Market
	QuotesByMarket(ctx context.Context, marketID int64, limit, offset int) ([]domain.Quote, error)
	QuoteAt(ctx context.Context, marketID int64, ts time.Time) (domain.Quote, bool, error)
	TopEvents(ctx context.Context, limit int) ([]domain.Event, error)
	EventsByMarket(ctx context.Context, marketID int64, status domain.EventStatus) ([]domain.Event, error)
	EventsByStatus(ctx context.Context, statuses ...domain.EventStatus) ([]domain.Event, error)
	UserPositions(ctx context.Context, address string) ([]domain.Position, error)
	PositionsForWithdrawal(ctx context.Context, address string) ([]domain.Position, error)
	Balance(ctx context.Context, address string) (domain.Balance, error)
	UserWithdrawals(ctx context.Context, address string) ([]domain.Withdrawal, error)

	SubscribeTopEvents(ctx context.Context, limit int, fn func([]domain.Event)) (gateway.Subscription, error)
	SubscribeFilteredEvents(ctx context.Context, marketID int64, status domain.EventStatus, fn func([]domain.Event)) (gateway.Subscription, error)
	SubscribeUserPositions(ctx context.Context, address string, fn func([]domain.Position)) (gateway.Subscription, error)
	SubscribeEvents(ctx context.Context, ids []int64, fn func([]domain.Event)) (gateway.Subscription, error)
	SubscribeLatestQuote(ctx context.Context, marketID int64, fn func([]domain.Quote)) (gateway.Subscription, error)
	SubscribeWithdrawable(ctx context.Context, address string, fn func([]domain.Position)) (gateway.Subscription, error)
	SubscribeWithdrawn(ctx context.Context, address string, fn func([]domain.Position)) (gateway.Subscription, error)
	SubscribeBalance(ctx context.Context, address string, fn func(domain.Balance)) (gateway.Subscription, error)
	SubscribeWithdrawals(ctx context.Context, address string, fn func([]domain.Withdrawal)) (gateway.Subscription, error)
}

var _ Gateway = (*gateway.Gateway)(nil)
