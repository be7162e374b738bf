package gateway

import (
	"context"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/platform/indexer"
)

// Pools returns every liquidity pool.
func (g *Gateway) Pools(ctx context.Context) []domain.Pool {
	return fetch[domain.Pool](ctx, g, "Pools", indexer.Query{
		Entity: indexer.EntityPool,
		Fields: poolFields,
	})
}

// PoolLines returns the event templates of every pool.
func (g *Gateway) PoolLines(ctx context.Context) []domain.PoolLine {
	return fetch[domain.PoolLine](ctx, g, "PoolLines", indexer.Query{
		Entity: indexer.EntityPoolLine,
		Fields: poolLineFields,
	})
}

// PoolStatesInRange returns the states of a pool strictly between after and
// before.
func (g *Gateway) PoolStatesInRange(ctx context.Context, poolID string, after, before time.Time) ([]domain.PoolState, error) {
	const op = "PoolStatesInRange"
	if poolID == "" {
		return nil, invalid(op, "pool id is required")
	}
	if !before.After(after) {
		return nil, invalid(op, "range end not after start")
	}
	return fetch[domain.PoolState](ctx, g, op, indexer.Query{
		Entity: indexer.EntityPoolState,
		Where: indexer.Cond{
			"poolId":    indexer.Eq(poolID),
			"timestamp": indexer.Ops{indexer.Gt(after), indexer.Lt(before)},
		},
		OrderBy: []indexer.Order{indexer.Asc("timestamp")},
		Fields:  poolStateFields,
	}), nil
}
