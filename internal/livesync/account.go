package livesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/state"
)

// PositionsForWithdrawal keeps the withdrawable positions of an address.
// Two subscriptions feed it: newly qualifying positions are appended when
// their id is unseen, and positions that became withdrawn are removed when
// present.
type PositionsForWithdrawal struct {
	*lifecycle
	gw      Gateway
	account *state.Account
}

func newPositionsForWithdrawal(gw Gateway, account *state.Account, m *metrics.Metrics, logger *slog.Logger) *PositionsForWithdrawal {
	return &PositionsForWithdrawal{lifecycle: newLifecycle("positions_for_withdrawal", m, logger), gw: gw, account: account}
}

// Start seeds the positions of address and opens both subscriptions.
func (v *PositionsForWithdrawal) Start(ctx context.Context, address string) error {
	gen := v.begin()
	v.seed(gen, func() { v.account.SetPositionsLoading(true) })

	positions, err := v.gw.PositionsForWithdrawal(ctx, address)
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: positions for withdrawal: %w", err)
	}
	v.seed(gen, func() {
		v.account.SetPositionsForWithdrawal(positions)
		v.account.SetPositionsLoading(false)
	})

	added, err := v.gw.SubscribeWithdrawable(ctx, address, func(positions []domain.Position) {
		for _, p := range positions {
			v.merge(gen, func() bool { return v.account.AddPositionForWithdrawal(p) })
		}
	})
	if err != nil {
		return fmt.Errorf("livesync: positions for withdrawal: %w", err)
	}
	v.attach(gen, added)

	withdrawn, err := v.gw.SubscribeWithdrawn(ctx, address, func(positions []domain.Position) {
		for _, p := range positions {
			v.merge(gen, func() bool { return v.account.RemovePosition(p.ID) })
		}
	})
	if err != nil {
		return fmt.Errorf("livesync: positions for withdrawal: %w", err)
	}
	v.attach(gen, withdrawn)
	return nil
}

// Balance keeps the balance and locked amount of an address.
type Balance struct {
	*lifecycle
	gw      Gateway
	account *state.Account
}

func newBalance(gw Gateway, account *state.Account, m *metrics.Metrics, logger *slog.Logger) *Balance {
	return &Balance{lifecycle: newLifecycle("balance", m, logger), gw: gw, account: account}
}

// Start seeds the balance and replaces it on every push.
func (v *Balance) Start(ctx context.Context, address string) error {
	gen := v.begin()
	b, err := v.gw.Balance(ctx, address)
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: balance: %w", err)
	}
	v.seed(gen, func() { v.account.SetBalance(b) })

	sub, err := v.gw.SubscribeBalance(ctx, address, func(b domain.Balance) {
		v.merge(gen, func() bool {
			v.account.SetBalance(b)
			return true
		})
	})
	if err != nil {
		return fmt.Errorf("livesync: balance: %w", err)
	}
	v.attach(gen, sub)
	return nil
}

// Refresh re-reads the balance once, outside any subscription.
func (v *Balance) Refresh(ctx context.Context, address string) error {
	b, err := v.gw.Balance(ctx, address)
	if err != nil {
		return fmt.Errorf("livesync: refresh balance: %w", err)
	}
	v.account.SetBalance(b)
	return nil
}

// Withdrawals keeps the withdrawal history of an address. Pushes only ever
// add withdrawals whose id is not yet recorded.
type Withdrawals struct {
	*lifecycle
	gw      Gateway
	account *state.Account
}

func newWithdrawals(gw Gateway, account *state.Account, m *metrics.Metrics, logger *slog.Logger) *Withdrawals {
	return &Withdrawals{lifecycle: newLifecycle("withdrawals", m, logger), gw: gw, account: account}
}

// Start seeds the history and appends unseen withdrawals on every push.
func (v *Withdrawals) Start(ctx context.Context, address string) error {
	gen := v.begin()
	ws, err := v.gw.UserWithdrawals(ctx, address)
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: withdrawals: %w", err)
	}
	v.seed(gen, func() { v.account.SetWithdrawals(ws) })

	sub, err := v.gw.SubscribeWithdrawals(ctx, address, func(ws []domain.Withdrawal) {
		for _, w := range ws {
			v.merge(gen, func() bool { return v.account.AddWithdrawal(w) })
		}
	})
	if err != nil {
		return fmt.Errorf("livesync: withdrawals: %w", err)
	}
	v.attach(gen, sub)
	return nil
}
