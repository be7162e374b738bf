package livesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/state"
)

// TopEvents keeps the NEW events with the most bets. Every push is a full
// snapshot and replaces the view.
type TopEvents struct {
	*lifecycle
	gw      Gateway
	markets *state.Markets
}

func newTopEvents(gw Gateway, markets *state.Markets, m *metrics.Metrics, logger *slog.Logger) *TopEvents {
	return &TopEvents{lifecycle: newLifecycle("top_events", m, logger), gw: gw, markets: markets}
}

// Start seeds the view with the top count events and subscribes to changes.
func (v *TopEvents) Start(ctx context.Context, count int) error {
	gen := v.begin()
	events, err := v.gw.TopEvents(ctx, count)
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: top events: %w", err)
	}
	v.seed(gen, func() { v.markets.SetEvents(state.KeyTopEvents, events) })

	sub, err := v.gw.SubscribeTopEvents(ctx, count, func(events []domain.Event) {
		v.merge(gen, func() bool {
			v.markets.SetEvents(state.KeyTopEvents, events)
			return true
		})
	})
	if err != nil {
		return fmt.Errorf("livesync: top events: %w", err)
	}
	v.attach(gen, sub)
	return nil
}

// FilteredEvents keeps the events list of one market and status. Either
// filter may be left empty.
type FilteredEvents struct {
	*lifecycle
	gw      Gateway
	markets *state.Markets
}

func newFilteredEvents(gw Gateway, markets *state.Markets, m *metrics.Metrics, logger *slog.Logger) *FilteredEvents {
	return &FilteredEvents{lifecycle: newLifecycle("filtered_events", m, logger), gw: gw, markets: markets}
}

// Start seeds the view for the filter and subscribes to full snapshots.
// marketID 0 matches every market.
func (v *FilteredEvents) Start(ctx context.Context, marketID int64, status domain.EventStatus) error {
	gen := v.begin()
	events, err := v.gw.EventsByMarket(ctx, marketID, status)
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: filtered events: %w", err)
	}
	v.seed(gen, func() { v.markets.SetEvents(state.KeyFilteredEvents, events) })

	sub, err := v.gw.SubscribeFilteredEvents(ctx, marketID, status, func(events []domain.Event) {
		v.merge(gen, func() bool {
			v.markets.SetEvents(state.KeyFilteredEvents, events)
			return true
		})
	})
	if err != nil {
		return fmt.Errorf("livesync: filtered events: %w", err)
	}
	v.attach(gen, sub)
	return nil
}

// ParticipatedEvents keeps the events a user holds a position in.
type ParticipatedEvents struct {
	*lifecycle
	gw      Gateway
	markets *state.Markets
}

func newParticipatedEvents(gw Gateway, markets *state.Markets, m *metrics.Metrics, logger *slog.Logger) *ParticipatedEvents {
	return &ParticipatedEvents{lifecycle: newLifecycle("participated_events", m, logger), gw: gw, markets: markets}
}

// positionEvents maps positions to their events, keeping position order and
// dropping positions without an event.
func positionEvents(positions []domain.Position) []domain.Event {
	events := make([]domain.Event, 0, len(positions))
	seen := make(map[int64]struct{}, len(positions))
	for _, p := range positions {
		if p.Event == nil {
			continue
		}
		if _, dup := seen[p.Event.ID]; dup {
			continue
		}
		seen[p.Event.ID] = struct{}{}
		events = append(events, *p.Event)
	}
	return events
}

// Start seeds the view from the user's positions and follows them.
func (v *ParticipatedEvents) Start(ctx context.Context, userID string) error {
	gen := v.begin()
	positions, err := v.gw.UserPositions(ctx, userID)
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: participated events: %w", err)
	}
	v.seed(gen, func() { v.markets.SetEvents(state.KeyParticipatedEvents, positionEvents(positions)) })

	sub, err := v.gw.SubscribeUserPositions(ctx, userID, func(positions []domain.Position) {
		v.merge(gen, func() bool {
			v.markets.SetEvents(state.KeyParticipatedEvents, positionEvents(positions))
			return true
		})
	})
	if err != nil {
		return fmt.Errorf("livesync: participated events: %w", err)
	}
	v.attach(gen, sub)
	return nil
}

// ActiveEvents keeps the NEW events. Pushes refresh rows in place; a row
// whose status changed leaves the view and is never re-inserted.
type ActiveEvents struct {
	*lifecycle
	gw      Gateway
	markets *state.Markets
}

func newActiveEvents(gw Gateway, markets *state.Markets, m *metrics.Metrics, logger *slog.Logger) *ActiveEvents {
	return &ActiveEvents{lifecycle: newLifecycle("active_events", m, logger), gw: gw, markets: markets}
}

// Start seeds the NEW events and follows exactly those rows.
func (v *ActiveEvents) Start(ctx context.Context) error {
	gen := v.begin()
	events, err := v.gw.EventsByStatus(ctx, domain.EventStatusNew)
	if err != nil {
		v.Stop()
		return fmt.Errorf("livesync: active events: %w", err)
	}
	v.seed(gen, func() { v.markets.SetEvents(state.KeyActiveEvents, events) })
	if len(events) == 0 {
		return nil
	}

	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	sub, err := v.gw.SubscribeEvents(ctx, ids, func(events []domain.Event) {
		for _, e := range events {
			v.merge(gen, func() bool {
				return v.markets.UpdateEvent(state.KeyActiveEvents, e)
			})
		}
	})
	if err != nil {
		return fmt.Errorf("livesync: active events: %w", err)
	}
	v.attach(gen, sub)
	return nil
}
