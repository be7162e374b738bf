package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/justersync/internal/state"
)

// Channel layout of store change events.
const (
	// ChangeChannelPrefix is followed by the state key, e.g. "state:markets".
	ChangeChannelPrefix = "state:"
	// ChangeStream journals every change in order.
	ChangeStream = "state:changes"
)

const bridgeBuffer = 1024

// ChangeEvent is the wire form of a state.Change.
type ChangeEvent struct {
	Key string    `json:"key"`
	Op  string    `json:"op"`
	ID  string    `json:"id,omitempty"`
	At  time.Time `json:"at"`
}

// ChangeChannel returns the channel a key's changes are published on. An
// empty key yields the pattern matching every key.
func ChangeChannel(c *Client, key string) string {
	if key == "" {
		return c.Key(ChangeChannelPrefix + "*")
	}
	return c.Key(ChangeChannelPrefix + key)
}

// Bridge publishes every store mutation to the signal bus so other
// processes and WebSocket clients can follow the projections. It listens
// from construction, so changes made before Run starts are queued too.
type Bridge struct {
	client *Client
	bus    *SignalBus
	logger *slog.Logger
	now    func() time.Time

	queue  chan ChangeEvent
	cancel func()
}

// NewBridge creates a Bridge from store to bus and starts queueing store
// changes. Store listeners must not block, so changes are dropped with a
// warning when the queue is full.
func NewBridge(c *Client, bus *SignalBus, store *state.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		client: c,
		bus:    bus,
		logger: logger.With(slog.String("component", "state-bridge")),
		now:    time.Now,
		queue:  make(chan ChangeEvent, bridgeBuffer),
	}
	b.cancel = store.OnAnyChange(b.enqueue)
	return b
}

func (b *Bridge) enqueue(c state.Change) {
	ev := ChangeEvent{Key: string(c.Key), Op: string(c.Op), ID: c.ID, At: b.now().UTC()}
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("change queue full, dropping", slog.String("key", ev.Key))
	}
}

// Run forwards queued changes until ctx is cancelled, then stops listening
// to the store.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.cancel()

	b.logger.Info("state bridge started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("state bridge stopped")
			return nil
		case ev := <-b.queue:
			if err := b.forward(ctx, ev); err != nil {
				b.logger.Warn("forward change", slog.String("key", ev.Key), slog.String("error", err.Error()))
			}
		}
	}
}

func (b *Bridge) forward(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := b.bus.Publish(ctx, ChangeChannel(b.client, ev.Key), payload); err != nil {
		return err
	}
	if _, err := b.bus.StreamAppend(ctx, b.client.Key(ChangeStream), payload); err != nil {
		return err
	}
	return nil
}

// Journal reads up to count change events appended after lastID.
func (b *Bridge) Journal(ctx context.Context, lastID string, count int) ([]JournalEntry, error) {
	msgs, err := b.bus.StreamRead(ctx, b.client.Key(ChangeStream), lastID, count)
	if err != nil {
		return nil, err
	}
	out := make([]JournalEntry, 0, len(msgs))
	for _, m := range msgs {
		var ev ChangeEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			b.logger.Warn("skip malformed journal entry", slog.String("id", m.ID), slog.String("error", err.Error()))
			continue
		}
		out = append(out, JournalEntry{StreamID: m.ID, ChangeEvent: ev})
	}
	return out, nil
}

// JournalEntry is a change event with its stream position.
type JournalEntry struct {
	StreamID string `json:"streamId"`
	ChangeEvent
}
