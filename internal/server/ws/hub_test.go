package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func startHub(t *testing.T, snapshot Snapshot) (*chanBus, *websocket.Conn) {
	t.Helper()
	bus := &chanBus{ch: make(chan []byte, 8)}
	hub := NewHub(bus, snapshot, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Channel: "state:*",
		Mode:    "serve",
		Network: "testnet",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
		srv.Close()
	})
	return bus, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func publish(bus *chanBus, key, op string) {
	b, _ := json.Marshal(change{Key: key, Op: op, At: time.Now()})
	bus.ch <- b
}

func TestHubHelloAndDefaultSubscription(t *testing.T) {
	bus, conn := startHub(t, func(key string) (any, bool) {
		return map[string]string{"key": key}, true
	})

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Type)
	payload, ok := hello.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "serve", payload["mode"])
	assert.Equal(t, "testnet", payload["network"])

	publish(bus, "markets", "set")
	env := readFrame(t, conn)
	assert.Equal(t, "change", env.Type)
	assert.Equal(t, "markets", env.Key)
	assert.Equal(t, "set", env.Op)
	assert.Equal(t, map[string]any{"key": "markets"}, env.Data)
}

func TestHubSubscriptionFiltering(t *testing.T) {
	bus, conn := startHub(t, func(key string) (any, bool) {
		if key == "account" {
			return nil, false
		}
		return []string{key}, true
	})
	assert.Equal(t, "hello", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Keys: []string{"*"}}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Keys: []string{"markets", "quotes:*"}}))

	// The snapshot of the exact key confirms the subscription was applied.
	snap := readFrame(t, conn)
	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, "markets", snap.Key)

	publish(bus, "events:top", "set")
	bus.ch <- []byte("not json")
	publish(bus, "quotes:BTC-USD", "prepend")

	env := readFrame(t, conn)
	assert.Equal(t, "change", env.Type)
	assert.Equal(t, "quotes:BTC-USD", env.Key)
	assert.Equal(t, "prepend", env.Op)
}

func TestClientIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"markets": true, "quotes:*": true}}

	assert.True(t, c.isSubscribed("markets"))
	assert.True(t, c.isSubscribed("quotes:ETH-USD"))
	assert.False(t, c.isSubscribed("market"))
	assert.False(t, c.isSubscribed("events:top"))
}
