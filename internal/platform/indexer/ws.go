package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// ackWait bounds the connection_init handshake.
	ackWait = 15 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	subprotocol = "graphql-transport-ws"
)

// graphql-transport-ws message types.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query string `json:"query"`
}

// Handler receives the canonical root rows of one pushed result.
type Handler func(rows json.RawMessage)

// Subscription is one active operation on the shared connection.
type Subscription struct {
	id      string
	entity  Entity
	doc     string
	handler Handler
	owner   *subscriber

	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// ID returns the protocol operation id.
func (s *Subscription) ID() string { return s.id }

// Done is closed once the subscription has ended, by Unsubscribe or because
// the server completed or failed it.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe sends complete and stops delivery. It is safe to call more
// than once and on a nil Subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.finish(true)
}

func (s *Subscription) finish(notify bool) {
	s.once.Do(func() {
		s.stopped.Store(true)
		s.owner.remove(s.id, notify)
		close(s.done)
	})
}

// subscriber owns the single websocket connection and restores every live
// subscription after a reconnect.
type subscriber struct {
	url    string
	schema *Schema
	logger *slog.Logger

	baseDelay time.Duration
	maxDelay  time.Duration

	mu           sync.Mutex
	conn         *websocket.Conn
	subs         map[string]*Subscription
	order        []string
	closed       bool
	reconnecting bool

	wmu  sync.Mutex
	done chan struct{}
}

func newSubscriber(url string, schema *Schema, logger *slog.Logger) *subscriber {
	return &subscriber{
		url:       url,
		schema:    schema,
		logger:    logger,
		baseDelay: reconnectDelay,
		maxDelay:  maxReconnectDelay,
		subs:      make(map[string]*Subscription),
		done:      make(chan struct{}),
	}
}

func (w *subscriber) subscribe(ctx context.Context, e Entity, doc string, h Handler) (*Subscription, error) {
	sub := &Subscription{
		id:      uuid.NewString(),
		entity:  e,
		doc:     doc,
		handler: h,
		owner:   w,
		done:    make(chan struct{}),
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, domain.ErrWSDisconnect
	}
	if w.conn == nil && !w.reconnecting {
		if err := w.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	w.subs[sub.id] = sub
	w.order = append(w.order, sub.id)

	// While reconnecting the operation is sent with the restored set.
	if w.conn != nil {
		if err := w.sendSubscribe(w.conn, sub); err != nil {
			delete(w.subs, sub.id)
			w.order = w.order[:len(w.order)-1]
			return nil, fmt.Errorf("send subscribe: %w", err)
		}
	}
	return sub, nil
}

// connectLocked dials, completes the connection_init handshake and re-sends
// every active subscription. Caller must hold w.mu.
func (w *subscriber) connectLocked(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Subprotocols:     []string{subprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := w.write(conn, wsMessage{Type: msgConnectionInit, Payload: json.RawMessage(`{}`)}); err != nil {
		conn.Close()
		return fmt.Errorf("connection init: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(ackWait))
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("await ack: %w", err)
	}
	if ack.Type != msgConnectionAck {
		conn.Close()
		return fmt.Errorf("await ack: unexpected %q", ack.Type)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, id := range w.order {
		if err := w.sendSubscribe(conn, w.subs[id]); err != nil {
			conn.Close()
			return fmt.Errorf("restore subscription: %w", err)
		}
	}

	w.conn = conn
	stop := make(chan struct{})
	go w.readLoop(conn, stop)
	go w.pingLoop(conn, stop)
	return nil
}

func (w *subscriber) sendSubscribe(conn *websocket.Conn, sub *Subscription) error {
	payload, err := json.Marshal(subscribePayload{Query: sub.doc})
	if err != nil {
		return err
	}
	return w.write(conn, wsMessage{ID: sub.id, Type: msgSubscribe, Payload: payload})
}

// write serialises writers; gorilla allows one concurrent writer.
func (w *subscriber) write(conn *websocket.Conn, msg wsMessage) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (w *subscriber) remove(id string, notify bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.subs[id]; !ok {
		return
	}
	delete(w.subs, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if notify && w.conn != nil {
		if err := w.write(w.conn, wsMessage{ID: id, Type: msgComplete}); err != nil {
			w.logger.Debug("send complete failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}

func (w *subscriber) lookup(id string) *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subs[id]
}

func (w *subscriber) close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	conn := w.conn
	w.conn = nil
	subs := make([]*Subscription, 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	w.mu.Unlock()

	for _, s := range subs {
		s.finish(false)
	}
	if conn == nil {
		return nil
	}
	w.wmu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	w.wmu.Unlock()
	return conn.Close()
}

// readLoop dispatches messages of one connection until it fails, then
// hands over to reconnect.
func (w *subscriber) readLoop(conn *websocket.Conn, stop chan struct{}) {
	defer close(stop)
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.logger.Warn("subscription connection lost", slog.String("error", err.Error()))
			w.mu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			w.reconnecting = true
			w.mu.Unlock()
			go w.reconnect()
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		w.handleMessage(conn, raw)
	}
}

func (w *subscriber) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (w *subscriber) handleMessage(conn *websocket.Conn, raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.Debug("drop unparseable message", slog.String("error", err.Error()))
		return
	}

	switch msg.Type {
	case msgPing:
		if err := w.write(conn, wsMessage{Type: msgPong}); err != nil {
			w.logger.Debug("send pong failed", slog.String("error", err.Error()))
		}

	case msgNext:
		sub := w.lookup(msg.ID)
		if sub == nil || sub.stopped.Load() {
			return
		}
		var resp graphqlResponse
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			w.logger.Warn("decode subscription payload",
				slog.String("entity", string(sub.entity)),
				slog.String("error", err.Error()),
			)
			return
		}
		if len(resp.Errors) > 0 {
			w.logger.Warn("subscription result errors",
				slog.String("entity", string(sub.entity)),
				slog.String("error", joinErrors(resp.Errors)),
			)
			return
		}
		rows, err := w.schema.rootRows(resp.Data, sub.entity)
		if err != nil {
			w.logger.Warn("decode subscription rows",
				slog.String("entity", string(sub.entity)),
				slog.String("error", err.Error()),
			)
			return
		}
		sub.handler(rows)

	case msgError:
		sub := w.lookup(msg.ID)
		if sub == nil {
			return
		}
		var errs []graphqlError
		_ = json.Unmarshal(msg.Payload, &errs)
		w.logger.Error("subscription failed",
			slog.String("entity", string(sub.entity)),
			slog.String("error", joinErrors(errs)),
		)
		sub.finish(false)

	case msgComplete:
		if sub := w.lookup(msg.ID); sub != nil {
			sub.finish(false)
		}

	case msgPong, msgConnectionAck:
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the subscriber is closed.
func (w *subscriber) reconnect() {
	delay := w.baseDelay

	for {
		timer := time.NewTimer(delay)
		select {
		case <-w.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.connectLocked(ctx)
		cancel()
		if err == nil {
			w.reconnecting = false
			n := len(w.subs)
			w.mu.Unlock()
			w.logger.Info("subscription connection restored", slog.Int("subscriptions", n))
			return
		}
		w.mu.Unlock()

		w.logger.Warn("reconnect failed",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
}
