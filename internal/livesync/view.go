package livesync

import (
	"log/slog"
	"sync"

	"github.com/alanyoungcy/justersync/internal/gateway"
	"github.com/alanyoungcy/justersync/internal/metrics"
)

// lifecycle is the fetch-then-subscribe bookkeeping shared by every view.
// Each Start opens a new generation; merges carry the generation they were
// opened under and are dropped once it is no longer current, so nothing is
// merged after Stop returns.
type lifecycle struct {
	name    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	gen    uint64
	active bool
	subs   []gateway.Subscription
}

func newLifecycle(name string, m *metrics.Metrics, logger *slog.Logger) *lifecycle {
	return &lifecycle{
		name:    name,
		metrics: m,
		logger:  logger.With(slog.String("view", name)),
	}
}

// begin stops the previous lifecycle and returns the new generation.
func (l *lifecycle) begin() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.gen++
	l.active = true
	if l.metrics != nil {
		l.metrics.ActiveViews.Inc()
	}
	return l.gen
}

// attach keeps subs for generation gen, or releases them at once when the
// view was stopped or restarted in the meantime.
func (l *lifecycle) attach(gen uint64, subs ...gateway.Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range subs {
		if s == nil {
			continue
		}
		if gen != l.gen || !l.active {
			s.Unsubscribe()
			continue
		}
		l.subs = append(l.subs, s)
	}
}

// seed runs fn when gen is still current.
func (l *lifecycle) seed(gen uint64, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || !l.active {
		return false
	}
	fn()
	return true
}

// merge runs fn for a push of generation gen and counts the outcome. fn
// reports whether the push changed the view; merge returns the same.
func (l *lifecycle) merge(gen uint64, fn func() bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || !l.active {
		l.count(false)
		return false
	}
	applied := fn()
	l.count(applied)
	return applied
}

func (l *lifecycle) count(applied bool) {
	if l.metrics == nil {
		return
	}
	if applied {
		l.metrics.PushesApplied.WithLabelValues(l.name).Inc()
	} else {
		l.metrics.PushesDropped.WithLabelValues(l.name).Inc()
	}
}

// Stop releases the subscriptions of the view. It is safe to call with no
// active lifecycle and more than once.
func (l *lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.gen++
}

// Active reports whether the view has an open lifecycle.
func (l *lifecycle) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *lifecycle) stopLocked() {
	for _, s := range l.subs {
		s.Unsubscribe()
	}
	l.subs = nil
	if l.active && l.metrics != nil {
		l.metrics.ActiveViews.Dec()
	}
	l.active = false
}
