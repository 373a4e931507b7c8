package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/switchboard/internal/dispatch"
)

// Dispatcher receives decoded events. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, e dispatch.Event) error
}

const (
	// defaultWorkers is the number of concurrent event dispatches.
	defaultWorkers = 4
	// inboundWindow caps unacknowledged events. It is also advertised to
	// the broker as the receive maximum, so enqueue never waits on a full
	// queue.
	inboundWindow = 64
)

// inbound is one received publish awaiting dispatch. ack releases it to
// the broker and must be called at most once.
type inbound struct {
	topic   string
	payload []byte
	ack     func() error
}

// eventWorkers runs dispatches off the paho receive path. A message is
// acknowledged only after it has been dispatched or found undecodable;
// anything still queued when the context ends stays unacknowledged and
// is redelivered on the next session.
type eventWorkers struct {
	queue   chan inbound
	d       Dispatcher
	limiter *messageRateLimiter // nil disables throttling
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func newEventWorkers(d Dispatcher, limiter *messageRateLimiter, depth int, logger *slog.Logger) *eventWorkers {
	if depth <= 0 {
		depth = inboundWindow
	}
	return &eventWorkers{
		queue:   make(chan inbound, depth),
		d:       d,
		limiter: limiter,
		logger:  logger,
	}
}

// enqueue hands a message to the workers. It reports false if ctx ended
// first, in which case the message was not acknowledged.
func (w *eventWorkers) enqueue(ctx context.Context, m inbound) bool {
	select {
	case w.queue <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

// start launches n workers that drain the queue until ctx is cancelled.
func (w *eventWorkers) start(ctx context.Context, n int) {
	if n <= 0 {
		n = defaultWorkers
	}
	for range n {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case m := <-w.queue:
					w.process(ctx, m)
				}
			}
		}()
	}
}

// wait blocks until every worker has exited.
func (w *eventWorkers) wait() { w.wg.Wait() }

// process decodes and dispatches one message. Undecodable envelopes are
// logged and acknowledged; dispatch failures are logged and acknowledged.
func (w *eventWorkers) process(ctx context.Context, m inbound) {
	e, err := dispatch.DecodeEnvelope(m.payload)
	if err != nil {
		w.logger.Warn("dropping malformed mqtt event",
			"topic", m.topic,
			"payload_size", len(m.payload),
			"error", err,
		)
		w.ack(m)
		return
	}

	if w.limiter != nil {
		if err := w.limiter.wait(ctx); err != nil {
			w.logger.Debug("mqtt event left unacknowledged at shutdown",
				"event_kind", e.Kind,
			)
			return
		}
	}

	w.logger.Debug("mqtt event received",
		"topic", m.topic,
		"event_kind", e.Kind,
		"payload_size", len(m.payload),
	)
	if err := w.d.Dispatch(ctx, e); err != nil && !errors.Is(err, dispatch.ErrUnknownKind) {
		w.logger.Warn("mqtt event dispatch failed",
			"event_kind", e.Kind,
			"error", err,
		)
	}
	w.ack(m)
}

func (w *eventWorkers) ack(m inbound) {
	if m.ack == nil {
		return
	}
	if err := m.ack(); err != nil {
		w.logger.Warn("mqtt ack failed", "topic", m.topic, "error", err)
	}
}

// messageRateLimiter paces inbound dispatches to limit per interval.
// Messages over the limit wait for the next interval instead of being
// dropped.
type messageRateLimiter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int64
	throttled   atomic.Int64
	limit       int64
	interval    time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// newMessageRateLimiter creates a rate limiter that allows limit
// messages per interval.
func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// start periodically reports how many messages had to wait until ctx is
// cancelled.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.throttled.Swap(0); n > 0 {
				r.logger.Warn("mqtt events throttled by rate limit",
					"throttled", n,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

// reserve claims a slot in the current interval. When none is left it
// returns how long until the next interval starts.
func (r *messageRateLimiter) reserve() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.windowStart.IsZero() || now.Sub(r.windowStart) >= r.interval {
		r.windowStart = now
		r.count = 0
	}
	if r.count < r.limit {
		r.count++
		return 0, true
	}
	return r.windowStart.Add(r.interval).Sub(now), false
}

// wait blocks until the message may be dispatched or ctx ends.
func (r *messageRateLimiter) wait(ctx context.Context) error {
	counted := false
	for {
		delay, ok := r.reserve()
		if ok {
			return nil
		}
		if !counted {
			r.throttled.Add(1)
			counted = true
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
