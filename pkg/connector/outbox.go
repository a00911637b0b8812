// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type queuedEvent struct {
	evt      OutboundEvent
	queuedAt time.Time
}

// Outbox buffers outbound events per bridge until the plugin polls for them.
// Delivery is lossy: each queue is capped in length and age, and overflow
// drops the oldest events.
type Outbox struct {
	log    zerolog.Logger
	limit  int
	maxAge time.Duration
	now    func() time.Time

	mu     sync.Mutex
	queues map[string][]queuedEvent
}

// NewOutbox creates an outbox. A limit of zero or less disables the length
// cap and a maxAge of zero or less disables expiry.
func NewOutbox(limit int, maxAge time.Duration, log zerolog.Logger) *Outbox {
	return &Outbox{
		log:    log,
		limit:  limit,
		maxAge: maxAge,
		now:    time.Now,
		queues: make(map[string][]queuedEvent),
	}
}

// Enqueue appends evt to the queue of the given bridge.
func (o *Outbox) Enqueue(bridgeID string, evt OutboundEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	q := o.expire(bridgeID, o.queues[bridgeID], now)
	if o.limit > 0 && len(q) >= o.limit {
		overflow := len(q) - o.limit + 1
		o.log.Warn().
			Str("bridge", shortToken(bridgeID)).
			Int("dropped", overflow).
			Int("limit", o.limit).
			Msg("Outbound queue full, dropping oldest events")
		q = q[overflow:]
	}
	o.queues[bridgeID] = append(q, queuedEvent{evt: evt, queuedAt: now})
}

// Drain returns every queued event for the bridge in enqueue order and
// clears the queue. The result is never nil.
func (o *Outbox) Drain(bridgeID string) []OutboundEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.expire(bridgeID, o.queues[bridgeID], o.now())
	delete(o.queues, bridgeID)
	events := make([]OutboundEvent, len(q))
	for i, item := range q {
		events[i] = item.evt
	}
	return events
}

// Drop discards the bridge's queue and returns how many events it held.
func (o *Outbox) Drop(bridgeID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.queues[bridgeID])
	delete(o.queues, bridgeID)
	return n
}

// Len returns the number of events waiting for the bridge, including ones
// that have expired but haven't been swept yet.
func (o *Outbox) Len(bridgeID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[bridgeID])
}

// expire must be called with mu held.
func (o *Outbox) expire(bridgeID string, q []queuedEvent, now time.Time) []queuedEvent {
	if o.maxAge <= 0 || len(q) == 0 {
		return q
	}
	cutoff := now.Add(-o.maxAge)
	n := 0
	for n < len(q) && q[n].queuedAt.Before(cutoff) {
		n++
	}
	if n > 0 {
		o.log.Warn().
			Str("bridge", shortToken(bridgeID)).
			Int("dropped", n).
			Dur("max_age", o.maxAge).
			Msg("Dropping expired outbound events")
	}
	return q[n:]
}

// shortToken keeps bridge tokens out of logs while still letting log lines
// for the same bridge be correlated.
func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}
