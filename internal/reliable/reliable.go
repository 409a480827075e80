// Package reliable implements the ACK/retry layer used for unicast
// messages that demand a delivery guarantee: DMs and tic-tac-toe moves.
// Tic-tac-toe results and group messages are sent without it.
package reliable

import (
	"log/slog"
	"sync"
	"time"
)

// AckTimeout is how long a single send waits for an ACK before retrying.
const AckTimeout = 2 * time.Second

// MaxAttempts bounds the total number of transmissions (including the
// first) for one reliable send.
const MaxAttempts = 3

// RetryDelay is the pause between attempts.
const RetryDelay = 1 * time.Second

// Tracker correlates inbound ACK frames (keyed by MESSAGE_ID) with
// in-flight reliable sends. Correlation happens through the shared
// listener, never a per-send ephemeral socket, so a retransmit and its
// original send both resolve against the same waiter.
type Tracker struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{waiters: make(map[string]chan struct{})}
}

// Ack notifies any waiter blocked on messageID that an ACK arrived. It is
// safe to call even if no one is waiting (e.g. a duplicate/late ACK).
func (t *Tracker) Ack(messageID string) {
	t.mu.Lock()
	ch, ok := t.waiters[messageID]
	t.mu.Unlock()
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (t *Tracker) register(messageID string) chan struct{} {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	t.waiters[messageID] = ch
	t.mu.Unlock()
	return ch
}

func (t *Tracker) unregister(messageID string) {
	t.mu.Lock()
	delete(t.waiters, messageID)
	t.mu.Unlock()
}

// Sender is the minimal capability Send needs: transmit one already-built
// frame to a destination.
type Sender func() bool

// Send transmits via send up to MaxAttempts times, waiting up to
// AckTimeout for an ACK correlated by messageID between attempts. It
// returns true once an ACK arrives, false after the final failed attempt.
func (t *Tracker) Send(messageID string, send Sender) bool {
	ch := t.register(messageID)
	defer t.unregister(messageID)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if !send() {
			slog.Warn("reliable send: local transmit failed", "message_id", messageID, "attempt", attempt)
		} else {
			select {
			case <-ch:
				return true
			case <-time.After(AckTimeout):
			}
		}
		if attempt < MaxAttempts {
			time.Sleep(RetryDelay)
		}
	}
	slog.Warn("reliable send: exhausted retries, delivery failed", "message_id", messageID, "attempts", MaxAttempts)
	return false
}
