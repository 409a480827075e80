// Package presence runs the periodic PROFILE/PING broadcast loops: an
// initial discovery burst followed by a steady-state heartbeat, built as
// a two-phase schedule over a single periodic-worker goroutine.
package presence

import (
	"context"
	"log/slog"
	"time"
)

// BurstDuration is how long the initial discovery burst runs after start.
const BurstDuration = 5 * time.Second

// BurstInterval is the PROFILE+PING send cadence during the burst.
const BurstInterval = 1 * time.Second

// SteadyInterval is the PING cadence once the burst ends.
const SteadyInterval = 300 * time.Second

// FrameSender builds and sends the two presence frame types. The caller
// (root package) supplies these so this package stays free of codec/token
// concerns and is easy to test with stub sends.
type FrameSender interface {
	SendProfile() error
	SendPing() error
}

// Run drives the burst-then-steady-state schedule until ctx is canceled.
// It blocks; callers run it in its own goroutine.
func Run(ctx context.Context, fs FrameSender) {
	slog.Info("presence loop starting", "burst_duration", BurstDuration, "burst_interval", BurstInterval)

	burstTicker := time.NewTicker(BurstInterval)
	defer burstTicker.Stop()
	burstDeadline := time.NewTimer(BurstDuration)
	defer burstDeadline.Stop()

	sendBoth := func() {
		if err := fs.SendProfile(); err != nil {
			slog.Warn("presence: send profile failed", "err", err)
		}
		if err := fs.SendPing(); err != nil {
			slog.Warn("presence: send ping failed", "err", err)
		}
	}
	sendBoth() // fire immediately so peers discover us without waiting a full tick

burst:
	for {
		select {
		case <-ctx.Done():
			return
		case <-burstDeadline.C:
			break burst
		case <-burstTicker.C:
			sendBoth()
		}
	}

	slog.Info("presence loop entering steady state", "interval", SteadyInterval)
	steadyTicker := time.NewTicker(SteadyInterval)
	defer steadyTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-steadyTicker.C:
			if err := fs.SendPing(); err != nil {
				slog.Warn("presence: send ping failed", "err", err)
			}
		}
	}
}
