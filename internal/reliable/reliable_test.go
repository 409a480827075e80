package reliable

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSendSucceedsOnImmediateAck(t *testing.T) {
	tr := NewTracker()
	var attempts int32

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Ack("abcd1234")
	}()

	ok := tr.Send("abcd1234", func() bool {
		atomic.AddInt32(&attempts, 1)
		return true
	})
	if !ok {
		t.Fatal("expected delivery success")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry needed)", attempts)
	}
}

func TestSendRetriesThenFails(t *testing.T) {
	tr := NewTracker()
	var attempts int32

	start := time.Now()
	ok := tr.Send("deadbeef", func() bool {
		atomic.AddInt32(&attempts, 1)
		return true
	})
	elapsed := time.Since(start)

	if ok {
		t.Fatal("expected delivery failure, no ACK ever sent")
	}
	if atomic.LoadInt32(&attempts) != MaxAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, MaxAttempts)
	}
	// 3 attempts * 2s ack wait + 2 * 1s retry delay, roughly.
	if elapsed < 3*AckTimeout {
		t.Fatalf("elapsed = %v, too short for %d attempts", elapsed, MaxAttempts)
	}
}

func TestAckForUnknownMessageIDIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Ack("not-waiting-on-this")
}
