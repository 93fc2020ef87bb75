package t2u

import (
	"testing"
	"time"
)

func TestSendWindowFullAndAck(t *testing.T) {
	w := newSendWindow(2)
	now := time.Now()
	if w.full() {
		t.Fatalf("new window should not be full")
	}
	w.push(1, []byte("a"), now)
	w.push(2, []byte("b"), now)
	if !w.full() {
		t.Fatalf("window should be full at capacity")
	}
	if removed := w.ackUpTo(1); removed != 1 {
		t.Fatalf("ackUpTo(1) removed %d, want 1", removed)
	}
	if w.full() {
		t.Fatalf("window should have room after ack")
	}
	if removed := w.ackUpTo(2); removed != 1 {
		t.Fatalf("ackUpTo(2) removed %d, want 1", removed)
	}
	if !w.empty() {
		t.Fatalf("window should be empty after acking everything")
	}
}

func TestSendWindowAckIsCumulativeAndIdempotent(t *testing.T) {
	w := newSendWindow(4)
	now := time.Now()
	w.push(1, nil, now)
	w.push(2, nil, now)
	w.push(3, nil, now)
	if removed := w.ackUpTo(2); removed != 2 {
		t.Fatalf("ackUpTo(2) removed %d, want 2", removed)
	}
	if removed := w.ackUpTo(2); removed != 0 {
		t.Fatalf("re-acking an already-acked sequence should remove nothing, got %d", removed)
	}
}

func TestSendWindowExpiryAndRetries(t *testing.T) {
	w := newSendWindow(4)
	base := time.Now()
	w.push(1, []byte("x"), base)
	timeout := 10 * time.Millisecond

	var seen []uint32
	w.forEachExpired(base, timeout, func(seq uint32, payload []byte, retries int) {
		seen = append(seen, seq)
	})
	if len(seen) != 0 {
		t.Fatalf("segment should not be expired immediately")
	}

	later := base.Add(timeout)
	w.forEachExpired(later, timeout, func(seq uint32, payload []byte, retries int) {
		seen = append(seen, seq)
		if retries != 1 {
			t.Fatalf("expected first retry, got %d", retries)
		}
	})
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("expected segment 1 to expire once, got %v", seen)
	}
	if w.maxRetries() != 1 {
		t.Fatalf("maxRetries() = %d, want 1", w.maxRetries())
	}
}

func TestRecvWindowInOrderDelivery(t *testing.T) {
	w := newRecvWindow(4)
	out := w.receive(1, []byte("a"))
	if !out.shouldAck || out.ackSeq != 1 || len(out.deliver) != 1 {
		t.Fatalf("unexpected outcome for first in-order segment: %+v", out)
	}
}

func TestRecvWindowBuffersOutOfOrderThenDrains(t *testing.T) {
	w := newRecvWindow(4)
	out := w.receive(3, []byte("c"))
	if out.shouldDrop || len(out.deliver) != 0 {
		t.Fatalf("out-of-order segment should buffer, not deliver: %+v", out)
	}
	out = w.receive(2, []byte("b"))
	if len(out.deliver) != 0 {
		t.Fatalf("segment 2 still has a gap at 1, should not deliver yet: %+v", out)
	}
	out = w.receive(1, []byte("a"))
	if len(out.deliver) != 3 {
		t.Fatalf("segment 1 should drain the buffered run 1,2,3: got %d", len(out.deliver))
	}
	if out.ackSeq != 3 {
		t.Fatalf("ackSeq = %d, want 3", out.ackSeq)
	}
}

func TestRecvWindowDropsBelowAndBeyondWindow(t *testing.T) {
	w := newRecvWindow(2)
	w.receive(1, []byte("a")) // nextExpected now 2

	dup := w.receive(1, []byte("a"))
	if dup.shouldDrop || !dup.shouldAck {
		t.Fatalf("already-delivered segment should re-ack, not drop: %+v", dup)
	}

	beyond := w.receive(10, []byte("z"))
	if !beyond.shouldDrop {
		t.Fatalf("segment far beyond the window should be dropped: %+v", beyond)
	}
}

func TestRecvWindowLastAck(t *testing.T) {
	w := newRecvWindow(4)
	if w.lastAck() != 0 {
		t.Fatalf("lastAck() before any delivery = %d, want 0", w.lastAck())
	}
	w.receive(1, []byte("a"))
	if w.lastAck() != 1 {
		t.Fatalf("lastAck() = %d, want 1", w.lastAck())
	}
}
