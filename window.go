package t2u

import "time"

// segment is one outbound unacknowledged DATA payload.
type segment struct {
	seq     uint32
	payload []byte
	sentAt  time.Time
	retries int
}

// sendWindow is the bounded ordered buffer of unacknowledged outbound
// segments described in spec.md §3: segments are ordered by sequence
// number, the low edge is the next expected ack, and a segment is removed
// only when acked or when retries are exhausted.
type sendWindow struct {
	capacity int
	segments []segment // ordered by ascending seq, seq[i] == seq[0]+i is NOT assumed (gaps never occur: we only ever append the next seq)
}

func newSendWindow(capacity int) *sendWindow {
	return &sendWindow{capacity: capacity}
}

// full reports whether the window has no room for another in-flight segment.
func (w *sendWindow) full() bool {
	return len(w.segments) >= w.capacity
}

// push enqueues a freshly-sent segment. Caller must have checked !full().
func (w *sendWindow) push(seq uint32, payload []byte, now time.Time) {
	w.segments = append(w.segments, segment{seq: seq, payload: payload, sentAt: now})
}

// ackUpTo removes every segment with seq <= n (cumulative ack). It returns
// the number of segments removed.
func (w *sendWindow) ackUpTo(n uint32) int {
	i := 0
	for i < len(w.segments) && w.segments[i].seq <= n {
		i++
	}
	if i == 0 {
		return 0
	}
	removed := i
	w.segments = append(w.segments[:0], w.segments[i:]...)
	return removed
}

// empty reports whether every sent segment has been acknowledged.
func (w *sendWindow) empty() bool {
	return len(w.segments) == 0
}

// forEachExpired finds, in place, every segment whose retransmit deadline
// has passed, bumping its retry count and send time. It calls fn for each
// such segment's seq/payload/new retry count so the caller can re-transmit
// it; it returns nothing, and the caller uses maxRetries to tell when a
// segment has exceeded udp_retries.
func (w *sendWindow) forEachExpired(now time.Time, timeout time.Duration, fn func(seq uint32, payload []byte, retries int)) {
	for i := range w.segments {
		s := &w.segments[i]
		if now.Sub(s.sentAt) >= timeout {
			s.retries++
			s.sentAt = now
			fn(s.seq, s.payload, s.retries)
		}
	}
}

// maxRetries returns the highest retry count currently outstanding, or -1 if
// the window is empty.
func (w *sendWindow) maxRetries() int {
	max := -1
	for i := range w.segments {
		if w.segments[i].retries > max {
			max = w.segments[i].retries
		}
	}
	return max
}

// recvWindow is the bounded out-of-order receive buffer described in
// spec.md §3 and §4.3: segments outside [next_expected, next_expected+W)
// are dropped, buffered segments are delivered once contiguous, and every
// inbound DATA below or inside the window provokes a cumulative ACK (a
// segment beyond the window is dropped without one).
type recvWindow struct {
	capacity     int
	nextExpected uint32            // next in-order sequence number expected; seq < this has been delivered
	buffered     map[uint32][]byte // out-of-order segments held pending the gap filling
}

func newRecvWindow(capacity int) *recvWindow {
	return &recvWindow{
		capacity:     capacity,
		nextExpected: 1,
		buffered:     make(map[uint32][]byte),
	}
}

// recvOutcome tells the caller what to do after feeding one DATA segment in.
type recvOutcome struct {
	deliver    [][]byte // bytes to push to the local TCP socket, in order
	ackSeq     uint32   // cumulative sequence to acknowledge
	shouldAck  bool
	shouldDrop bool // segment fell entirely outside the window; no ack even
}

// receive processes one inbound DATA segment per the rules of spec.md §4.3.
func (w *recvWindow) receive(seq uint32, payload []byte) recvOutcome {
	switch {
	case seq < w.nextExpected:
		// already delivered: re-ack cumulative, drop payload
		return recvOutcome{ackSeq: w.nextExpected - 1, shouldAck: true}
	case seq == w.nextExpected:
		out := recvOutcome{shouldAck: true}
		out.deliver = append(out.deliver, payload)
		w.nextExpected++
		// drain any contiguous buffered segments
		for {
			b, ok := w.buffered[w.nextExpected]
			if !ok {
				break
			}
			out.deliver = append(out.deliver, b)
			delete(w.buffered, w.nextExpected)
			w.nextExpected++
		}
		out.ackSeq = w.nextExpected - 1
		return out
	case seq < w.nextExpected+uint32(w.capacity):
		if _, ok := w.buffered[seq]; !ok {
			w.buffered[seq] = payload
		}
		return recvOutcome{ackSeq: w.nextExpected - 1, shouldAck: true}
	default:
		return recvOutcome{shouldDrop: true}
	}
}

// lastAck is the cumulative sequence currently acknowledgeable (for PING replies).
func (w *recvWindow) lastAck() uint32 {
	return w.nextExpected - 1
}
