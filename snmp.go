package t2u

import (
	"fmt"
	"sync/atomic"
)

// Snmp holds running counters for a Context, in the spirit of kcp-go's
// DefaultSnmp: cheap atomic counters a host process can sample or export to
// CSV (see std.SnmpLogger) without touching the reactor's hot path.
type Snmp struct {
	BytesSent        uint64
	BytesReceived    uint64
	SegmentsSent     uint64
	SegmentsAcked    uint64
	Retransmits      uint64
	DroppedPackets   uint64
	MalformedPackets uint64
	SessionsOpened   uint64
	SessionsClosed   uint64
	SessionsFailed   uint64
	CurrEstab        uint64
	MaxConn          uint64
}

// Header returns the CSV column names in the same order as ToSlice.
func (s *Snmp) Header() []string {
	return []string{
		"BytesSent", "BytesReceived", "SegmentsSent", "SegmentsAcked",
		"Retransmits", "DroppedPackets", "MalformedPackets",
		"SessionsOpened", "SessionsClosed", "SessionsFailed",
		"CurrEstab", "MaxConn",
	}
}

// ToSlice renders the current counter values as strings, in Header order.
func (s *Snmp) ToSlice() []string {
	v := s.Copy()
	return []string{
		fmt.Sprint(v.BytesSent), fmt.Sprint(v.BytesReceived),
		fmt.Sprint(v.SegmentsSent), fmt.Sprint(v.SegmentsAcked),
		fmt.Sprint(v.Retransmits), fmt.Sprint(v.DroppedPackets),
		fmt.Sprint(v.MalformedPackets),
		fmt.Sprint(v.SessionsOpened), fmt.Sprint(v.SessionsClosed),
		fmt.Sprint(v.SessionsFailed),
		fmt.Sprint(v.CurrEstab), fmt.Sprint(v.MaxConn),
	}
}

// Copy returns a point-in-time snapshot safe to read without races.
func (s *Snmp) Copy() *Snmp {
	return &Snmp{
		BytesSent:        atomic.LoadUint64(&s.BytesSent),
		BytesReceived:    atomic.LoadUint64(&s.BytesReceived),
		SegmentsSent:     atomic.LoadUint64(&s.SegmentsSent),
		SegmentsAcked:    atomic.LoadUint64(&s.SegmentsAcked),
		Retransmits:      atomic.LoadUint64(&s.Retransmits),
		DroppedPackets:   atomic.LoadUint64(&s.DroppedPackets),
		MalformedPackets: atomic.LoadUint64(&s.MalformedPackets),
		SessionsOpened:   atomic.LoadUint64(&s.SessionsOpened),
		SessionsClosed:   atomic.LoadUint64(&s.SessionsClosed),
		SessionsFailed:   atomic.LoadUint64(&s.SessionsFailed),
		CurrEstab:        atomic.LoadUint64(&s.CurrEstab),
		MaxConn:          atomic.LoadUint64(&s.MaxConn),
	}
}

// Reset zeroes every counter.
func (s *Snmp) Reset() {
	*s = Snmp{}
}

func (s *Snmp) sessionOpened() {
	atomic.AddUint64(&s.SessionsOpened, 1)
	cur := atomic.AddUint64(&s.CurrEstab, 1)
	for {
		max := atomic.LoadUint64(&s.MaxConn)
		if cur <= max || atomic.CompareAndSwapUint64(&s.MaxConn, max, cur) {
			break
		}
	}
}

func (s *Snmp) sessionClosed() {
	atomic.AddUint64(&s.SessionsClosed, 1)
	atomic.AddUint64(&s.CurrEstab, ^uint64(0))
}

func (s *Snmp) sessionFailed() {
	atomic.AddUint64(&s.SessionsFailed, 1)
	atomic.AddUint64(&s.CurrEstab, ^uint64(0))
}
