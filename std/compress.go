package std

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// countingWriter sits between CompStream's snappy framing and the raw
// socket so CompStream can report how many bytes actually cross the wire,
// independent of whatever internal buffering snappy does.
type countingWriter struct {
	w net.Conn
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	atomic.AddUint64(&c.n, uint64(n))
	return n, err
}

// CompStream wraps a net.Conn with snappy framing, so a Session bound to a
// compress-enabled Rule reads and writes compressed bytes on the local TCP
// leg while the wire protocol above it never has to know. It tracks the
// plaintext-vs-wire byte totals on the outbound leg so a rule can report
// how much a given service's traffic actually benefits from compression.
type CompStream struct {
	conn net.Conn
	w    *snappy.Writer
	r    *snappy.Reader
	cw   *countingWriter

	plainOut uint64
}

func (c *CompStream) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *CompStream) Write(p []byte) (int, error) {
	if _, err := c.w.Write(p); err != nil {
		return 0, errors.WithStack(err)
	}
	if err := c.w.Flush(); err != nil {
		return 0, errors.WithStack(err)
	}
	atomic.AddUint64(&c.plainOut, uint64(len(p)))
	return len(p), nil
}

// Ratio reports the cumulative compression ratio on the outbound leg (wire
// bytes written to the socket divided by plaintext bytes handed to Write),
// or 1 before anything has been written.
func (c *CompStream) Ratio() float64 {
	plain := atomic.LoadUint64(&c.plainOut)
	if plain == 0 {
		return 1
	}
	return float64(atomic.LoadUint64(&c.cw.n)) / float64(plain)
}

func (c *CompStream) Close() error {
	return c.conn.Close()
}

func (c *CompStream) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *CompStream) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *CompStream) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *CompStream) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *CompStream) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// NewCompStream wraps conn so Read/Write pass through snappy. Flush is
// called on every Write since a session's segments are already chunked by
// the sliding window; buffering across writes would just add latency
// without a matching benefit here.
func NewCompStream(conn net.Conn) *CompStream {
	cw := &countingWriter{w: conn}
	return &CompStream{
		conn: conn,
		w:    snappy.NewBufferedWriter(cw),
		r:    snappy.NewReader(conn),
		cw:   cw,
	}
}
