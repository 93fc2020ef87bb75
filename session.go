package t2u

import (
	"io"
	"net"
	"time"

	"github.com/yang123vc/t2u/std"
)

// sessionState is a node in the state machine of spec.md §4.2: Idle,
// Connecting, Established, Closing, Closed, Failed.
type sessionState int

const (
	stateIdle sessionState = iota
	stateConnecting
	stateEstablished
	stateClosing
	stateClosed
	stateFailed
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateEstablished:
		return "established"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one reliable byte-stream multiplexed over a Context's UDP
// socket, paired with exactly one local TCP connection. Every field is
// touched only by the owning Context's reactor goroutine; there is
// deliberately no mutex here, the same way kcp-go's UDPSession confines its
// send/recv queues to a single updater goroutine.
type Session struct {
	id     uint16
	peerID uint16
	rule   *Rule
	ctx    *Context

	conn   net.Conn  // raw local TCP socket, used for Close/deadlines
	reader io.Reader // conn, or a std.CompStream wrapping it
	writer io.Writer

	state sessionState

	sendWin *sendWindow
	recvWin *recvWindow
	nextSeq uint32

	lastActivity time.Time
	lastSent     time.Time

	connectRetries int
	connectSentAt  time.Time
	awaitingDial   bool

	closeSent   bool
	closeRecv   bool
	localEOF    bool
	removing    bool // rule removed; drain recvWin into TCP but read no more from it
	closeLinger time.Time

	pendingOut []byte
	readBuf    [MaxPayload]byte
}

func newSession(ctx *Context, id uint16, rule *Rule) *Session {
	return &Session{
		id:      id,
		rule:    rule,
		ctx:     ctx,
		sendWin: newSendWindow(ctx.cfg.slideWindow),
		recvWin: newRecvWindow(ctx.cfg.slideWindow),
		nextSeq: 1,
	}
}

// bindConn attaches the session's local TCP socket, wrapping it with snappy
// compression when the owning rule asked for it.
func (s *Session) bindConn(conn net.Conn, compress bool) {
	s.conn = conn
	if compress {
		cs := std.NewCompStream(conn)
		s.reader = cs
		s.writer = cs
		return
	}
	s.reader = conn
	s.writer = conn
}

// compressionRatio reports the bound CompStream's wire/plaintext ratio, or
// 1 if the session isn't compressed.
func (s *Session) compressionRatio() float64 {
	if cs, ok := s.reader.(*std.CompStream); ok {
		return cs.Ratio()
	}
	return 1
}

func (s *Session) closeLingerDuration() time.Duration {
	d := 2 * s.ctx.cfg.udpTimeout
	if d < 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	return d
}

func connectFailMessage(reason byte) string {
	switch reason {
	case ReasonUnknownService:
		return "peer reported: " + ErrUnknownService.Error()
	case ReasonConnectRefused:
		return "peer reported: " + ErrConnectRefused.Error()
	default:
		return "peer reported connect failure"
	}
}
