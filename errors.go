package t2u

import "github.com/pkg/errors"

// ErrorCode classifies the failures reported through the error handler,
// per the error-kind taxonomy of spec.md §7.
type ErrorCode int

const (
	// ErrValidation covers bad option values, bad rule parameters, a
	// duplicate rule, or an oversized service name.
	ErrValidation ErrorCode = iota
	// ErrResource covers TCP bind/connect failure or socket-creation failure.
	ErrResource
	// ErrTransport is reported for retry exhaustion and for a CONNECT_FAIL
	// from the peer. A peer CLOSE or a stateless reset ends a session
	// without a report.
	ErrTransport
	// ErrProtocol is reported only when an outbound packet fails to
	// encode. Malformed packets, unknown session ids and CONNECT for an
	// unknown service are dropped or answered on the wire without a report.
	// Never fatal to the Context.
	ErrProtocol
	// ErrFatal covers a UDP socket that has become permanently unusable.
	ErrFatal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrValidation:
		return "validation"
	case ErrResource:
		return "resource"
	case ErrTransport:
		return "transport"
	case ErrProtocol:
		return "protocol"
	case ErrFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrDuplicateRule is returned by AddRule when a rule with the same
	// (role, service) already exists on the Context.
	ErrDuplicateRule = errors.New("t2u: duplicate rule")
	// ErrInvalidService is returned by AddRule for an empty or oversized service name.
	ErrInvalidService = errors.New("t2u: invalid service name")
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("t2u: context closed")
	// ErrUnknownService is the transport-level cause of a CONNECT_FAIL(unknown-service).
	ErrUnknownService = errors.New("t2u: unknown service")
	// ErrConnectRefused is the transport-level cause of a CONNECT_FAIL(connect-refused).
	ErrConnectRefused = errors.New("t2u: connect refused")
	// ErrRetryExhausted marks a session transitioning to Failed after udp_retries.
	ErrRetryExhausted = errors.New("t2u: retry exhausted")
	// ErrOptionRange is returned by SetOption for an out-of-range value.
	ErrOptionRange = errors.New("t2u: option value out of range")
)
