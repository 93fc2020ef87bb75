package t2u

import (
	"fmt"
	"log"
	"sync"
)

// LogLevel mirrors the four levels of the original log callback contract.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	default:
		return "unknown"
	}
}

// Callbacks are registered process-wide, not per-Context, so existing
// embedders' semantics don't change underfoot as more Contexts are added.
// Any callback that blocks stalls every reactor currently running in the
// process; callers that need to do real work should hand off to their own
// goroutine/queue immediately.
var (
	callbackMu     sync.RWMutex
	unknownHandler func(ctx *Context, raw []byte)
	errorHandler   func(ctx *Context, rule *Rule, code ErrorCode, message string)
	logHandler     func(level LogLevel, message string)
)

// SetUnknownPacketHandler installs the process-wide callback invoked when a
// received UDP datagram fails the magic/version/length checks in Decode.
func SetUnknownPacketHandler(fn func(ctx *Context, raw []byte)) {
	callbackMu.Lock()
	unknownHandler = fn
	callbackMu.Unlock()
}

// SetErrorHandler installs the process-wide callback invoked on session
// failure, bind failure, or rule-validation failure. rule is nil for
// Context-level validation errors.
func SetErrorHandler(fn func(ctx *Context, rule *Rule, code ErrorCode, message string)) {
	callbackMu.Lock()
	errorHandler = fn
	callbackMu.Unlock()
}

// SetLogHandler installs the process-wide log sink. If unset, log lines fall
// back to the standard library's log package.
func SetLogHandler(fn func(level LogLevel, message string)) {
	callbackMu.Lock()
	logHandler = fn
	callbackMu.Unlock()
}

func emitUnknown(ctx *Context, raw []byte) {
	callbackMu.RLock()
	fn := unknownHandler
	callbackMu.RUnlock()
	if fn != nil {
		fn(ctx, raw)
	}
}

func emitError(ctx *Context, rule *Rule, code ErrorCode, message string) {
	callbackMu.RLock()
	fn := errorHandler
	callbackMu.RUnlock()
	if fn != nil {
		fn(ctx, rule, code, message)
		return
	}
	log.Printf("t2u: %s error: %s", code, message)
}

func emitLog(level LogLevel, format string, args ...interface{}) {
	callbackMu.RLock()
	fn := logHandler
	callbackMu.RUnlock()
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if fn != nil {
		fn(level, msg)
		return
	}
	log.Printf("[%s] %s", level, msg)
}
