package t2u

import "time"

// Option identifies a tunable Context knob, matching the CTX_* option codes
// of the original interface (see original_source/c/include/t2u.h).
type Option int

const (
	// OptUDPTimeout is the per-segment retransmit timer, 10-30000ms, default 500.
	OptUDPTimeout Option = iota
	// OptUDPRetries is the retransmissions allowed before Failed, 0-20, default 3.
	OptUDPRetries
	// OptSlideWindow is the send/receive window capacity, 1-64, default 16.
	OptSlideWindow
	// OptSessionTimeout is idle-session expiry in seconds, 10-86400, default 900.
	OptSessionTimeout
	// OptDebugDelay adds artificial delay (ms) to outbound UDP, default 0.
	OptDebugDelay
	// OptDebugPacketLoss drops outbound UDP with probability n/10000, default 0.
	OptDebugPacketLoss
	// OptDebugBandwidth caps outbound UDP to n bits/sec via a token bucket, 0=unlimited.
	OptDebugBandwidth
)

const (
	defaultUDPTimeout     = 500
	defaultUDPRetries     = 3
	defaultSlideWindow    = 16
	defaultSessionTimeout = 900

	minUDPTimeout, maxUDPTimeout         = 10, 30000
	minUDPRetries, maxUDPRetries         = 0, 20
	minSlideWindow, maxSlideWindow       = 1, 64
	minSessionTimeout, maxSessionTimeout = 10, 86400
	minDebugPacketLoss, maxDebugPacketLoss = 0, 10000
)

// config holds the validated, resolved values of every Option.
type config struct {
	udpTimeout     time.Duration
	udpRetries     int
	slideWindow    int
	sessionTimeout time.Duration
	debugDelay     time.Duration
	debugLoss      int // 0-10000, n/10000 probability
	debugBandwidth int // bits/sec, 0 = unlimited
}

func defaultConfig() config {
	return config{
		udpTimeout:     defaultUDPTimeout * time.Millisecond,
		udpRetries:     defaultUDPRetries,
		slideWindow:    defaultSlideWindow,
		sessionTimeout: defaultSessionTimeout * time.Second,
	}
}

// apply validates value against option's documented range and, if valid,
// mutates c. It never partially applies an out-of-range value.
func (c *config) apply(opt Option, value int) error {
	switch opt {
	case OptUDPTimeout:
		if value < minUDPTimeout || value > maxUDPTimeout {
			return ErrOptionRange
		}
		c.udpTimeout = time.Duration(value) * time.Millisecond
	case OptUDPRetries:
		if value < minUDPRetries || value > maxUDPRetries {
			return ErrOptionRange
		}
		c.udpRetries = value
	case OptSlideWindow:
		if value < minSlideWindow || value > maxSlideWindow {
			return ErrOptionRange
		}
		c.slideWindow = value
	case OptSessionTimeout:
		if value < minSessionTimeout || value > maxSessionTimeout {
			return ErrOptionRange
		}
		c.sessionTimeout = time.Duration(value) * time.Second
	case OptDebugDelay:
		if value < 0 {
			return ErrOptionRange
		}
		c.debugDelay = time.Duration(value) * time.Millisecond
	case OptDebugPacketLoss:
		if value < minDebugPacketLoss || value > maxDebugPacketLoss {
			return ErrOptionRange
		}
		c.debugLoss = value
	case OptDebugBandwidth:
		if value < 0 {
			return ErrOptionRange
		}
		c.debugBandwidth = value
	default:
		return ErrOptionRange
	}
	return nil
}
