package t2u

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	c := defaultConfig()
	if c.udpTimeout != defaultUDPTimeout*time.Millisecond {
		t.Fatalf("udpTimeout = %v, want %v", c.udpTimeout, defaultUDPTimeout*time.Millisecond)
	}
	if c.udpRetries != defaultUDPRetries {
		t.Fatalf("udpRetries = %d, want %d", c.udpRetries, defaultUDPRetries)
	}
	if c.slideWindow != defaultSlideWindow {
		t.Fatalf("slideWindow = %d, want %d", c.slideWindow, defaultSlideWindow)
	}
	if c.sessionTimeout != defaultSessionTimeout*time.Second {
		t.Fatalf("sessionTimeout = %v, want %v", c.sessionTimeout, defaultSessionTimeout*time.Second)
	}
	if c.debugDelay != 0 || c.debugLoss != 0 || c.debugBandwidth != 0 {
		t.Fatalf("debug knobs should default to zero: %+v", c)
	}
}

func TestConfigApplyValidValues(t *testing.T) {
	cases := []struct {
		opt   Option
		value int
	}{
		{OptUDPTimeout, minUDPTimeout},
		{OptUDPTimeout, maxUDPTimeout},
		{OptUDPRetries, minUDPRetries},
		{OptUDPRetries, maxUDPRetries},
		{OptSlideWindow, minSlideWindow},
		{OptSlideWindow, maxSlideWindow},
		{OptSessionTimeout, minSessionTimeout},
		{OptSessionTimeout, maxSessionTimeout},
		{OptDebugDelay, 0},
		{OptDebugDelay, 5000},
		{OptDebugPacketLoss, minDebugPacketLoss},
		{OptDebugPacketLoss, maxDebugPacketLoss},
		{OptDebugBandwidth, 0},
		{OptDebugBandwidth, 1000000},
	}
	for _, tc := range cases {
		c := defaultConfig()
		if err := c.apply(tc.opt, tc.value); err != nil {
			t.Fatalf("apply(%d, %d): unexpected error: %v", tc.opt, tc.value, err)
		}
	}
}

func TestConfigApplyOutOfRange(t *testing.T) {
	cases := []struct {
		opt   Option
		value int
	}{
		{OptUDPTimeout, minUDPTimeout - 1},
		{OptUDPTimeout, maxUDPTimeout + 1},
		{OptUDPRetries, minUDPRetries - 1},
		{OptUDPRetries, maxUDPRetries + 1},
		{OptSlideWindow, minSlideWindow - 1},
		{OptSlideWindow, maxSlideWindow + 1},
		{OptSessionTimeout, minSessionTimeout - 1},
		{OptSessionTimeout, maxSessionTimeout + 1},
		{OptDebugDelay, -1},
		{OptDebugPacketLoss, minDebugPacketLoss - 1},
		{OptDebugPacketLoss, maxDebugPacketLoss + 1},
		{OptDebugBandwidth, -1},
	}
	for _, tc := range cases {
		c := defaultConfig()
		if err := c.apply(tc.opt, tc.value); err == nil {
			t.Fatalf("apply(%d, %d): expected ErrOptionRange, got nil", tc.opt, tc.value)
		}
	}
}

func TestConfigApplyUnknownOption(t *testing.T) {
	c := defaultConfig()
	if err := c.apply(Option(999), 1); err == nil {
		t.Fatalf("apply of unknown option should error")
	}
}

func TestConfigApplyDoesNotPartiallyApplyOnError(t *testing.T) {
	c := defaultConfig()
	before := c.udpTimeout
	if err := c.apply(OptUDPTimeout, maxUDPTimeout+1); err == nil {
		t.Fatalf("expected error for out-of-range udp timeout")
	}
	if c.udpTimeout != before {
		t.Fatalf("udpTimeout changed despite rejected value: got %v, want %v", c.udpTimeout, before)
	}
}
