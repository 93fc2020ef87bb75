package std

import "testing"

func TestParsePortRangeValid(t *testing.T) {
	tests := []struct {
		name string
		addr string
		host string
		min  uint16
		max  uint16
	}{
		{name: "SinglePort", addr: "example.com:2000", host: "example.com", min: 2000, max: 2000},
		{name: "Range", addr: "example.com:2000-2005", host: "example.com", min: 2000, max: 2005},
		{name: "IPv4Range", addr: "0.0.0.0:1-65535", host: "0.0.0.0", min: 1, max: 65535},
		{name: "EmptyHost", addr: ":8080", host: "", min: 8080, max: 8080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr, err := ParsePortRange(tt.addr)
			if err != nil {
				t.Fatalf("ParsePortRange(%q) unexpected error: %v", tt.addr, err)
			}
			if pr.Host != tt.host || pr.Min != tt.min || pr.Max != tt.max {
				t.Fatalf("ParsePortRange(%q) = %+v, want host=%q min=%d max=%d", tt.addr, pr, tt.host, tt.min, tt.max)
			}
		})
	}
}

func TestParsePortRangeInvalid(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{name: "MissingPort", addr: "example.com"},
		{name: "ZeroPort", addr: "example.com:0"},
		{name: "PortTooLarge", addr: "example.com:70000"},
		{name: "MaxLessThanMin", addr: "example.com:3000-2000"},
		{name: "HighRange", addr: "example.com:65534-70000"},
		{name: "EmptyPort", addr: "example.com:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePortRange(tt.addr); err == nil {
				t.Fatalf("ParsePortRange(%q) expected error", tt.addr)
			}
		})
	}
}

func TestPortRangePorts(t *testing.T) {
	pr, err := ParsePortRange("host:9000-9003")
	if err != nil {
		t.Fatalf("ParsePortRange: %v", err)
	}
	got := pr.Ports()
	want := []uint16{9000, 9001, 9002, 9003}
	if len(got) != len(want) {
		t.Fatalf("Ports() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ports() = %v, want %v", got, want)
		}
	}
}
