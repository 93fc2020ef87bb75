package std

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PortRange is a host bound to either a single port or an inclusive range,
// as accepted by a --rule flag's listen=/target= field written as
// "host:port" or "host:minport-maxport".
type PortRange struct {
	Host string
	Min  uint16
	Max  uint16
}

// ParsePortRange parses addr into a host and port range. A bare port
// ("host:2000") yields a range of one.
func ParsePortRange(addr string) (*PortRange, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return nil, errors.Errorf("std: malformed address %q, want host:port", addr)
	}
	host, portPart := addr[:idx], addr[idx+1:]
	if portPart == "" {
		return nil, errors.Errorf("std: malformed address %q, want host:port", addr)
	}

	minStr, maxStr := portPart, portPart
	if dash := strings.IndexByte(portPart, '-'); dash >= 0 {
		minStr, maxStr = portPart[:dash], portPart[dash+1:]
	}

	min, err := strconv.Atoi(minStr)
	if err != nil {
		return nil, errors.Wrapf(err, "std: bad port in %q", addr)
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil {
		return nil, errors.Wrapf(err, "std: bad port in %q", addr)
	}
	if min < 1 || max < 1 || min > 65535 || max > 65535 || min > max {
		return nil, errors.Errorf("std: invalid port range in %q", addr)
	}

	return &PortRange{Host: host, Min: uint16(min), Max: uint16(max)}, nil
}

// Ports enumerates every port the range covers, low to high.
func (p *PortRange) Ports() []uint16 {
	ports := make([]uint16, 0, int(p.Max)-int(p.Min)+1)
	for port := int(p.Min); port <= int(p.Max); port++ {
		ports = append(ports, uint16(port))
	}
	return ports
}
