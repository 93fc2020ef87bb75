package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/yang123vc/t2u/std"
)

// RuleSpec is the JSON/CLI shape of one client-side rule: a local TCP
// listener forwarded to the peer under a service name.
type RuleSpec struct {
	Service  string `json:"service"`
	Listen   string `json:"listen"`
	Compress bool   `json:"compress,omitempty"`
}

// Config is the client forwarder's full configuration, settable from CLI
// flags or overridden wholesale from a JSON file via -c, mirroring the
// teacher's own "-c overrides the shell flags" convention.
type Config struct {
	UDPListen      string     `json:"udplisten"`
	RemoteAddr     string     `json:"remoteaddr"`
	Rules          []RuleSpec `json:"rules"`
	UDPTimeout     int        `json:"udptimeout"`
	UDPRetries     int        `json:"udpretries"`
	SlideWindow    int        `json:"slidewindow"`
	SessionTimeout int        `json:"sessiontimeout"`
	DebugDelay     int        `json:"debugdelay"`
	DebugLoss      int        `json:"debugpacketloss"`
	DebugBandwidth int        `json:"debugbandwidth"`
	Log            string     `json:"log"`
	SnmpLog        string     `json:"snmplog"`
	SnmpPeriod     int        `json:"snmpperiod"`
	Quiet          bool       `json:"quiet"`
	Pprof          bool       `json:"pprof"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(config)
}

// parseRuleFlag parses one --rule value of the form
// "service=NAME,listen=HOST:PORT[,compress]".
func parseRuleFlag(s string) (RuleSpec, error) {
	var spec RuleSpec
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if field == "compress" {
			spec.Compress = true
			continue
		}
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return spec, errors.Errorf("t2u-client: malformed rule field %q", field)
		}
		switch kv[0] {
		case "service":
			spec.Service = kv[1]
		case "listen":
			spec.Listen = kv[1]
		default:
			return spec, errors.Errorf("t2u-client: unknown rule field %q", kv[0])
		}
	}
	if spec.Service == "" || spec.Listen == "" {
		return spec, errors.Errorf("t2u-client: rule %q needs both service= and listen=", s)
	}
	return spec, nil
}

// expandRuleSpecs turns any rule whose listen= names a port range
// ("host:minport-maxport") into one RuleSpec per port, each forwarding to
// its own service so the two ends of the tunnel pair up one session per
// port rather than colliding on a single service name.
func expandRuleSpecs(specs []RuleSpec) ([]RuleSpec, error) {
	var out []RuleSpec
	for _, spec := range specs {
		pr, err := std.ParsePortRange(spec.Listen)
		if err != nil {
			return nil, errors.Wrapf(err, "t2u-client: rule %q", spec.Service)
		}
		ports := pr.Ports()
		for _, port := range ports {
			expanded := spec
			expanded.Listen = net.JoinHostPort(pr.Host, strconv.Itoa(int(port)))
			if len(ports) > 1 {
				expanded.Service = fmt.Sprintf("%s-%d", spec.Service, port)
			}
			out = append(out, expanded)
		}
	}
	return out, nil
}
