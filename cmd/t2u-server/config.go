// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

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

// RuleSpec is the JSON/CLI shape of one server-side rule: a named service
// dialed to a local TCP target on demand.
type RuleSpec struct {
	Service  string `json:"service"`
	Target   string `json:"target"`
	Compress bool   `json:"compress,omitempty"`
}

// Config is the server forwarder's full configuration.
type Config struct {
	UDPListen      string     `json:"udplisten"`
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
// "service=NAME,target=HOST:PORT[,compress]".
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
			return spec, errors.Errorf("t2u-server: malformed rule field %q", field)
		}
		switch kv[0] {
		case "service":
			spec.Service = kv[1]
		case "target":
			spec.Target = kv[1]
		default:
			return spec, errors.Errorf("t2u-server: unknown rule field %q", kv[0])
		}
	}
	if spec.Service == "" || spec.Target == "" {
		return spec, errors.Errorf("t2u-server: rule %q needs both service= and target=", s)
	}
	return spec, nil
}

// expandRuleSpecs turns any rule whose target= names a port range
// ("host:minport-maxport") into one RuleSpec per port, each dialing its own
// service so the two ends of the tunnel pair up one session per port
// rather than colliding on a single service name.
func expandRuleSpecs(specs []RuleSpec) ([]RuleSpec, error) {
	var out []RuleSpec
	for _, spec := range specs {
		pr, err := std.ParsePortRange(spec.Target)
		if err != nil {
			return nil, errors.Wrapf(err, "t2u-server: rule %q", spec.Service)
		}
		ports := pr.Ports()
		for _, port := range ports {
			expanded := spec
			expanded.Target = net.JoinHostPort(pr.Host, strconv.Itoa(int(port)))
			if len(ports) > 1 {
				expanded.Service = fmt.Sprintf("%s-%d", spec.Service, port)
			}
			out = append(out, expanded)
		}
	}
	return out, nil
}
