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
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/yang123vc/t2u"
	"github.com/yang123vc/t2u/std"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "t2u-client"
	myApp.Usage = "forward local TCP services over a shared UDP tunnel"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "udplisten",
			Value: ":0",
			Usage: "local UDP bind address",
		},
		cli.StringFlag{
			Name:  "remoteaddr, r",
			Value: "vps:29900",
			Usage: "peer UDP address, eg: \"IP:29900\"",
		},
		cli.StringSliceFlag{
			Name:  "rule",
			Usage: `a forwarded service: "service=NAME,listen=HOST:PORT[,compress]" (repeatable)`,
		},
		cli.IntFlag{
			Name:  "udp-timeout",
			Value: 500,
			Usage: "per-segment retransmit timeout in milliseconds",
		},
		cli.IntFlag{
			Name:  "udp-retries",
			Value: 3,
			Usage: "retransmissions allowed before a session fails",
		},
		cli.IntFlag{
			Name:  "slide-window",
			Value: 16,
			Usage: "send/receive window size in segments (1-64)",
		},
		cli.IntFlag{
			Name:  "session-timeout",
			Value: 900,
			Usage: "idle session expiry in seconds",
		},
		cli.IntFlag{
			Name:  "debug-delay",
			Usage: "artificial outbound delay in milliseconds, 0 to disable",
		},
		cli.IntFlag{
			Name:  "debug-packet-loss",
			Usage: "artificial outbound loss, n/10000, 0 to disable",
		},
		cli.IntFlag{
			Name:  "debug-bandwidth",
			Usage: "outbound bandwidth cap in bits/sec, 0 for unlimited",
		},
		cli.StringFlag{
			Name:  "snmplog",
			Usage: "collect snmp to file, aware of timeformat in golang, like: ./snmp-20060102.log",
		},
		cli.IntFlag{
			Name:  "snmpperiod",
			Value: 60,
			Usage: "snmp collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress session open/close messages",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	myApp.Run(os.Args)
}

func run(c *cli.Context) error {
	config := Config{
		UDPListen:      c.String("udplisten"),
		RemoteAddr:     c.String("remoteaddr"),
		UDPTimeout:     c.Int("udp-timeout"),
		UDPRetries:     c.Int("udp-retries"),
		SlideWindow:    c.Int("slide-window"),
		SessionTimeout: c.Int("session-timeout"),
		DebugDelay:     c.Int("debug-delay"),
		DebugLoss:      c.Int("debug-packet-loss"),
		DebugBandwidth: c.Int("debug-bandwidth"),
		Log:            c.String("log"),
		SnmpLog:        c.String("snmplog"),
		SnmpPeriod:     c.Int("snmpperiod"),
		Quiet:          c.Bool("quiet"),
		Pprof:          c.Bool("pprof"),
	}
	for _, r := range c.StringSlice("rule") {
		spec, err := parseRuleFlag(r)
		checkError(err)
		config.Rules = append(config.Rules, spec)
	}

	if c.String("c") != "" {
		checkError(parseJSONConfig(&config, c.String("c")))
	}

	expanded, err := expandRuleSpecs(config.Rules)
	checkError(err)
	config.Rules = expanded

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		defer f.Close()
		log.SetOutput(f)
	}
	if len(config.Rules) == 0 {
		color.Red("t2u-client: no --rule given, nothing to forward")
	}

	log.Println("version:", VERSION)
	log.Println("remote address:", config.RemoteAddr)
	log.Println("udp listen:", config.UDPListen)
	log.Println("udp-timeout:", config.UDPTimeout, "udp-retries:", config.UDPRetries)
	log.Println("slide-window:", config.SlideWindow, "session-timeout:", config.SessionTimeout)
	log.Println("debug-delay:", config.DebugDelay, "debug-packet-loss:", config.DebugLoss, "debug-bandwidth:", config.DebugBandwidth)

	peerAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
	checkError(err)
	localAddr, err := net.ResolveUDPAddr("udp", config.UDPListen)
	checkError(err)
	conn, err := net.DialUDP("udp", localAddr, peerAddr)
	checkError(err)

	ctx, err := t2u.NewContext(conn, nil,
		t2u.OptionValue{Opt: t2u.OptUDPTimeout, Value: config.UDPTimeout},
		t2u.OptionValue{Opt: t2u.OptUDPRetries, Value: config.UDPRetries},
		t2u.OptionValue{Opt: t2u.OptSlideWindow, Value: config.SlideWindow},
		t2u.OptionValue{Opt: t2u.OptSessionTimeout, Value: config.SessionTimeout},
		t2u.OptionValue{Opt: t2u.OptDebugDelay, Value: config.DebugDelay},
		t2u.OptionValue{Opt: t2u.OptDebugPacketLoss, Value: config.DebugLoss},
		t2u.OptionValue{Opt: t2u.OptDebugBandwidth, Value: config.DebugBandwidth},
	)
	checkError(err)
	activeContext = ctx

	t2u.SetLogHandler(func(level t2u.LogLevel, message string) {
		if config.Quiet {
			return
		}
		log.Printf("[%s] %s", level, message)
	})
	t2u.SetErrorHandler(func(ctx *t2u.Context, rule *t2u.Rule, code t2u.ErrorCode, message string) {
		color.Red("t2u: %s: %s", code, message)
	})

	for _, r := range config.Rules {
		host, portStr, err := net.SplitHostPort(r.Listen)
		checkError(err)
		port, err := parsePort(portStr)
		checkError(err)
		_, err = ctx.AddRule(t2u.RoleClient, r.Service, host, port, r.Compress)
		checkError(err)
		log.Println("forwarding", r.Listen, "->", r.Service, "compress:", r.Compress)
	}

	go std.SnmpLogger(ctx.Snmp(), config.SnmpLog, config.SnmpPeriod)

	if config.Pprof {
		go http.ListenAndServe(":6060", nil)
	}

	select {}
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "t2u-client: bad port %q", s)
	}
	if n < 0 || n > 65535 {
		return 0, errors.Errorf("t2u-client: port %d out of range", n)
	}
	return uint16(n), nil
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
