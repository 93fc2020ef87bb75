//go:build linux || darwin || freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yang123vc/t2u"
)

var activeContext *t2u.Context

func init() {
	go sigHandler()
}

func sigHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	signal.Ignore(syscall.SIGPIPE)

	for range ch {
		if activeContext == nil {
			continue
		}
		log.Printf("t2u SNMP: %+v", activeContext.Snmp().Copy())
	}
}
