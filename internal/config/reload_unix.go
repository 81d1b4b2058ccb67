//go:build !windows

package config

import (
	"os"
	"os/signal"
	"syscall"
)

func reloadSignals() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	return ch
}

func stopSignals(ch chan os.Signal) {
	if ch != nil {
		signal.Stop(ch)
	}
}
