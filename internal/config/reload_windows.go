//go:build windows

package config

import "os"

// Windows has no SIGHUP; only file changes trigger a reload.
func reloadSignals() chan os.Signal { return nil }

func stopSignals(chan os.Signal) {}
