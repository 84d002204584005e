//go:build !aix && !darwin && !dragonfly && !freebsd && !linux && !netbsd && !openbsd && !solaris && !zos
// +build !aix,!darwin,!dragonfly,!freebsd,!linux,!netbsd,!openbsd,!solaris,!zos

package config

import "syscall"

// signalNum knows no signal names here, pass-signals must be numeric.
func signalNum(name string) syscall.Signal {
	return 0
}
