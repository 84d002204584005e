package main

import (
	"os"
	"runtime"
)

var counter uint64 = 7

func init() {
	// keep main.main on the traced thread
	runtime.LockOSThread()
}

//go:noinline
func bump() {
	counter++
}

func main() {
	bump()
	os.Exit(int(counter))
}
