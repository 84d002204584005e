// Package proc is a low-level package that provides methods to manipulate
// the process we are debugging.
//
// proc implements the architecture-independent part of the engine:
// * the architecture profiles and the logical register set
// * the memory accessor that hides breakpoint instrumentation
// * the breakpoint table
// * the process controller driving continue and single-step
//
// The operating system specific part lives in the native subpackage and is
// reached through the Process interface.
package proc
