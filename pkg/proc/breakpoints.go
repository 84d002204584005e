package proc

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// Breakpoint represents a software breakpoint: the trap instruction
// written at Addr and the bytes it replaced.
type Breakpoint struct {
	ID   int
	Addr Address
	// OriginalData is the logical content of the memory under the trap.
	// Writes through Memory that fall on the breakpoint update it.
	OriginalData []byte
	// Enabled is false only while the breakpoint is temporarily suspended
	// to execute the original instruction.
	Enabled bool
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d at %#x", bp.ID, uint64(bp.Addr))
}

// BreakpointMap is the table of breakpoints installed in the tracee,
// keyed by address.
type BreakpointMap struct {
	M map[Address]*Breakpoint

	order   []Address
	breakID int
}

// NewBreakpointMap creates a new BreakpointMap.
func NewBreakpointMap() *BreakpointMap {
	return &BreakpointMap{M: make(map[Address]*Breakpoint)}
}

// Len returns the number of installed breakpoints.
func (bpmap *BreakpointMap) Len() int {
	return len(bpmap.M)
}

// forEachOverlapping calls fn for every enabled breakpoint whose trap
// overlaps [addr, addr+n).
func (bpmap *BreakpointMap) forEachOverlapping(addr Address, n int, fn func(*Breakpoint)) {
	for _, bpaddr := range bpmap.order {
		bp := bpmap.M[bpaddr]
		if bp.Enabled && bp.Addr.overlaps(len(bp.OriginalData), addr, n) {
			fn(bp)
		}
	}
}

func (bpmap *BreakpointMap) add(bp *Breakpoint) {
	bpmap.breakID++
	bp.ID = bpmap.breakID
	bpmap.M[bp.Addr] = bp
	bpmap.order = append(bpmap.order, bp.Addr)
}

func (bpmap *BreakpointMap) remove(addr Address) {
	delete(bpmap.M, addr)
	if i := slices.Index(bpmap.order, addr); i >= 0 {
		bpmap.order = slices.Delete(bpmap.order, i, i+1)
	}
}

func (bpmap *BreakpointMap) reset() {
	bpmap.M = make(map[Address]*Breakpoint)
	bpmap.order = nil
}

// BreakpointManager installs and removes breakpoints. It owns the table
// and is the only component that patches trap instructions into memory.
type BreakpointManager struct {
	arch *Arch
	mem  *Memory
	bps  *BreakpointMap
}

// NewBreakpointManager returns a manager that patches memory through mem.
// mem must have been created with the same table as bps.
func NewBreakpointManager(arch *Arch, mem *Memory, bps *BreakpointMap) *BreakpointManager {
	return &BreakpointManager{arch: arch, mem: mem, bps: bps}
}

// Set installs a breakpoint at addr. Setting a breakpoint where one
// already exists is a no-op and returns the existing breakpoint.
func (bm *BreakpointManager) Set(addr Address) (*Breakpoint, error) {
	if bp, ok := bm.bps.M[addr]; ok {
		return bp, nil
	}
	size := bm.arch.BreakpointSize()
	if addr.AlignDown(bm.arch.InstructionAlignment()) != addr {
		return nil, &InvalidAddressError{Addr: addr, Err: errors.New("misaligned instruction address")}
	}
	for _, other := range bm.bps.M {
		if other.Addr.overlaps(len(other.OriginalData), addr, size) {
			return nil, &InvalidAddressError{Addr: addr, Err: fmt.Errorf("overlaps breakpoint %d", other.ID)}
		}
	}
	orig, err := bm.mem.readPhysical(addr, size)
	if err != nil {
		return nil, err
	}
	if err := bm.mem.writePhysical(addr, bm.arch.BreakpointInstruction(), orig); err != nil {
		return nil, err
	}
	bp := &Breakpoint{Addr: addr, OriginalData: orig, Enabled: true}
	bm.bps.add(bp)
	return bp, nil
}

// Clear removes the breakpoint at addr, restoring its original data.
// Clearing an address without a breakpoint is a no-op.
func (bm *BreakpointManager) Clear(addr Address) error {
	bp, ok := bm.bps.M[addr]
	if !ok {
		return nil
	}
	if bp.Enabled {
		if err := bm.mem.writePhysical(bp.Addr, bp.OriginalData, bm.arch.BreakpointInstruction()); err != nil {
			return err
		}
	}
	bm.bps.remove(addr)
	return nil
}

// ClearAll removes every breakpoint. It keeps going after a failure and
// returns the first error encountered.
func (bm *BreakpointManager) ClearAll() error {
	var firstErr error
	for _, addr := range slices.Clone(bm.bps.order) {
		if err := bm.Clear(addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Find returns the breakpoint at addr, or nil.
func (bm *BreakpointManager) Find(addr Address) *Breakpoint {
	return bm.bps.M[addr]
}

// List returns a copy of the installed breakpoints in the order they
// were set.
func (bm *BreakpointManager) List() []Breakpoint {
	r := make([]Breakpoint, 0, len(bm.bps.order))
	for _, addr := range bm.bps.order {
		bp := *bm.bps.M[addr]
		bp.OriginalData = slices.Clone(bp.OriginalData)
		r = append(r, bp)
	}
	return r
}

// Forget drops the table without touching memory, used once the tracee
// has exited.
func (bm *BreakpointManager) Forget() {
	bm.bps.reset()
}

// suspend puts the original instruction back at bp so that it can be
// executed. The logical view of memory is unaffected.
func (bm *BreakpointManager) suspend(bp *Breakpoint) error {
	if !bp.Enabled {
		return nil
	}
	if err := bm.mem.writePhysical(bp.Addr, bp.OriginalData, bm.arch.BreakpointInstruction()); err != nil {
		return err
	}
	bp.Enabled = false
	return nil
}

// restore reinstalls the trap at a suspended breakpoint.
func (bm *BreakpointManager) restore(bp *Breakpoint) error {
	if bp.Enabled {
		return nil
	}
	if err := bm.mem.writePhysical(bp.Addr, bm.arch.BreakpointInstruction(), bp.OriginalData); err != nil {
		return err
	}
	bp.Enabled = true
	return nil
}
