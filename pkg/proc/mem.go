package proc

import (
	"errors"
	"fmt"
	"syscall"
)

// Memory is the only channel to the tracee's address space. Its logical
// methods (Read, Write, ReadWord, WriteWord) hide breakpoint
// instrumentation: bytes covered by an enabled breakpoint read as the saved
// original data, and writes to them update the saved data instead of the
// trap. The physical methods are reserved to the breakpoint manager.
type Memory struct {
	arch *Arch
	proc Process
	bps  *BreakpointMap
}

// NewMemory returns a Memory accessor for p that reconciles its content
// with the breakpoints in bps.
func NewMemory(arch *Arch, p Process, bps *BreakpointMap) *Memory {
	return &Memory{arch: arch, proc: p, bps: bps}
}

// MaxReadSize is the largest number of bytes Read returns at once.
const MaxReadSize = 1 << 20

// Read returns the n bytes at addr as the program would see them without
// breakpoints.
func (m *Memory) Read(addr Address, n int) ([]byte, error) {
	if n > MaxReadSize {
		return nil, &MalformedArgumentError{Arg: fmt.Sprint(n), Reason: fmt.Sprintf("count exceeds %d bytes", MaxReadSize)}
	}
	data, err := m.readPhysical(addr, n)
	if err != nil {
		return nil, err
	}
	m.bps.forEachOverlapping(addr, n, func(bp *Breakpoint) {
		for i := range bp.OriginalData {
			a := bp.Addr + Address(i)
			if a >= addr && a < addr+Address(n) {
				data[a-addr] = bp.OriginalData[i]
			}
		}
	})
	return data, nil
}

// Write stores data at addr. Bytes falling on an enabled breakpoint
// replace its saved original data and the trap stays in place, so that
// clearing the breakpoint later restores what was written here.
// Either the whole range is written or nothing is.
func (m *Memory) Write(addr Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	old, err := m.readPhysical(addr, len(data))
	if err != nil {
		return err
	}
	raw := make([]byte, len(data))
	copy(raw, data)

	type pending struct {
		bp   *Breakpoint
		orig []byte
	}
	var updates []pending
	m.bps.forEachOverlapping(addr, len(data), func(bp *Breakpoint) {
		orig := make([]byte, len(bp.OriginalData))
		copy(orig, bp.OriginalData)
		for i := range orig {
			a := bp.Addr + Address(i)
			if a >= addr && a < addr+Address(len(data)) {
				orig[i] = data[a-addr]
				raw[a-addr] = m.arch.BreakpointInstruction()[i]
			}
		}
		updates = append(updates, pending{bp, orig})
	})

	if err := m.writePhysical(addr, raw, old); err != nil {
		return err
	}
	for _, u := range updates {
		u.bp.OriginalData = u.orig
	}
	return nil
}

// ReadWord returns the pointer sized value at addr.
func (m *Memory) ReadWord(addr Address) (uint64, error) {
	data, err := m.Read(addr, m.arch.PtrSize())
	if err != nil {
		return 0, err
	}
	return m.decodeWord(data), nil
}

// WriteWord stores the pointer sized value at addr.
func (m *Memory) WriteWord(addr Address, value uint64) error {
	return m.Write(addr, m.encodeWord(value))
}

func (m *Memory) decodeWord(data []byte) uint64 {
	switch m.arch.PtrSize() {
	case 4:
		return uint64(m.arch.ByteOrder().Uint32(data))
	default:
		return m.arch.ByteOrder().Uint64(data)
	}
}

func (m *Memory) encodeWord(value uint64) []byte {
	data := make([]byte, m.arch.PtrSize())
	switch m.arch.PtrSize() {
	case 4:
		m.arch.ByteOrder().PutUint32(data, uint32(value))
	default:
		m.arch.ByteOrder().PutUint64(data, value)
	}
	return data
}

// readPhysical returns the live bytes, trap instructions included.
func (m *Memory) readPhysical(addr Address, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	if !m.arch.fitsAddress(addr, n) {
		return nil, &InvalidAddressError{Addr: addr}
	}
	data := make([]byte, n)
	read, err := m.proc.ReadMemory(data, addr)
	if err != nil {
		return nil, addressError(addr, err)
	}
	if read != n {
		return nil, &InvalidAddressError{Addr: addr + Address(read)}
	}
	return data, nil
}

// writePhysical writes data at addr. If the process accepts only a prefix
// of it, the prefix is restored from old.
func (m *Memory) writePhysical(addr Address, data, old []byte) error {
	if !m.arch.fitsAddress(addr, len(data)) {
		return &InvalidAddressError{Addr: addr}
	}
	written, err := m.proc.WriteMemory(addr, data)
	if err == nil && written == len(data) {
		return nil
	}
	if written > 0 && old != nil {
		// best effort, the original failure is what gets reported
		_, _ = m.proc.WriteMemory(addr, old[:written])
	}
	if err == nil {
		return &InvalidAddressError{Addr: addr + Address(written)}
	}
	return addressError(addr, err)
}

// addressError converts the errors the OS uses for unmapped or protected
// memory into InvalidAddressError and leaves everything else untouched.
func addressError(addr Address, err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EIO || errno == syscall.EFAULT) {
		return &InvalidAddressError{Addr: addr, Err: err}
	}
	return err
}
