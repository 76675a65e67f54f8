package emu

import (
	"encoding/binary"
	"fmt"
)

// Memory is the guest's flat, zero-initialized address space. All multi-byte
// accesses are little-endian. Accessors return an *AddrError instead of
// panicking when a guest address falls outside the space.
type Memory struct {
	buf []byte
}

func NewMemory(size uint32) *Memory {
	return &Memory{buf: make([]byte, size)}
}

func (m *Memory) Size() uint32 { return uint32(len(m.buf)) }

// AddrError reports a guest memory access outside the address space.
type AddrError struct {
	Addr uint32
	Len  int
	Size uint32
}

func (e *AddrError) Error() string {
	return fmt.Sprintf("memory access out of range: %d byte(s) at 0x%X (memory size 0x%X)", e.Len, e.Addr, e.Size)
}

func (m *Memory) check(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(len(m.buf)) {
		return &AddrError{Addr: addr, Len: n, Size: m.Size()}
	}
	return nil
}

// Load copies a flat binary image into the address space at the given
// address.
func (m *Memory) Load(b []byte, at uint32) error {
	if err := m.check(at, len(b)); err != nil {
		return err
	}
	copy(m.buf[at:], b)
	return nil
}

func (m *Memory) ReadU8(addr uint32) (uint8, error) {
	if err := m.check(addr, 1); err != nil {
		return 0, err
	}
	return m.buf[addr], nil
}

func (m *Memory) ReadI8(addr uint32) (int8, error) {
	v, err := m.ReadU8(addr)
	return int8(v), err
}

func (m *Memory) ReadU32(addr uint32) (uint32, error) {
	if err := m.check(addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.buf[addr:]), nil
}

func (m *Memory) ReadI32(addr uint32) (int32, error) {
	v, err := m.ReadU32(addr)
	return int32(v), err
}

func (m *Memory) WriteU32(addr uint32, v uint32) error {
	if err := m.check(addr, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.buf[addr:], v)
	return nil
}
