// Package emu interprets flat 32-bit x86 binaries, covering the instruction
// subset a freestanding C compiler emits for integer code: MOV, ADD, SUB,
// CMP, INC, PUSH/POP, CALL/RET, LEAVE and the short conditional jumps.
//
// The machine model is deliberately small. Memory is a flat zero-initialized
// space with no paging or segmentation, the image is loaded at the origin
// address, and EIP and ESP both start there. Execution stops when EIP
// reaches zero: the word at the origin is zero, so the final RET of the
// entry function pops zero and ends the run.
package emu

import (
	"context"
	"errors"
	"fmt"
)

const (
	// DefaultMemorySize is the guest address space size, 1 MiB.
	DefaultMemorySize = 1 << 20
	// DefaultOrigin is where flat images are linked to and loaded,
	// matching the BIOS boot sector load address.
	DefaultOrigin = 0x7c00
)

// ErrStepLimit is returned by Run when the configured step limit is reached
// before the guest ends.
var ErrStepLimit = errors.New("step limit reached")

// Sink receives one record per executed instruction and one on a normal end
// of execution. Implementations must not retain cpu past the call.
type Sink interface {
	Step(n uint64, cpu *CPU, opcode uint8)
	Done(n uint64, cpu *CPU)
}

// Config parameterizes a fresh Emulator. The zero value selects the
// defaults: 1 MiB of memory, origin 0x7c00, no trace, no step limit.
type Config struct {
	MemorySize uint32
	Origin     uint32
	Trace      Sink
	MaxSteps   uint64
}

type Emulator struct {
	cpu    CPU
	mem    *Memory
	origin uint32
	sink   Sink
	limit  uint64
	steps  uint64
}

// New returns an Emulator with EIP and ESP at the origin and all other
// registers and memory zeroed.
func New(cfg Config) *Emulator {
	size := cfg.MemorySize
	if size == 0 {
		size = DefaultMemorySize
	}
	origin := cfg.Origin
	if origin == 0 {
		origin = DefaultOrigin
	}
	e := &Emulator{
		mem:    NewMemory(size),
		origin: origin,
		sink:   cfg.Trace,
		limit:  cfg.MaxSteps,
	}
	e.cpu.EIP = origin
	e.cpu.Regs[ESP] = origin
	return e
}

// CPU exposes the register state, for inspection after (or between) steps.
func (e *Emulator) CPU() *CPU { return &e.cpu }

// Memory exposes the guest address space.
func (e *Emulator) Memory() *Memory { return e.mem }

// Steps reports how many instructions have been executed so far.
func (e *Emulator) Steps() uint64 { return e.steps }

// LoadImage copies a flat binary into memory at the origin.
func (e *Emulator) LoadImage(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty image")
	}
	if err := e.mem.Load(b, e.origin); err != nil {
		return fmt.Errorf("loading %d byte image at 0x%X: %w", len(b), e.origin, err)
	}
	return nil
}

// Step fetches and executes one instruction. It reports done=true when
// execution ended normally (EIP reached zero). Register and memory state is
// left untouched by a failing instruction except for EIP, which may point
// into the middle of it.
func (e *Emulator) Step() (done bool, err error) {
	op, err := e.mem.ReadU8(e.cpu.EIP)
	if err != nil {
		return false, err
	}
	e.steps++
	if e.sink != nil {
		e.sink.Step(e.steps, &e.cpu, op)
	}
	fn := instTable[op]
	if fn == nil {
		return false, &OpcodeError{Opcode: op, Ext: -1, EIP: e.cpu.EIP}
	}
	if err := fn(e, op); err != nil {
		return false, err
	}
	if e.cpu.EIP == 0 {
		if e.sink != nil {
			e.sink.Done(e.steps, &e.cpu)
		}
		return true, nil
	}
	return false, nil
}

// Run executes instructions until the guest ends, an instruction fails, the
// step limit is hit, or ctx is canceled. It returns the number of steps
// executed. Running past the top of memory stops the loop without error.
func (e *Emulator) Run(ctx context.Context) (uint64, error) {
	for e.cpu.EIP < e.mem.Size() {
		if e.steps%1024 == 0 {
			select {
			case <-ctx.Done():
				return e.steps, ctx.Err()
			default:
			}
		}
		if e.limit > 0 && e.steps >= e.limit {
			return e.steps, fmt.Errorf("%w after %d steps", ErrStepLimit, e.steps)
		}
		done, err := e.Step()
		if err != nil {
			return e.steps, err
		}
		if done {
			return e.steps, nil
		}
	}
	return e.steps, nil
}
