package emu

import (
	"fmt"
	"io"
)

// Register names the eight general-purpose registers in x86 encoding order,
// i.e. the order register numbers appear in ModRM fields and in the +r
// opcode forms.
type Register uint8

const (
	EAX Register = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	registerCount
)

var registerNames = [registerCount]string{
	"EAX", "ECX", "EDX", "EBX", "ESP", "EBP", "ESI", "EDI",
}

func (r Register) String() string {
	if r >= registerCount {
		return fmt.Sprintf("Register(%d)", uint8(r))
	}
	return registerNames[r]
}

// EFLAGS bits tracked by the emulator. The remaining architectural flags are
// never set and never consulted.
const (
	FlagCarry    uint32 = 1 << 0
	FlagZero     uint32 = 1 << 6
	FlagSign     uint32 = 1 << 7
	FlagOverflow uint32 = 1 << 11
)

// CPU is the architectural state outside memory.
type CPU struct {
	Regs   [registerCount]uint32
	EFlags uint32
	EIP    uint32
}

func (c *CPU) Flag(mask uint32) bool { return c.EFlags&mask != 0 }

func (c *CPU) setFlag(mask uint32, on bool) {
	if on {
		c.EFlags |= mask
	} else {
		c.EFlags &^= mask
	}
}

// updateFlags sets the four tracked flags after a 32-bit operation whose
// result z was computed 64 bits wide: carry is any overflow past bit 31,
// sign is bit 31 of the result, and overflow means operands of differing
// sign produced a result whose sign differs from x.
func (c *CPU) updateFlags(x, y uint32, z uint64) {
	signX := x>>31 != 0
	signY := y>>31 != 0
	signZ := (z>>31)&1 != 0
	c.setFlag(FlagCarry, z>>32 != 0)
	c.setFlag(FlagZero, z == 0)
	c.setFlag(FlagSign, signZ)
	c.setFlag(FlagOverflow, signX != signY && signX != signZ)
}

// cond evaluates condition code cc (the low nibble of a 0x70-series opcode)
// against the tracked flags. The parity conditions (0xA, 0xB) are not
// representable because the parity flag is not tracked; their opcodes are
// left out of the dispatch table.
func (c *CPU) cond(cc uint8) bool {
	cf := c.Flag(FlagCarry)
	zf := c.Flag(FlagZero)
	sf := c.Flag(FlagSign)
	of := c.Flag(FlagOverflow)
	switch cc {
	case 0x0: // jo
		return of
	case 0x1: // jno
		return !of
	case 0x2: // jb
		return cf
	case 0x3: // jae
		return !cf
	case 0x4: // je
		return zf
	case 0x5: // jne
		return !zf
	case 0x6: // jbe
		return cf || zf
	case 0x7: // ja
		return !cf && !zf
	case 0x8: // js
		return sf
	case 0x9: // jns
		return !sf
	case 0xC: // jl
		return sf != of
	case 0xD: // jge
		return sf == of
	case 0xE: // jle
		return zf || sf != of
	default: // 0xF, jg
		return !zf && sf == of
	}
}

// DumpTo writes the register file in the fixed order and format of the
// execution trace.
func (c *CPU) DumpTo(w io.Writer) {
	for r := EAX; r < registerCount; r++ {
		fmt.Fprintf(w, "%s = %X\n", r, c.Regs[r])
	}
	fmt.Fprintf(w, "EIP = %X\n", c.EIP)
}
