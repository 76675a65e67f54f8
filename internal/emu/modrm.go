package emu

import "fmt"

// ModRM is a decoded mod-reg-r/m byte plus any trailing SIB and displacement
// bytes. Disp holds the sign-extended displacement regardless of whether it
// was encoded in one byte or four.
type ModRM struct {
	Mod uint8
	Reg uint8 // register operand, or the opcode extension for group opcodes
	RM  uint8

	SIB    uint8
	HasSIB bool
	Disp   int32
}

// parseModRM decodes the ModRM byte at EIP and advances EIP past it and past
// any SIB and displacement bytes.
func (e *Emulator) parseModRM() (ModRM, error) {
	var m ModRM
	b, err := e.mem.ReadU8(e.cpu.EIP)
	if err != nil {
		return m, err
	}
	m.Mod = b >> 6
	m.Reg = (b >> 3) & 0x7
	m.RM = b & 0x7
	e.cpu.EIP++

	if m.Mod != 0b11 && m.RM == 0b100 {
		sib, err := e.mem.ReadU8(e.cpu.EIP)
		if err != nil {
			return m, err
		}
		m.SIB = sib
		m.HasSIB = true
		e.cpu.EIP++
	}

	switch {
	case m.Mod == 0b10 || (m.Mod == 0b00 && m.RM == 0b101):
		// mod=00 rm=101 selects a bare disp32 with no base register.
		d, err := e.mem.ReadI32(e.cpu.EIP)
		if err != nil {
			return m, err
		}
		m.Disp = d
		e.cpu.EIP += 4
	case m.Mod == 0b01:
		d, err := e.mem.ReadI8(e.cpu.EIP)
		if err != nil {
			return m, err
		}
		m.Disp = int32(d)
		e.cpu.EIP++
	}
	return m, nil
}

// effectiveAddr computes the guest address a memory-form ModRM refers to.
// Displacements wrap modulo 2^32 like the hardware address calculation.
func (m ModRM) effectiveAddr(c *CPU) (uint32, error) {
	switch m.Mod {
	case 0b00:
		switch m.RM {
		case 0b100:
			return 0, fmt.Errorf("sib addressing not supported (sib=0x%02X)", m.SIB)
		case 0b101:
			return uint32(m.Disp), nil
		default:
			return c.Regs[m.RM], nil
		}
	case 0b01, 0b10:
		if m.RM == 0b100 {
			return 0, fmt.Errorf("sib addressing not supported (sib=0x%02X)", m.SIB)
		}
		return c.Regs[m.RM] + uint32(m.Disp), nil
	default:
		return 0, fmt.Errorf("modrm mod=0b11 is register-direct, not an address")
	}
}

// readRM32 reads the 32-bit operand selected by the ModRM, either a register
// or a memory word.
func (e *Emulator) readRM32(m ModRM) (uint32, error) {
	if m.Mod == 0b11 {
		return e.cpu.Regs[m.RM], nil
	}
	addr, err := m.effectiveAddr(&e.cpu)
	if err != nil {
		return 0, err
	}
	return e.mem.ReadU32(addr)
}

// writeRM32 writes the 32-bit operand selected by the ModRM.
func (e *Emulator) writeRM32(m ModRM, v uint32) error {
	if m.Mod == 0b11 {
		e.cpu.Regs[m.RM] = v
		return nil
	}
	addr, err := m.effectiveAddr(&e.cpu)
	if err != nil {
		return err
	}
	return e.mem.WriteU32(addr, v)
}
