package emu

import "fmt"

// OpcodeError reports an instruction byte (or group-opcode extension) the
// emulator cannot execute.
type OpcodeError struct {
	Opcode uint8
	Ext    int8 // /digit extension for group opcodes, -1 otherwise
	EIP    uint32
}

func (e *OpcodeError) Error() string {
	if e.Ext >= 0 {
		return fmt.Sprintf("op(%X /%d) not implemented (eip=0x%X)", e.Opcode, e.Ext, e.EIP)
	}
	return fmt.Sprintf("op(%X) not implemented (eip=0x%X)", e.Opcode, e.EIP)
}

// instFunc executes one instruction. op is the opcode byte already fetched
// from EIP; the handler advances EIP past the full instruction.
type instFunc func(e *Emulator, op uint8) error

var instTable = buildInstTable()

func buildInstTable() (t [256]instFunc) {
	t[0x01] = addRM32R32
	t[0x3B] = cmpR32RM32
	for op := 0x50; op <= 0x57; op++ {
		t[op] = pushR32
	}
	for op := 0x58; op <= 0x5F; op++ {
		t[op] = popR32
	}
	t[0x68] = pushImm32
	t[0x6A] = pushImm8
	for op := 0x70; op <= 0x7F; op++ {
		if op == 0x7A || op == 0x7B {
			// Parity jumps need the untracked parity flag.
			continue
		}
		t[op] = jccShort
	}
	t[0x83] = group83
	t[0x89] = movRM32R32
	t[0x8B] = movR32RM32
	for op := 0xB8; op <= 0xBF; op++ {
		t[op] = movR32Imm32
	}
	t[0xC3] = ret
	t[0xC7] = movRM32Imm32
	t[0xC9] = leave
	t[0xE8] = callRel32
	t[0xE9] = nearJump
	t[0xEB] = shortJump
	t[0xFF] = groupFF
	return t
}

func (e *Emulator) push(v uint32) error {
	addr := e.cpu.Regs[ESP] - 4
	if err := e.mem.WriteU32(addr, v); err != nil {
		return err
	}
	e.cpu.Regs[ESP] = addr
	return nil
}

func (e *Emulator) pop() (uint32, error) {
	v, err := e.mem.ReadU32(e.cpu.Regs[ESP])
	if err != nil {
		return 0, err
	}
	e.cpu.Regs[ESP] += 4
	return v, nil
}

func movR32Imm32(e *Emulator, op uint8) error {
	v, err := e.mem.ReadU32(e.cpu.EIP + 1)
	if err != nil {
		return err
	}
	e.cpu.Regs[op-0xB8] = v
	e.cpu.EIP += 5
	return nil
}

func movRM32Imm32(e *Emulator, _ uint8) error {
	e.cpu.EIP++
	m, err := e.parseModRM()
	if err != nil {
		return err
	}
	v, err := e.mem.ReadU32(e.cpu.EIP)
	if err != nil {
		return err
	}
	e.cpu.EIP += 4
	return e.writeRM32(m, v)
}

func movRM32R32(e *Emulator, _ uint8) error {
	e.cpu.EIP++
	m, err := e.parseModRM()
	if err != nil {
		return err
	}
	return e.writeRM32(m, e.cpu.Regs[m.Reg])
}

func movR32RM32(e *Emulator, _ uint8) error {
	e.cpu.EIP++
	m, err := e.parseModRM()
	if err != nil {
		return err
	}
	v, err := e.readRM32(m)
	if err != nil {
		return err
	}
	e.cpu.Regs[m.Reg] = v
	return nil
}

func addRM32R32(e *Emulator, _ uint8) error {
	e.cpu.EIP++
	m, err := e.parseModRM()
	if err != nil {
		return err
	}
	a, err := e.readRM32(m)
	if err != nil {
		return err
	}
	b := e.cpu.Regs[m.Reg]
	z := uint64(a) + uint64(b)
	if err := e.writeRM32(m, uint32(z)); err != nil {
		return err
	}
	e.cpu.updateFlags(a, b, z)
	return nil
}

func cmpR32RM32(e *Emulator, _ uint8) error {
	e.cpu.EIP++
	m, err := e.parseModRM()
	if err != nil {
		return err
	}
	a := e.cpu.Regs[m.Reg]
	b, err := e.readRM32(m)
	if err != nil {
		return err
	}
	e.cpu.updateFlags(a, b, uint64(a)-uint64(b))
	return nil
}

// group83 dispatches the 0x83 group: 32-bit arithmetic against a
// sign-extended 8-bit immediate, selected by the ModRM reg field.
func group83(e *Emulator, op uint8) error {
	opEIP := e.cpu.EIP
	e.cpu.EIP++
	m, err := e.parseModRM()
	if err != nil {
		return err
	}
	imm, err := e.mem.ReadI8(e.cpu.EIP)
	if err != nil {
		return err
	}
	e.cpu.EIP++
	a, err := e.readRM32(m)
	if err != nil {
		return err
	}
	b := uint32(int32(imm))
	switch m.Reg {
	case 0: // add
		z := uint64(a) + uint64(b)
		if err := e.writeRM32(m, uint32(z)); err != nil {
			return err
		}
		e.cpu.updateFlags(a, b, z)
	case 5: // sub
		z := uint64(a) - uint64(b)
		if err := e.writeRM32(m, uint32(z)); err != nil {
			return err
		}
		e.cpu.updateFlags(a, b, z)
	case 7: // cmp
		e.cpu.updateFlags(a, b, uint64(a)-uint64(b))
	default:
		return &OpcodeError{Opcode: op, Ext: int8(m.Reg), EIP: opEIP}
	}
	return nil
}

// groupFF dispatches the 0xFF group, selected by the ModRM reg field. Only
// /0 (inc) is implemented; inc leaves the tracked flags alone.
func groupFF(e *Emulator, op uint8) error {
	opEIP := e.cpu.EIP
	e.cpu.EIP++
	m, err := e.parseModRM()
	if err != nil {
		return err
	}
	switch m.Reg {
	case 0: // inc
		v, err := e.readRM32(m)
		if err != nil {
			return err
		}
		return e.writeRM32(m, v+1)
	default:
		return &OpcodeError{Opcode: op, Ext: int8(m.Reg), EIP: opEIP}
	}
}

func pushR32(e *Emulator, op uint8) error {
	if err := e.push(e.cpu.Regs[op-0x50]); err != nil {
		return err
	}
	e.cpu.EIP++
	return nil
}

func popR32(e *Emulator, op uint8) error {
	v, err := e.pop()
	if err != nil {
		return err
	}
	e.cpu.Regs[op-0x58] = v
	e.cpu.EIP++
	return nil
}

// pushImm8 pushes the zero-extended immediate byte.
func pushImm8(e *Emulator, _ uint8) error {
	v, err := e.mem.ReadU8(e.cpu.EIP + 1)
	if err != nil {
		return err
	}
	if err := e.push(uint32(v)); err != nil {
		return err
	}
	e.cpu.EIP += 2
	return nil
}

func pushImm32(e *Emulator, _ uint8) error {
	v, err := e.mem.ReadU32(e.cpu.EIP + 1)
	if err != nil {
		return err
	}
	if err := e.push(v); err != nil {
		return err
	}
	e.cpu.EIP += 5
	return nil
}

func callRel32(e *Emulator, _ uint8) error {
	d, err := e.mem.ReadI32(e.cpu.EIP + 1)
	if err != nil {
		return err
	}
	if err := e.push(e.cpu.EIP + 5); err != nil {
		return err
	}
	e.cpu.EIP += uint32(d + 5)
	return nil
}

func ret(e *Emulator, _ uint8) error {
	v, err := e.pop()
	if err != nil {
		return err
	}
	e.cpu.EIP = v
	return nil
}

// leave tears down the current stack frame: ESP is restored from EBP and the
// saved EBP is popped.
func leave(e *Emulator, _ uint8) error {
	e.cpu.Regs[ESP] = e.cpu.Regs[EBP]
	v, err := e.pop()
	if err != nil {
		return err
	}
	e.cpu.Regs[EBP] = v
	e.cpu.EIP++
	return nil
}

func nearJump(e *Emulator, _ uint8) error {
	d, err := e.mem.ReadI32(e.cpu.EIP + 1)
	if err != nil {
		return err
	}
	e.cpu.EIP += uint32(d + 5)
	return nil
}

func shortJump(e *Emulator, _ uint8) error {
	d, err := e.mem.ReadI8(e.cpu.EIP + 1)
	if err != nil {
		return err
	}
	e.cpu.EIP += uint32(int32(d) + 2)
	return nil
}

func jccShort(e *Emulator, op uint8) error {
	d, err := e.mem.ReadI8(e.cpu.EIP + 1)
	if err != nil {
		return err
	}
	if e.cpu.cond(op & 0x0F) {
		e.cpu.EIP += uint32(int32(d) + 2)
	} else {
		e.cpu.EIP += 2
	}
	return nil
}
