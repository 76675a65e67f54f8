// Package trace records per-instruction execution of the emulator.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"x86emu/internal/emu"
)

// Text writes one record per executed instruction:
//
//	----------
//	STEP 1
//	EAX = 0
//	...
//	EIP = 7C00
//	op: B8
//
// followed by an END block with the final register state when execution
// ends normally.
type Text struct {
	w io.Writer
}

func NewText(w io.Writer) *Text { return &Text{w: w} }

func (t *Text) Step(n uint64, cpu *emu.CPU, opcode uint8) {
	fmt.Fprintln(t.w, "----------")
	fmt.Fprintf(t.w, "STEP %d\n", n)
	cpu.DumpTo(t.w)
	fmt.Fprintf(t.w, "op: %X\n", opcode)
}

func (t *Text) Done(n uint64, cpu *emu.CPU) {
	fmt.Fprintln(t.w, "----------")
	fmt.Fprintln(t.w, "END")
	cpu.DumpTo(t.w)
}

// File is a Text sink backed by a file. Paths ending in .zst are
// zstd-compressed; long runs produce traces in the gigabytes otherwise.
type File struct {
	*Text
	f   *os.File
	buf *bufio.Writer
	zw  *zstd.Encoder
}

func OpenFile(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	fl := &File{f: f}
	if strings.HasSuffix(path, ".zst") {
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			f.Close()
			return nil, err
		}
		fl.zw = zw
		fl.Text = NewText(zw)
	} else {
		fl.buf = bufio.NewWriter(f)
		fl.Text = NewText(fl.buf)
	}
	return fl, nil
}

func (f *File) Close() error {
	if f.zw != nil {
		if err := f.zw.Close(); err != nil {
			f.f.Close()
			return err
		}
	}
	if f.buf != nil {
		if err := f.buf.Flush(); err != nil {
			f.f.Close()
			return err
		}
	}
	return f.f.Close()
}

// Multi fans each record out to every sink in order.
func Multi(sinks ...emu.Sink) emu.Sink { return multi(sinks) }

type multi []emu.Sink

func (m multi) Step(n uint64, cpu *emu.CPU, opcode uint8) {
	for _, s := range m {
		s.Step(n, cpu, opcode)
	}
}

func (m multi) Done(n uint64, cpu *emu.CPU) {
	for _, s := range m {
		s.Done(n, cpu)
	}
}
