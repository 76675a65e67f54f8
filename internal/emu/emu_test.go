package emu

import (
	"context"
	"errors"
	"testing"
)

// mustRun loads image at the default origin and runs it to completion.
func mustRun(t *testing.T, image []byte) (*Emulator, uint64) {
	t.Helper()
	e := New(Config{})
	if err := e.LoadImage(image); err != nil {
		t.Fatal(err)
	}
	steps, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v (after %d steps)", err, steps)
	}
	return e, steps
}

func TestRun(t *testing.T) {
	for _, tt := range []struct {
		name      string
		image     []byte
		want      map[Register]uint32
		wantSteps uint64
	}{
		{
			// push 0
			// mov eax, 0x29
			// ret
			name: "mov imm32",
			image: []byte{
				0x6A, 0x00,
				0xB8, 0x29, 0x00, 0x00, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 0x29, ESP: 0x7c00},
			wantSteps: 3,
		},
		{
			// push 0
			// mov ecx, 42
			// push ecx
			// pop eax
			// ret
			name: "push pop r32",
			image: []byte{
				0x6A, 0x00,
				0xB9, 0x2A, 0x00, 0x00, 0x00,
				0x51,
				0x58,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 42, ECX: 42, ESP: 0x7c00},
			wantSteps: 5,
		},
		{
			// push 0x12345678
			// pop edx
			// push 0x80          ; imm8 is zero-extended
			// pop ebx
			// push 0
			// ret
			name: "push imm",
			image: []byte{
				0x68, 0x78, 0x56, 0x34, 0x12,
				0x5A,
				0x6A, 0x80,
				0x5B,
				0x6A, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EDX: 0x12345678, EBX: 0x80, ESP: 0x7c00},
			wantSteps: 6,
		},
		{
			// push 0
			// call f          ; f adds 1 after return
			// add eax, 1
			// ret
			// f: mov eax, 40
			// ret
			name: "call ret",
			image: []byte{
				0x6A, 0x00,
				0xE8, 0x04, 0x00, 0x00, 0x00,
				0x83, 0xC0, 0x01,
				0xC3,
				0xB8, 0x28, 0x00, 0x00, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 41, ESP: 0x7c00},
			wantSteps: 6,
		},
		{
			// push 0
			// push ebp
			// mov ebp, esp
			// sub esp, 8
			// mov dword [ebp-4], 42
			// mov eax, [ebp-4]
			// add eax, 5
			// leave
			// ret
			name: "stack frame",
			image: []byte{
				0x6A, 0x00,
				0x55,
				0x89, 0xE5,
				0x83, 0xEC, 0x08,
				0xC7, 0x45, 0xFC, 0x2A, 0x00, 0x00, 0x00,
				0x8B, 0x45, 0xFC,
				0x83, 0xC0, 0x05,
				0xC9,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 47, EBP: 0, ESP: 0x7c00},
			wantSteps: 9,
		},
		{
			// push 0
			// mov eax, 3
			// again: sub eax, 1
			// jne again
			// ret
			name: "countdown loop",
			image: []byte{
				0x6A, 0x00,
				0xB8, 0x03, 0x00, 0x00, 0x00,
				0x83, 0xE8, 0x01,
				0x75, 0xFB,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 0, ESP: 0x7c00},
			wantSteps: 9,
		},
		{
			// push 0
			// mov eax, 5
			// cmp eax, 5
			// je done
			// mov eax, 99
			// done: ret
			name: "je taken",
			image: []byte{
				0x6A, 0x00,
				0xB8, 0x05, 0x00, 0x00, 0x00,
				0x83, 0xF8, 0x05,
				0x74, 0x05,
				0xB8, 0x63, 0x00, 0x00, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 5, ESP: 0x7c00},
			wantSteps: 5,
		},
		{
			// push 0
			// mov eax, 5
			// cmp eax, 6
			// je done
			// mov eax, 99
			// done: ret
			name: "je not taken",
			image: []byte{
				0x6A, 0x00,
				0xB8, 0x05, 0x00, 0x00, 0x00,
				0x83, 0xF8, 0x06,
				0x74, 0x05,
				0xB8, 0x63, 0x00, 0x00, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 99, ESP: 0x7c00},
			wantSteps: 6,
		},
		{
			// push 0
			// mov eax, -1
			// cmp eax, 1
			// jl done          ; signed compare: -1 < 1
			// mov eax, 0
			// done: ret
			name: "jl signed compare",
			image: []byte{
				0x6A, 0x00,
				0xB8, 0xFF, 0xFF, 0xFF, 0xFF,
				0x83, 0xF8, 0x01,
				0x7C, 0x05,
				0xB8, 0x00, 0x00, 0x00, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 0xFFFFFFFF, ESP: 0x7c00},
			wantSteps: 5,
		},
		{
			// push 0
			// mov dword [0x8000], 0x99
			// mov ebx, [0x8000]
			// ret
			name: "disp32 absolute",
			image: []byte{
				0x6A, 0x00,
				0xC7, 0x05, 0x00, 0x80, 0x00, 0x00, 0x99, 0x00, 0x00, 0x00,
				0x8B, 0x1D, 0x00, 0x80, 0x00, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EBX: 0x99, ESP: 0x7c00},
			wantSteps: 4,
		},
		{
			// push 0
			// mov ebx, 0x9000
			// mov eax, 0x1234
			// mov [ebx], eax
			// mov ecx, [ebx]
			// ret
			name: "register indirect",
			image: []byte{
				0x6A, 0x00,
				0xBB, 0x00, 0x90, 0x00, 0x00,
				0xB8, 0x34, 0x12, 0x00, 0x00,
				0x89, 0x03,
				0x8B, 0x0B,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 0x1234, ECX: 0x1234, EBX: 0x9000, ESP: 0x7c00},
			wantSteps: 6,
		},
		{
			// push 0
			// mov ecx, 7
			// inc ecx
			// ret
			name: "inc",
			image: []byte{
				0x6A, 0x00,
				0xB9, 0x07, 0x00, 0x00, 0x00,
				0xFF, 0xC1,
				0xC3,
			},
			want:      map[Register]uint32{ECX: 8, ESP: 0x7c00},
			wantSteps: 4,
		},
		{
			// push 0
			// jmp short over1
			// mov eax, 99      ; skipped
			// over1: jmp near over2
			// mov eax, 100     ; skipped
			// over2: ret
			name: "unconditional jumps",
			image: []byte{
				0x6A, 0x00,
				0xEB, 0x05,
				0xB8, 0x63, 0x00, 0x00, 0x00,
				0xE9, 0x05, 0x00, 0x00, 0x00,
				0xB8, 0x64, 0x00, 0x00, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 0, ESP: 0x7c00},
			wantSteps: 4,
		},
		{
			// push 0
			// mov eax, 2
			// mov ebx, 3
			// add eax, ebx
			// ret
			name: "add r32",
			image: []byte{
				0x6A, 0x00,
				0xB8, 0x02, 0x00, 0x00, 0x00,
				0xBB, 0x03, 0x00, 0x00, 0x00,
				0x01, 0xD8,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 5, EBX: 3, ESP: 0x7c00},
			wantSteps: 5,
		},
		{
			// push 0
			// mov eax, 3
			// mov ebx, 3
			// cmp eax, ebx
			// je done
			// mov eax, 99
			// done: ret
			name: "cmp r32 rm32",
			image: []byte{
				0x6A, 0x00,
				0xB8, 0x03, 0x00, 0x00, 0x00,
				0xBB, 0x03, 0x00, 0x00, 0x00,
				0x3B, 0xC3,
				0x74, 0x05,
				0xB8, 0x63, 0x00, 0x00, 0x00,
				0xC3,
			},
			want:      map[Register]uint32{EAX: 3, EBX: 3, ESP: 0x7c00},
			wantSteps: 6,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			e, steps := mustRun(t, tt.image)
			if steps != tt.wantSteps {
				t.Errorf("unexpected step count: got %d, want %d", steps, tt.wantSteps)
			}
			cpu := e.CPU()
			if cpu.EIP != 0 {
				t.Errorf("unexpected final EIP: got 0x%X, want 0", cpu.EIP)
			}
			for r, want := range tt.want {
				if got := cpu.Regs[r]; got != want {
					t.Errorf("unexpected %s: got 0x%X, want 0x%X", r, got, want)
				}
			}
		})
	}
}

func TestRunUnknownOpcode(t *testing.T) {
	e := New(Config{})
	if err := e.LoadImage([]byte{0xF4}); err != nil { // hlt
		t.Fatal(err)
	}
	steps, err := e.Run(context.Background())
	var oe *OpcodeError
	if !errors.As(err, &oe) {
		t.Fatalf("Run: got %v, want an *OpcodeError", err)
	}
	if oe.Opcode != 0xF4 || oe.EIP != 0x7c00 || oe.Ext != -1 {
		t.Errorf("unexpected error fields: got %+v", oe)
	}
	if steps != 1 {
		t.Errorf("unexpected step count: got %d, want 1", steps)
	}
}

func TestRunUnknownGroupExtension(t *testing.T) {
	e := New(Config{})
	// 0x83 /6 (xor rm32, imm8) is not implemented.
	if err := e.LoadImage([]byte{0x83, 0xF0, 0x01}); err != nil {
		t.Fatal(err)
	}
	_, err := e.Run(context.Background())
	var oe *OpcodeError
	if !errors.As(err, &oe) {
		t.Fatalf("Run: got %v, want an *OpcodeError", err)
	}
	if oe.Opcode != 0x83 || oe.Ext != 6 {
		t.Errorf("unexpected error fields: got %+v", oe)
	}
}

func TestRunSIBUnsupported(t *testing.T) {
	e := New(Config{})
	// mov eax, [esp] encodes a SIB byte.
	if err := e.LoadImage([]byte{0x8B, 0x04, 0x24}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded, want SIB error")
	}
}

func TestRunStepLimit(t *testing.T) {
	e := New(Config{MaxSteps: 10})
	// jmp $
	if err := e.LoadImage([]byte{0xEB, 0xFE}); err != nil {
		t.Fatal(err)
	}
	steps, err := e.Run(context.Background())
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Run: got %v, want ErrStepLimit", err)
	}
	if steps != 10 {
		t.Errorf("unexpected step count: got %d, want 10", steps)
	}
}

func TestRunContextCanceled(t *testing.T) {
	e := New(Config{})
	if err := e.LoadImage([]byte{0xEB, 0xFE}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
}

func TestRunPastTopOfMemory(t *testing.T) {
	e := New(Config{})
	// jmp near to the first address past the end of memory.
	d := int32(DefaultMemorySize) - (0x7c00 + 5)
	image := []byte{0xE9, byte(d), byte(d >> 8), byte(d >> 16), byte(d >> 24)}
	if err := e.LoadImage(image); err != nil {
		t.Fatal(err)
	}
	steps, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if steps != 1 {
		t.Errorf("unexpected step count: got %d, want 1", steps)
	}
	if got := e.CPU().EIP; got != DefaultMemorySize {
		t.Errorf("unexpected final EIP: got 0x%X, want 0x%X", got, uint32(DefaultMemorySize))
	}
}

func TestLoadImage(t *testing.T) {
	e := New(Config{MemorySize: 0x8000})
	if err := e.LoadImage(nil); err == nil {
		t.Error("LoadImage(nil) succeeded, want error")
	}
	if err := e.LoadImage(make([]byte, 0x1000)); err == nil {
		t.Error("LoadImage past end of memory succeeded, want error")
	}
	if err := e.LoadImage(make([]byte, 0x400)); err != nil {
		t.Errorf("LoadImage: %v", err)
	}
}

type recordingSink struct {
	ops   []uint8
	final *CPU
	doneN uint64
}

func (s *recordingSink) Step(n uint64, cpu *CPU, opcode uint8) {
	s.ops = append(s.ops, opcode)
}

func (s *recordingSink) Done(n uint64, cpu *CPU) {
	c := *cpu
	s.final = &c
	s.doneN = n
}

func TestRunSink(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Trace: sink})
	// push 0; mov eax, 0x29; ret
	image := []byte{0x6A, 0x00, 0xB8, 0x29, 0x00, 0x00, 0x00, 0xC3}
	if err := e.LoadImage(image); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	wantOps := []uint8{0x6A, 0xB8, 0xC3}
	if len(sink.ops) != len(wantOps) {
		t.Fatalf("unexpected op count: got %v, want %v", sink.ops, wantOps)
	}
	for i, op := range wantOps {
		if sink.ops[i] != op {
			t.Errorf("op %d: got 0x%X, want 0x%X", i, sink.ops[i], op)
		}
	}
	if sink.final == nil {
		t.Fatal("Done was not called")
	}
	if sink.doneN != 3 {
		t.Errorf("unexpected Done step count: got %d, want 3", sink.doneN)
	}
	if sink.final.EIP != 0 {
		t.Errorf("unexpected EIP at Done: got 0x%X, want 0", sink.final.EIP)
	}
}
