// Package emuflag holds the pflag definitions shared by the tools that
// execute images. Defaults can be overridden via X86RUN_* environment
// variables.
package emuflag

import (
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"x86emu/internal/emu"
)

var (
	memory = uint32(envUint("X86RUN_MEMORY", emu.DefaultMemorySize, 32))

	origin = uint32(envUint("X86RUN_ORIGIN", emu.DefaultOrigin, 32))

	maxSteps = envUint("X86RUN_MAX_STEPS", 0, 64)

	traceOut = os.Getenv("X86RUN_TRACE")

	quiet = os.Getenv("X86RUN_QUIET") != ""
)

func envUint(name string, def uint64, bits int) uint64 {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return def
	}
	return v
}

func RegisterPflags(fs *pflag.FlagSet) {
	fs.Uint32Var(&memory,
		"memory",
		memory,
		`emulated memory size in bytes`)

	fs.Uint32Var(&origin,
		"origin",
		origin,
		`address the image is loaded at; execution starts there`)

	fs.Uint64Var(&maxSteps,
		"max-steps",
		maxSteps,
		`abort after this many instructions (0 = no limit)`)

	fs.StringVar(&traceOut,
		"trace",
		traceOut,
		`write the step trace to this file instead of stderr (.zst compresses)`)

	fs.BoolVarP(&quiet,
		"quiet",
		"q",
		quiet,
		`suppress the step trace; only final registers are printed`)
}

func SetMemory(m uint32) {
	memory = m
}

func SetOrigin(o uint32) {
	origin = o
}

func Memory() uint32 {
	return memory
}

func Origin() uint32 {
	return origin
}

func MaxSteps() uint64 {
	return maxSteps
}

func TraceOut() string {
	return traceOut
}

func Quiet() bool {
	return quiet
}
