// Command x86run executes an already-built flat 32-bit x86 image in the
// emulator, tracing every instruction to stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"x86emu/internal/emu"
	"x86emu/internal/emuflag"
	"x86emu/internal/trace"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: x86run [flags] <image>

Loads the flat binary <image> ("-" reads it from stdin) at the origin
address, points EIP and ESP there and executes until the entry function
returns. Each step is traced with the full register state.

flags:
%s`, pflag.CommandLine.FlagUsages())
}

func main() {
	pflag.Usage = usage
	emuflag.RegisterPflags(pflag.CommandLine)
	pflag.Parse()
	if pflag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, pflag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "x86run: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	var (
		image []byte
		err   error
	)
	if path == "-" {
		image, err = io.ReadAll(os.Stdin)
	} else {
		image, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	var (
		sink emu.Sink
		out  *trace.File
	)
	switch {
	case emuflag.Quiet():
		// no trace; final registers are printed below
	case emuflag.TraceOut() != "":
		out, err = trace.OpenFile(emuflag.TraceOut())
		if err != nil {
			return err
		}
		sink = out
	default:
		sink = trace.NewText(os.Stderr)
	}

	e := emu.New(emu.Config{
		MemorySize: emuflag.Memory(),
		Origin:     emuflag.Origin(),
		Trace:      sink,
		MaxSteps:   emuflag.MaxSteps(),
	})
	if err := e.LoadImage(image); err != nil {
		return err
	}

	_, runErr := e.Run(ctx)
	if out != nil {
		if err := out.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return runErr
	}
	if emuflag.Quiet() {
		e.CPU().DumpTo(os.Stdout)
	}
	return nil
}
