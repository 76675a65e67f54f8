package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"

	"x86emu/internal/pipeline"
	"x86emu/internal/trace"
)

var cmdRun = &subcommands.Command{
	UsageLine: "run [-C dir] [-f] [-q] [-trace file]",
	ShortDesc: "build the project image and execute it in the emulator",
	LongDesc: `Build the project image and execute it in the emulator.

The image is loaded at the project's origin address, where execution also
starts. Every executed instruction is traced to stderr with the full
register state; -trace redirects the trace to a file (a .zst suffix
compresses it), -q drops it entirely and prints a once-a-second progress
line instead. Execution ends when the entry function returns.`,
	CommandRun: func() subcommands.CommandRun {
		c := &runRun{}
		c.addSharedFlags()
		c.addProjectFlags()
		c.Flags.BoolVar(&c.quiet, "q", false, "suppress the step trace; print progress and final registers")
		c.Flags.StringVar(&c.traceOut, "trace", "", "write the step trace to this file instead of stderr")
		c.Flags.UintVar(&c.memory, "memory", 0, "emulated memory size in bytes (0 = 1 MiB)")
		c.Flags.Uint64Var(&c.maxSteps, "max-steps", 0, "abort after this many instructions (0 = no limit)")
		return c
	},
}

type runRun struct {
	baseRun
	quiet    bool
	traceOut string
	memory   uint
	maxSteps uint64
}

func (c *runRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	return errToCode(a, c.innerRun(ctx))
}

func (c *runRun) innerRun(ctx context.Context) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}

	opts := pipeline.RunOptions{
		MemorySize: uint32(c.memory),
		MaxSteps:   c.maxSteps,
		ForceBuild: c.force,
	}
	var out *trace.File
	switch {
	case c.quiet:
		counter := &trace.Counter{}
		opts.Trace = counter
		reporter := trace.NewReporter(counter)
		reporter.SetStatus(p.Output)
		if c.maxSteps > 0 {
			reporter.SetTotal(c.maxSteps)
		}
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go reporter.Report(rctx)
	case c.traceOut != "":
		out, err = trace.OpenFile(c.traceOut)
		if err != nil {
			return err
		}
		opts.Trace = out
	default:
		opts.Trace = trace.NewText(os.Stderr)
	}

	res, runErr := pipeline.Run(ctx, p, opts)
	if out != nil {
		if err := out.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return runErr
	}
	if c.quiet {
		fmt.Printf("\rexecuted %d instructions                 \n", res.Steps)
		res.CPU.DumpTo(os.Stdout)
	}
	return nil
}
