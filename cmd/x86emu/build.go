package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"

	"x86emu/internal/bootimg"
	"x86emu/internal/humanize"
	"x86emu/internal/pipeline"
	"x86emu/internal/profile"
	"x86emu/internal/toolchain"
)

var cmdBuild = &subcommands.Command{
	UsageLine: "build [-C dir] [-f] [-p profile]",
	ShortDesc: "assemble, compile and link the project image",
	LongDesc: `Assemble, compile and link the project image.

Sources and settings come from x86emu.yaml in the project directory. With
no such file, main.asm alone, or crt0.asm plus test.c, are picked up
automatically. Projects whose sources and settings are unchanged since the
last build are not rebuilt.`,
	CommandRun: func() subcommands.CommandRun {
		c := &buildRun{}
		c.addSharedFlags()
		c.addProjectFlags()
		return c
	},
}

type buildRun struct {
	baseRun
}

func (c *buildRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	return errToCode(a, c.innerRun(ctx))
}

func (c *buildRun) innerRun(ctx context.Context) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	res, err := pipeline.Build(ctx, p, c.force)
	if err != nil {
		return err
	}
	if !res.Rebuilt {
		fmt.Printf("%s is up to date (%s)\n", p.Output, humanize.Bytes(uint64(res.Size)))
	}
	return nil
}

var cmdDump = &subcommands.Command{
	UsageLine: "dump [-C dir] [-f] [-intel] [-16]",
	ShortDesc: "disassemble the project image",
	LongDesc: `Disassemble the project image.

Builds the image if needed, then prints a raw disassembly with addresses
adjusted to the load origin. The image decodes as 32-bit code; -16 decodes
it as 16-bit real-mode code instead, which is how the machine would read a
boot sector before switching modes.`,
	CommandRun: func() subcommands.CommandRun {
		c := &dumpRun{}
		c.addSharedFlags()
		c.addProjectFlags()
		c.Flags.BoolVar(&c.intel, "intel", false, "use Intel syntax instead of AT&T")
		c.Flags.BoolVar(&c.mode16, "16", false, "decode as 16-bit real-mode code")
		return c
	},
}

type dumpRun struct {
	baseRun
	intel  bool
	mode16 bool
}

func (c *dumpRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	return errToCode(a, c.innerRun(ctx))
}

func (c *dumpRun) innerRun(ctx context.Context) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	asm, err := pipeline.Dump(ctx, p, c.force, toolchain.DisasmOpts{
		Intel:  c.intel,
		Mode16: c.mode16,
	})
	if err != nil {
		return err
	}
	fmt.Print(asm)

	info, err := bootimg.Inspect(p.OutputPath())
	if err != nil {
		return err
	}
	fmt.Printf("\n%s: %s", p.Output, humanize.Bytes(uint64(info.Size)))
	if info.BootSignature {
		fmt.Print(", boot signature present")
	}
	fmt.Println()
	return nil
}

var cmdClean = &subcommands.Command{
	UsageLine: "clean [-C dir]",
	ShortDesc: "remove the image, object files and build record",
	CommandRun: func() subcommands.CommandRun {
		c := &cleanRun{}
		c.addSharedFlags()
		return c
	},
}

type cleanRun struct {
	baseRun
}

func (c *cleanRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	return errToCode(a, c.innerRun(ctx))
}

func (c *cleanRun) innerRun(ctx context.Context) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	return pipeline.Clean(ctx, p)
}

var cmdProfiles = &subcommands.Command{
	UsageLine: "profiles",
	ShortDesc: "list the built-in build profiles",
	CommandRun: func() subcommands.CommandRun {
		return &profilesRun{}
	},
}

type profilesRun struct {
	subcommands.CommandRunBase
}

func (c *profilesRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	names := make([]string, 0, len(profile.Profiles))
	for name := range profile.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := profile.Profiles[name]
		fmt.Printf("%-12s %s (entry %s at 0x%x", p.Slug, name, p.Entry, p.TextAddr)
		if p.BootSignature {
			fmt.Printf(", %d code bytes + boot signature", p.MaxImageSize)
		}
		fmt.Println(")")
	}
	return 0
}
