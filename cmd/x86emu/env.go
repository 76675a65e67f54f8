package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"

	"x86emu/internal/buildenv"
	"x86emu/internal/config"
)

var cmdDoctor = &subcommands.Command{
	UsageLine: "doctor",
	ShortDesc: "check that the external toolchain is available",
	LongDesc: `Check that the external toolchain is available.

Probes PATH for the assembler, compiler, linker and disassembler and
prints their versions. docker is probed too; it is only needed to build
the container image.`,
	CommandRun: func() subcommands.CommandRun {
		c := &doctorRun{}
		c.addSharedFlags()
		return c
	},
}

type doctorRun struct {
	baseRun
}

func (c *doctorRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	return errToCode(a, c.innerRun(ctx))
}

func (c *doctorRun) innerRun(ctx context.Context) error {
	checks := buildenv.Doctor(ctx)
	for _, chk := range checks {
		status := "ok"
		if !chk.OK {
			status = "missing"
		}
		fmt.Printf("%-8s %-8s %s\n", chk.Name, status, chk.Detail)
	}
	if !buildenv.Healthy(checks) {
		return errors.Reason("toolchain incomplete; install the missing tools or build inside the x86emu image").Err()
	}
	return nil
}

var cmdDockerfile = &subcommands.Command{
	UsageLine: "dockerfile [-with-go]",
	ShortDesc: "print the Dockerfile for the build environment image",
	LongDesc: `Print the Dockerfile for the build environment image.

The image carries the assembler, compiler, linker and disassembler and a
non-root build user. -with-go additionally installs a Go toolchain and
extends PATH with its binary directories, so the emulator itself can be
built and run inside the container.

Unset flags fall back to the env section of ` + config.FileName + `, then to
the built-in defaults.`,
	CommandRun: func() subcommands.CommandRun {
		c := &dockerfileRun{}
		c.addSharedFlags()
		c.addParamFlags()
		return c
	},
}

type dockerfileRun struct {
	baseRun
	base      string
	user      string
	uid       int
	withGo    bool
	goVersion string
}

func (c *dockerfileRun) addParamFlags() {
	c.Flags.StringVar(&c.base, "base", "", "base image of the build container")
	c.Flags.StringVar(&c.user, "user", "", "name of the non-root build user")
	c.Flags.IntVar(&c.uid, "uid", 0, "uid of the non-root build user")
	c.Flags.BoolVar(&c.withGo, "with-go", false, "also install a Go toolchain in the image")
	c.Flags.StringVar(&c.goVersion, "go-version", "", "Go toolchain version for -with-go")
}

func (c *dockerfileRun) params(env config.Env) buildenv.Params {
	p := buildenv.Params{
		Base:      c.base,
		User:      c.user,
		UID:       c.uid,
		WithGo:    c.withGo,
		GoVersion: c.goVersion,
	}
	if p.Base == "" {
		p.Base = env.Base
	}
	if p.User == "" {
		p.User = env.User
	}
	if p.UID == 0 {
		p.UID = env.UID
	}
	return p
}

func (c *dockerfileRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	return errToCode(a, c.innerRun(ctx))
}

func (c *dockerfileRun) innerRun(ctx context.Context) error {
	env, err := config.LoadEnv(c.dir, c.config)
	if err != nil {
		return err
	}
	b, err := buildenv.Dockerfile(c.params(env))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

var cmdImage = &subcommands.Command{
	UsageLine: "image [-t tag] [-with-go]",
	ShortDesc: "build the build environment container image",
	LongDesc: `Build the build environment container image with docker.

The Dockerfile is rendered into a temporary directory; -user and -uid are
passed through as build arguments. The tag defaults to env.image from
` + config.FileName + `, then to ` + buildenv.DefaultTag + `.`,
	CommandRun: func() subcommands.CommandRun {
		c := &imageRun{}
		c.addSharedFlags()
		c.addParamFlags()
		c.Flags.StringVar(&c.tag, "t", "", "tag for the built image")
		return c
	},
}

type imageRun struct {
	dockerfileRun
	tag string
}

func (c *imageRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	return errToCode(a, c.innerRun(ctx))
}

func (c *imageRun) innerRun(ctx context.Context) error {
	env, err := config.LoadEnv(c.dir, c.config)
	if err != nil {
		return err
	}
	tag := c.tag
	if tag == "" {
		tag = env.Image
	}
	dir, err := os.MkdirTemp("", "x86emu-image")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	return buildenv.BuildImage(ctx, dir, tag, c.params(env))
}
