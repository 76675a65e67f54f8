// Command x86emu builds flat 32-bit x86 images with the external toolchain
// and executes them in the built-in emulator.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"

	"x86emu/internal/config"
)

var logCfg = gologger.LoggerConfig{
	Out: os.Stderr,
}

// version is stamped at build time:
// go build -ldflags "-X main.version=1.2.3" ./cmd/x86emu
var version = "dev"

func errToCode(a subcommands.Application, err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", a.GetName(), err)
		return 1
	}

	return 0
}

// baseRun embeds subcommands.CommandRunBase and implements the flags shared
// across commands. It should be embedded in another struct that implements
// Run() for a specific command. baseRun implements cli.ContextModificator,
// to set the log level based on flags.
type baseRun struct {
	subcommands.CommandRunBase
	dir      string
	config   string
	profile  string
	force    bool
	logLevel logging.Level
}

func (r *baseRun) addSharedFlags() {
	r.logLevel = logging.Info
	r.Flags.Var(&r.logLevel, "loglevel",
		`log level, valid options are "debug", "info", "warning", "error"`)
	r.Flags.StringVar(&r.dir, "C", ".",
		"project directory, containing the sources and optionally "+config.FileName)
	r.Flags.StringVar(&r.config, "config", "",
		"project file to read instead of <dir>/"+config.FileName)
}

// addProjectFlags registers the flags shared by the commands that build the
// project image.
func (r *baseRun) addProjectFlags() {
	r.Flags.BoolVar(&r.force, "f", false, "rebuild even when the image is up to date")
	r.Flags.StringVar(&r.profile, "p", "", "override the project's build profile")
}

// ModifyContext returns a new Context with the log level set in the flags.
func (r *baseRun) ModifyContext(ctx context.Context) context.Context {
	return logging.SetLevel(ctx, r.logLevel)
}

func (r *baseRun) loadProject() (*config.Project, error) {
	var (
		p   *config.Project
		err error
	)
	if r.config != "" {
		p, err = config.LoadFile(r.dir, r.config)
	} else {
		p, err = config.Load(r.dir)
	}
	if err != nil {
		return nil, err
	}
	if r.profile != "" {
		p.Profile = r.profile
	}
	return p, nil
}

var cmdVersion = &subcommands.Command{
	UsageLine: "version",
	ShortDesc: "print the x86emu version",
	CommandRun: func() subcommands.CommandRun {
		return &versionRun{}
	},
}

type versionRun struct {
	subcommands.CommandRunBase
}

func (c *versionRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	fmt.Printf("x86emu %s\n", version)
	return 0
}

func app() *cli.Application {
	return &cli.Application{
		Name:    "x86emu",
		Title:   "Build and emulate flat 32-bit x86 images.",
		Context: logCfg.Use,
		Commands: []*subcommands.Command{
			cmdBuild,
			cmdRun,
			cmdDump,
			cmdClean,
			cmdProfiles,

			cmdDoctor,
			cmdDockerfile,
			cmdImage,

			cmdVersion,
			subcommands.CmdHelp,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(app(), nil))
}
