// Package config reads the x86emu.yaml project file that describes how a
// directory of sources becomes a flat binary image.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"go.chromium.org/luci/common/errors"
	"gopkg.in/yaml.v3"

	"x86emu/internal/profile"
)

// FileName is the project file looked up in the project directory.
const FileName = "x86emu.yaml"

// Project describes one directory of sources built into a flat image.
type Project struct {
	// Sources are built in order, and the linker sees the objects in the
	// same order, so the entry stub must come first.
	Sources []string `yaml:"sources"`
	// Output is the image file name, relative to the project directory.
	Output string `yaml:"output"`
	// Entry is the linker entry symbol. Empty means the profile's entry.
	Entry string `yaml:"entry"`
	// Origin is the text origin and load address. Zero means the
	// profile's origin.
	Origin uint32 `yaml:"origin"`
	// Profile selects a build profile by slug.
	Profile string `yaml:"profile"`
	// CFlags are extra flags appended to every gcc invocation, split like
	// a shell would split them.
	CFlags string `yaml:"cflags"`
	// Env configures the containerized build environment.
	Env Env `yaml:"env"`

	// Dir is the project directory. It is derived, not read from the file.
	Dir string `yaml:"-"`
}

// Env holds the defaults for the dockerfile and image commands. Empty fields
// fall back to the built-in defaults.
type Env struct {
	// Image is the tag for the built container image.
	Image string `yaml:"image"`
	// User and UID create the non-root build user inside the container.
	User string `yaml:"user"`
	UID  int    `yaml:"uid"`
	// Base is the base image of the build container.
	Base string `yaml:"base"`
}

// Load reads dir/x86emu.yaml and fills in defaults. A missing file is not an
// error as long as the directory contains a recognized source layout: a
// main.asm, or a crt0.asm next to a test.c.
func Load(dir string) (*Project, error) {
	var p Project
	b, err := os.ReadFile(filepath.Join(dir, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &p); err != nil {
			return nil, errors.Annotate(err, "parsing %s", FileName).Err()
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, errors.Annotate(err, "reading %s", FileName).Err()
	}
	return finish(&p, dir)
}

// LoadFile is Load with an explicit project file path. Unlike Load, a missing
// file is an error: the caller asked for that exact file.
func LoadFile(dir, path string) (*Project, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading project file").Err()
	}
	var p Project
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, errors.Annotate(err, "parsing %s", path).Err()
	}
	return finish(&p, dir)
}

// LoadEnv reads only the env section of the project file. The provisioning
// commands run before any sources exist, so source inference does not apply
// and a missing default file yields the zero Env.
func LoadEnv(dir, path string) (Env, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(dir, FileName)
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
	case os.IsNotExist(err) && !explicit:
		return Env{}, nil
	default:
		return Env{}, errors.Annotate(err, "reading project file").Err()
	}
	var p Project
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Env{}, errors.Annotate(err, "parsing %s", path).Err()
	}
	if p.Env.UID < 0 {
		return Env{}, errors.Reason("env.uid: %d must not be negative", p.Env.UID).Err()
	}
	return p.Env, nil
}

func finish(p *Project, dir string) (*Project, error) {
	p.Dir = dir

	if p.Output == "" {
		p.Output = "main"
	}
	if p.Profile == "" {
		p.Profile = "flat"
	}
	if len(p.Sources) == 0 {
		var err error
		p.Sources, err = inferSources(dir)
		if err != nil {
			return nil, err
		}
	}

	if _, ok := profile.GetProfileBySlug(p.Profile); !ok {
		return nil, errors.Reason("unknown profile %q (known: %s)",
			p.Profile, strings.Join(profile.Slugs(), ", ")).Err()
	}
	for _, src := range p.Sources {
		switch filepath.Ext(src) {
		case ".asm", ".c":
		default:
			return nil, errors.Reason("source %q: only .asm and .c files can be built", src).Err()
		}
	}
	if p.Env.UID < 0 {
		return nil, errors.Reason("env.uid: %d must not be negative", p.Env.UID).Err()
	}
	return p, nil
}

// inferSources recognizes the two conventional layouts so small projects do
// not need a project file at all.
func inferSources(dir string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(dir, "main.asm")); err == nil {
		return []string{"main.asm"}, nil
	}
	_, crtErr := os.Stat(filepath.Join(dir, "crt0.asm"))
	_, cErr := os.Stat(filepath.Join(dir, "test.c"))
	if crtErr == nil && cErr == nil {
		return []string{"crt0.asm", "test.c"}, nil
	}
	return nil, errors.Reason("no %s in %s and no main.asm or crt0.asm+test.c to infer from", FileName, dir).Err()
}

// SplitCFlags splits the cflags string like a shell would, so quoted flags
// containing spaces survive.
func (p *Project) SplitCFlags() ([]string, error) {
	if p.CFlags == "" {
		return nil, nil
	}
	flags, err := shlex.Split(p.CFlags)
	if err != nil {
		return nil, errors.Annotate(err, "splitting cflags %q", p.CFlags).Err()
	}
	return flags, nil
}

// OutputPath is the image path on disk.
func (p *Project) OutputPath() string {
	return filepath.Join(p.Dir, p.Output)
}
