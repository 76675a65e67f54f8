// Package pipeline drives the external toolchain to turn project sources
// into a flat image, and wraps the emulator and disassembler around the
// result. Builds are skipped when nothing changed, in the manner of make.
package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"x86emu/internal/bootimg"
	"x86emu/internal/config"
	"x86emu/internal/emu"
	"x86emu/internal/humanize"
	"x86emu/internal/toolchain"
)

const imageMode = 0644

// BuildResult reports what Build did.
type BuildResult struct {
	// Image is the absolute path of the built image.
	Image string
	Size  int64
	// Rebuilt is false when the image was already up to date.
	Rebuilt bool
}

// Build produces the project's image. Concurrent builds of the same project
// directory serialize on a lock file.
func Build(ctx context.Context, p *config.Project, force bool) (*BuildResult, error) {
	plan, err := NewPlan(p)
	if err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(p.Dir, lockName))
	if err := lock.Lock(); err != nil {
		return nil, errors.Annotate(err, "locking %s", p.Dir).Err()
	}
	defer lock.Unlock()

	cur, err := currentManifest(p, plan)
	if err != nil {
		return nil, err
	}
	reason := "forced"
	if !force {
		reason, err = staleReason(p.Dir, cur)
		if err != nil {
			return nil, err
		}
	}
	out := p.OutputPath()
	if reason == "" {
		st, err := os.Stat(out)
		if err != nil {
			return nil, err
		}
		logging.Debugf(ctx, "%s is up to date", p.Output)
		return &BuildResult{Image: out, Size: st.Size()}, nil
	}
	logging.Infof(ctx, "building %s: %s", p.Output, reason)

	rawRel := p.Output + ".tmp"
	if plan.Flat {
		if err := toolchain.AssembleFlat(ctx, p.Dir, plan.FlatSrc, rawRel); err != nil {
			return nil, err
		}
	} else {
		cflags, err := p.SplitCFlags()
		if err != nil {
			return nil, err
		}
		objs := make([]string, 0, len(plan.Objects))
		for _, o := range plan.Objects {
			if o.Compile {
				err = toolchain.Compile(ctx, p.Dir, o.Src, o.Obj, cflags)
			} else {
				err = toolchain.AssembleELF(ctx, p.Dir, o.Src, o.Obj)
			}
			if err != nil {
				return nil, err
			}
			objs = append(objs, o.Obj)
		}
		if err := toolchain.Link(ctx, p.Dir, rawRel, plan.Entry, plan.Origin, objs...); err != nil {
			return nil, err
		}
	}

	size, err := finalize(plan, filepath.Join(p.Dir, rawRel), out)
	if err != nil {
		return nil, err
	}

	cur.Output, err = fileDigest(out)
	if err != nil {
		return nil, err
	}
	if err := writeManifest(p.Dir, cur); err != nil {
		return nil, errors.Annotate(err, "recording build").Err()
	}
	logging.Infof(ctx, "wrote %s (%s)", p.Output, humanize.Bytes(uint64(size)))
	return &BuildResult{Image: out, Size: size, Rebuilt: true}, nil
}

// finalize moves the raw image into place, applying the profile's size cap
// and boot signature.
func finalize(plan *Plan, raw, out string) (int64, error) {
	st, err := os.Stat(raw)
	if err != nil {
		return 0, err
	}
	if max := plan.Prof.MaxImageSize; max > 0 && !plan.Prof.BootSignature && st.Size() > max {
		os.Remove(raw)
		return 0, errors.Reason("image is %s, profile %s caps it at %d bytes",
			humanize.Bytes(uint64(st.Size())), plan.Prof.Slug, max).Err()
	}
	if plan.Prof.BootSignature {
		image, err := os.ReadFile(raw)
		if err != nil {
			return 0, err
		}
		var buf bytes.Buffer
		if _, err := bootimg.Finish(&buf, image); err != nil {
			os.Remove(raw)
			return 0, errors.Annotate(err, "profile %s", plan.Prof.Slug).Err()
		}
		if err := os.WriteFile(raw, buf.Bytes(), imageMode); err != nil {
			return 0, err
		}
	}
	if err := os.Rename(raw, out); err != nil {
		return 0, err
	}
	st, err = os.Stat(out)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// RunOptions adjusts how the built image is executed.
type RunOptions struct {
	Trace      emu.Sink
	MemorySize uint32
	MaxSteps   uint64
	ForceBuild bool
}

// RunResult is the machine state when execution stopped. It is also
// returned alongside a non-nil error so callers can show where the guest
// was when it failed.
type RunResult struct {
	Steps uint64
	CPU   emu.CPU
}

// Run builds the image if needed and executes it at the plan's origin.
func Run(ctx context.Context, p *config.Project, opts RunOptions) (*RunResult, error) {
	plan, err := NewPlan(p)
	if err != nil {
		return nil, err
	}
	br, err := Build(ctx, p, opts.ForceBuild)
	if err != nil {
		return nil, err
	}
	image, err := os.ReadFile(br.Image)
	if err != nil {
		return nil, err
	}

	e := emu.New(emu.Config{
		MemorySize: opts.MemorySize,
		Origin:     plan.Origin,
		Trace:      opts.Trace,
		MaxSteps:   opts.MaxSteps,
	})
	if err := e.LoadImage(image); err != nil {
		return nil, err
	}
	logging.Debugf(ctx, "running %s (%s) at 0x%x", p.Output, humanize.Bytes(uint64(len(image))), plan.Origin)
	steps, err := e.Run(ctx)
	return &RunResult{Steps: steps, CPU: *e.CPU()}, err
}

// Dump builds the image if needed and disassembles it as raw x86 at the
// plan's origin.
func Dump(ctx context.Context, p *config.Project, force bool, opts toolchain.DisasmOpts) (string, error) {
	plan, err := NewPlan(p)
	if err != nil {
		return "", err
	}
	if _, err := Build(ctx, p, force); err != nil {
		return "", err
	}
	return toolchain.Disassemble(ctx, p.Dir, p.Output, plan.Origin, opts)
}

// Clean removes the image, the object files and the build record.
func Clean(ctx context.Context, p *config.Project) error {
	plan, err := NewPlan(p)
	if err != nil {
		return err
	}
	paths := []string{
		p.OutputPath(),
		filepath.Join(p.Dir, manifestName),
		filepath.Join(p.Dir, lockName),
	}
	for _, o := range plan.Objects {
		paths = append(paths, filepath.Join(p.Dir, o.Obj))
	}
	for _, path := range paths {
		err := os.Remove(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		logging.Debugf(ctx, "removed %s", path)
	}
	return nil
}
