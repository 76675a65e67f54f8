package pipeline

import (
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"

	"x86emu/internal/config"
	"x86emu/internal/profile"
)

// Object is one source built into an ELF object for linking.
type Object struct {
	Src string
	Obj string
	// Compile selects the C compiler; otherwise the assembler.
	Compile bool
}

// Plan is the build recipe derived from a project: either a single assembly
// source assembled straight into the image, or a set of objects linked at
// the origin.
type Plan struct {
	// Flat means FlatSrc is assembled directly to the image with no link
	// step; the source controls its own layout via ORG.
	Flat    bool
	FlatSrc string
	// Objects lists the per-source objects, in link order.
	Objects []Object

	Entry  string
	Origin uint32
	Prof   profile.Profile
	Output string
}

// NewPlan derives the build plan. The project's entry and origin override
// the profile's defaults.
func NewPlan(p *config.Project) (*Plan, error) {
	prof, ok := profile.GetProfileBySlug(p.Profile)
	if !ok {
		return nil, errors.Reason("unknown profile %q (known: %s)",
			p.Profile, strings.Join(profile.Slugs(), ", ")).Err()
	}
	plan := &Plan{
		Entry:  p.Entry,
		Origin: p.Origin,
		Prof:   prof,
		Output: p.Output,
	}
	if plan.Entry == "" {
		plan.Entry = prof.Entry
	}
	if plan.Origin == 0 {
		plan.Origin = prof.TextAddr
	}
	if len(p.Sources) == 0 {
		return nil, errors.Reason("project has no sources").Err()
	}

	if len(p.Sources) == 1 && filepath.Ext(p.Sources[0]) == ".asm" {
		plan.Flat = true
		plan.FlatSrc = p.Sources[0]
		return plan, nil
	}

	seen := make(map[string]string)
	for _, src := range p.Sources {
		ext := filepath.Ext(src)
		obj := strings.TrimSuffix(src, ext) + ".o"
		if prev, dup := seen[obj]; dup {
			return nil, errors.Reason("%s and %s both build %s", prev, src, obj).Err()
		}
		seen[obj] = src
		switch ext {
		case ".asm":
			plan.Objects = append(plan.Objects, Object{Src: src, Obj: obj})
		case ".c":
			plan.Objects = append(plan.Objects, Object{Src: src, Obj: obj, Compile: true})
		default:
			return nil, errors.Reason("source %q: only .asm and .c files can be built", src).Err()
		}
	}
	return plan, nil
}
