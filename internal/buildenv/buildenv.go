// Package buildenv provisions and checks the build environment: the
// container image carrying the external toolchain, and doctor probes for
// running directly on the host.
package buildenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"x86emu/internal/toolchain"
)

// DefaultTag is the image tag used when none is given.
const DefaultTag = "x86emu"

// WriteDockerfile renders the Dockerfile into dir.
func WriteDockerfile(dir string, p Params) (string, error) {
	b, err := Dockerfile(p)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "Dockerfile")
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", errors.Annotate(err, "writing %s", path).Err()
	}
	return path, nil
}

// BuildImage renders the Dockerfile into dir and builds the container image.
func BuildImage(ctx context.Context, dir, tag string, p Params) error {
	if tag == "" {
		tag = DefaultTag
	}
	p = p.withDefaults()
	path, err := WriteDockerfile(dir, p)
	if err != nil {
		return err
	}
	logging.Infof(ctx, "building image %s from %s", tag, path)
	_, err = toolchain.Run(ctx, dir, "docker",
		"build",
		"-t", tag,
		"--build-arg", "USER="+p.User,
		"--build-arg", fmt.Sprintf("UID=%d", p.UID),
		".")
	return errors.Annotate(err, "docker build").Err()
}

// Check is one doctor probe.
type Check struct {
	Name string
	OK   bool
	// Optional marks probes whose failure does not break builds.
	Optional bool
	Detail   string
}

// Doctor probes the host for the tools a build needs.
func Doctor(ctx context.Context) []Check {
	var checks []Check
	for _, tool := range toolchain.Tools {
		path, err := toolchain.LookPath(tool)
		if err != nil {
			checks = append(checks, Check{Name: tool, Detail: "not found in PATH"})
			continue
		}
		version, err := toolchain.Version(ctx, tool)
		if err != nil {
			checks = append(checks, Check{Name: tool, Detail: fmt.Sprintf("%s (version check failed: %v)", path, err)})
			continue
		}
		checks = append(checks, Check{Name: tool, OK: true, Detail: version})
	}
	if path, err := toolchain.LookPath("docker"); err == nil {
		checks = append(checks, Check{Name: "docker", OK: true, Optional: true, Detail: path})
	} else {
		checks = append(checks, Check{Name: "docker", Optional: true, Detail: "not found in PATH (only needed for x86emu image)"})
	}
	return checks
}

// Healthy reports whether every required check passed.
func Healthy(checks []Check) bool {
	for _, c := range checks {
		if !c.OK && !c.Optional {
			return false
		}
	}
	return true
}
