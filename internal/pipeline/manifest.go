package pipeline

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"x86emu/internal/config"
)

const (
	// manifestName records the inputs of the last successful build.
	// Staleness is judged by content digests rather than mtimes, so
	// touch(1) alone never causes a rebuild.
	manifestName = ".x86emu-build.yaml"
	lockName     = ".x86emu-build.lock"
)

type manifest struct {
	Params  string            `yaml:"params"`
	Sources map[string]string `yaml:"sources"`
	Output  string            `yaml:"output"`
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func buildParams(p *config.Project, plan *Plan) string {
	return fmt.Sprintf("entry=%s origin=%#x profile=%s cflags=%q sources=%s output=%s",
		plan.Entry, plan.Origin, plan.Prof.Slug, p.CFlags,
		strings.Join(p.Sources, ","), p.Output)
}

// currentManifest hashes the present state of the build inputs and output.
// A missing output leaves Output empty.
func currentManifest(p *config.Project, plan *Plan) (*manifest, error) {
	m := &manifest{
		Params:  buildParams(p, plan),
		Sources: make(map[string]string),
	}
	for _, src := range p.Sources {
		d, err := fileDigest(filepath.Join(p.Dir, src))
		if err != nil {
			return nil, errors.Annotate(err, "hashing %s", src).Err()
		}
		m.Sources[src] = d
	}
	d, err := fileDigest(p.OutputPath())
	switch {
	case err == nil:
		m.Output = d
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	return m, nil
}

// staleReason compares the recorded manifest against the current state and
// says why a rebuild is needed. Empty means up to date.
func staleReason(dir string, cur *manifest) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, manifestName))
	if os.IsNotExist(err) {
		return "no record of a previous build", nil
	}
	if err != nil {
		return "", err
	}
	var last manifest
	if err := yaml.Unmarshal(b, &last); err != nil {
		return "unreadable build record", nil
	}
	if cur.Output == "" {
		return "output image missing", nil
	}
	if last.Params != cur.Params {
		return "build parameters changed", nil
	}
	for src, d := range cur.Sources {
		if last.Sources[src] != d {
			return fmt.Sprintf("%s changed", src), nil
		}
	}
	if last.Output != cur.Output {
		return "output image modified", nil
	}
	return "", nil
}

func writeManifest(dir string, m *manifest) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, manifestName))
}
