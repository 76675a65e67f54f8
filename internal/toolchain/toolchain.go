// Package toolchain invokes the external assembler, C compiler, linker and
// disassembler that turn sources into flat binaries: nasm, gcc, ld and
// objdump, all resolved from PATH.
package toolchain

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.chromium.org/luci/common/errors"
)

// Tools lists the external programs a working build environment needs.
var Tools = []string{"nasm", "gcc", "ld", "objdump"}

// DefaultCFlags compiles C sources for a freestanding flat 32-bit image: no
// standard library, no position-independent code, no stack protector, no
// unwind tables. Control-flow protection is disabled so the compiler does
// not plant endbr32 markers in the generated code.
var DefaultCFlags = []string{
	"-m32",
	"-nostdlib",
	"-fno-pie",
	"-fno-stack-protector",
	"-fno-asynchronous-unwind-tables",
	"-fcf-protection=none",
}

// AssembleELF assembles src into a 32-bit ELF object for linking.
func AssembleELF(ctx context.Context, dir, src, obj string) error {
	_, err := Run(ctx, dir, "nasm", "-f", "elf", src, "-o", obj)
	return errors.Annotate(err, "assembling %s", src).Err()
}

// AssembleFlat assembles src directly into a flat binary, nasm's default
// output format.
func AssembleFlat(ctx context.Context, dir, src, out string) error {
	_, err := Run(ctx, dir, "nasm", src, "-o", out)
	return errors.Annotate(err, "assembling %s", src).Err()
}

// Compile compiles one C source into a 32-bit object using DefaultCFlags
// plus any extra flags.
func Compile(ctx context.Context, dir, src, obj string, extra []string) error {
	args := make([]string, 0, len(DefaultCFlags)+len(extra)+4)
	args = append(args, DefaultCFlags...)
	args = append(args, extra...)
	args = append(args, "-c", src, "-o", obj)
	_, err := Run(ctx, dir, "gcc", args...)
	return errors.Annotate(err, "compiling %s", src).Err()
}

// Link links the objects, in order, into a flat binary with the given entry
// symbol and text origin. The first object provides the code at the origin.
func Link(ctx context.Context, dir, out, entry string, textAddr uint32, objs ...string) error {
	args := []string{
		"-m", "elf_i386",
		"-e", entry,
		"-Ttext", fmt.Sprintf("0x%x", textAddr),
		"--oformat", "binary",
		"-o", out,
	}
	args = append(args, objs...)
	_, err := Run(ctx, dir, "ld", args...)
	return errors.Annotate(err, "linking %s", out).Err()
}

// DisasmOpts select the objdump flavor.
type DisasmOpts struct {
	// Intel switches from AT&T to Intel syntax.
	Intel bool
	// Mode16 decodes as 16-bit real-mode code. Boot sectors start in
	// real mode, so their first instructions only read correctly this way.
	Mode16 bool
}

// Disassemble disassembles a flat binary as raw x86, with addresses shifted
// to the load address.
func Disassemble(ctx context.Context, dir, bin string, vma uint32, opts DisasmOpts) (string, error) {
	args := []string{
		"-D",
		"-b", "binary",
		"-m", "i386",
	}
	var m []string
	if opts.Intel {
		m = append(m, "intel")
	}
	if opts.Mode16 {
		m = append(m, "i8086")
	}
	if len(m) > 0 {
		args = append(args, "-M", strings.Join(m, ","))
	}
	args = append(args, fmt.Sprintf("--adjust-vma=0x%x", vma), bin)
	out, err := Run(ctx, dir, "objdump", args...)
	return out, errors.Annotate(err, "disassembling %s", bin).Err()
}

var versionArg = map[string]string{
	"nasm":    "-v",
	"gcc":     "--version",
	"ld":      "--version",
	"objdump": "--version",
}

// Version reports the first line of the tool's version output.
func Version(ctx context.Context, tool string) (string, error) {
	arg, ok := versionArg[tool]
	if !ok {
		return "", errors.Reason("unknown tool %q", tool).Err()
	}
	out, err := Run(ctx, "", tool, arg)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(out, "\n")
	return strings.TrimSpace(line), nil
}

// LookPath reports where the tool resolves in PATH.
func LookPath(tool string) (string, error) {
	return exec.LookPath(tool)
}
