package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"x86emu/internal/config"
	"x86emu/internal/emu"
	"x86emu/internal/toolchain"
)

func needsTool(t *testing.T, tool string) {
	t.Helper()
	if _, err := exec.LookPath(tool); err != nil {
		t.Skipf("%s not found in PATH: %v", tool, err)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestNewPlan(t *testing.T) {
	t.Run("flat", func(t *testing.T) {
		p := &config.Project{Sources: []string{"main.asm"}, Output: "main", Profile: "flat"}
		plan, err := NewPlan(p)
		require.NoError(t, err)
		require.True(t, plan.Flat)
		require.Equal(t, "main.asm", plan.FlatSrc)
		require.Equal(t, "start", plan.Entry)
		require.Equal(t, uint32(0x7c00), plan.Origin)
	})

	t.Run("project overrides profile", func(t *testing.T) {
		p := &config.Project{
			Sources: []string{"main.asm"},
			Output:  "main",
			Profile: "flat",
			Entry:   "boot",
			Origin:  0x8000,
		}
		plan, err := NewPlan(p)
		require.NoError(t, err)
		require.Equal(t, "boot", plan.Entry)
		require.Equal(t, uint32(0x8000), plan.Origin)
	})

	t.Run("mixed sources", func(t *testing.T) {
		p := &config.Project{Sources: []string{"crt0.asm", "test.c"}, Output: "main", Profile: "flat"}
		plan, err := NewPlan(p)
		require.NoError(t, err)
		require.False(t, plan.Flat)
		require.Equal(t, []Object{
			{Src: "crt0.asm", Obj: "crt0.o"},
			{Src: "test.c", Obj: "test.o", Compile: true},
		}, plan.Objects)
	})

	t.Run("two assembly sources are linked", func(t *testing.T) {
		p := &config.Project{Sources: []string{"a.asm", "b.asm"}, Output: "main", Profile: "flat"}
		plan, err := NewPlan(p)
		require.NoError(t, err)
		require.False(t, plan.Flat)
		require.Len(t, plan.Objects, 2)
	})

	t.Run("single C source is linked", func(t *testing.T) {
		p := &config.Project{Sources: []string{"kernel.c"}, Output: "main", Profile: "flat"}
		plan, err := NewPlan(p)
		require.NoError(t, err)
		require.False(t, plan.Flat)
		require.Equal(t, []Object{{Src: "kernel.c", Obj: "kernel.o", Compile: true}}, plan.Objects)
	})

	t.Run("object collision", func(t *testing.T) {
		p := &config.Project{Sources: []string{"a.asm", "a.c"}, Output: "main", Profile: "flat"}
		_, err := NewPlan(p)
		require.ErrorContains(t, err, "both build a.o")
	})

	t.Run("unknown profile", func(t *testing.T) {
		p := &config.Project{Sources: []string{"main.asm"}, Output: "main", Profile: "turbo"}
		_, err := NewPlan(p)
		require.Error(t, err)
	})

	t.Run("no sources", func(t *testing.T) {
		p := &config.Project{Output: "main", Profile: "flat"}
		_, err := NewPlan(p)
		require.Error(t, err)
	})
}

func TestStaleness(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.asm", "BITS 32\nret\n")
	writeFile(t, dir, "main", "fake image v1")

	p := &config.Project{Sources: []string{"main.asm"}, Output: "main", Profile: "flat", Dir: dir}
	plan, err := NewPlan(p)
	require.NoError(t, err)

	cur, err := currentManifest(p, plan)
	require.NoError(t, err)

	// No record yet.
	reason, err := staleReason(dir, cur)
	require.NoError(t, err)
	require.Equal(t, "no record of a previous build", reason)

	require.NoError(t, writeManifest(dir, cur))
	reason, err = staleReason(dir, cur)
	require.NoError(t, err)
	require.Empty(t, reason)

	// Source content changes.
	writeFile(t, dir, "main.asm", "BITS 32\nnop\nret\n")
	cur, err = currentManifest(p, plan)
	require.NoError(t, err)
	reason, err = staleReason(dir, cur)
	require.NoError(t, err)
	require.Equal(t, "main.asm changed", reason)

	require.NoError(t, writeManifest(dir, cur))

	// Output overwritten behind our back.
	writeFile(t, dir, "main", "fake image v2")
	cur, err = currentManifest(p, plan)
	require.NoError(t, err)
	reason, err = staleReason(dir, cur)
	require.NoError(t, err)
	require.Equal(t, "output image modified", reason)

	// Output removed.
	require.NoError(t, os.Remove(filepath.Join(dir, "main")))
	cur, err = currentManifest(p, plan)
	require.NoError(t, err)
	reason, err = staleReason(dir, cur)
	require.NoError(t, err)
	require.Equal(t, "output image missing", reason)

	// Build parameters change.
	writeFile(t, dir, "main", "fake image v2")
	cur, err = currentManifest(p, plan)
	require.NoError(t, err)
	require.NoError(t, writeManifest(dir, cur))
	p.Entry = "boot"
	plan, err = NewPlan(p)
	require.NoError(t, err)
	cur, err = currentManifest(p, plan)
	require.NoError(t, err)
	reason, err = staleReason(dir, cur)
	require.NoError(t, err)
	require.Equal(t, "build parameters changed", reason)

	// Garbage record.
	writeFile(t, dir, manifestName, ":-(\n\t")
	reason, err = staleReason(dir, cur)
	require.NoError(t, err)
	require.Equal(t, "unreadable build record", reason)
}

const flatMain = "BITS 32\n" +
	"ORG 0x7c00\n" +
	"start:\n" +
	"mov eax, 0x29\n" +
	"jmp 0\n"

func TestBuildFlat(t *testing.T) {
	needsTool(t, "nasm")

	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "main.asm", flatMain)

	p, err := config.Load(dir)
	require.NoError(t, err)

	br, err := Build(ctx, p, false)
	require.NoError(t, err)
	require.True(t, br.Rebuilt)
	require.Equal(t, filepath.Join(dir, "main"), br.Image)

	image, err := os.ReadFile(br.Image)
	require.NoError(t, err)
	require.NotEmpty(t, image)
	require.Equal(t, uint8(0xB8), image[0], "image does not start with mov eax, imm32")

	// Second build is a no-op.
	br, err = Build(ctx, p, false)
	require.NoError(t, err)
	require.False(t, br.Rebuilt)

	// Forced build reruns the tools.
	br, err = Build(ctx, p, true)
	require.NoError(t, err)
	require.True(t, br.Rebuilt)

	// Changing the source makes it stale again.
	writeFile(t, dir, "main.asm", "BITS 32\nORG 0x7c00\nstart:\nmov eax, 0x2A\njmp 0\n")
	br, err = Build(ctx, p, false)
	require.NoError(t, err)
	require.True(t, br.Rebuilt)
}

func TestRunFlat(t *testing.T) {
	needsTool(t, "nasm")

	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "main.asm", flatMain)

	p, err := config.Load(dir)
	require.NoError(t, err)

	res, err := Run(ctx, p, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.Steps)
	require.Equal(t, uint32(0x29), res.CPU.Regs[emu.EAX])
	require.Equal(t, uint32(0), res.CPU.EIP)
}

func TestBuildBootSector(t *testing.T) {
	needsTool(t, "nasm")

	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, config.FileName, "sources: [main.asm]\nprofile: bootsector\noutput: boot.img\n")
	writeFile(t, dir, "main.asm", "BITS 32\nORG 0x7c00\nstart:\njmp 0\n")

	p, err := config.Load(dir)
	require.NoError(t, err)

	br, err := Build(ctx, p, false)
	require.NoError(t, err)
	require.Equal(t, int64(512), br.Size)

	image, err := os.ReadFile(br.Image)
	require.NoError(t, err)
	require.Len(t, image, 512)
	require.Equal(t, uint8(0x55), image[510])
	require.Equal(t, uint8(0xAA), image[511])
}

func TestBuildBootSectorTooBig(t *testing.T) {
	needsTool(t, "nasm")

	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, config.FileName, "sources: [main.asm]\nprofile: bootsector\n")
	writeFile(t, dir, "main.asm", "BITS 32\nORG 0x7c00\nstart:\ntimes 600 nop\njmp 0\n")

	p, err := config.Load(dir)
	require.NoError(t, err)

	_, err = Build(ctx, p, false)
	require.Error(t, err)
	require.ErrorContains(t, err, "boot signature")
}

func TestDump(t *testing.T) {
	needsTool(t, "nasm")
	needsTool(t, "objdump")

	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "main.asm", flatMain)

	p, err := config.Load(dir)
	require.NoError(t, err)

	out, err := Dump(ctx, p, false, toolchain.DisasmOpts{})
	require.NoError(t, err)
	require.Contains(t, out, "7c00")
	require.Contains(t, out, "mov")
}

func TestClean(t *testing.T) {
	needsTool(t, "nasm")

	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "main.asm", flatMain)

	p, err := config.Load(dir)
	require.NoError(t, err)

	_, err = Build(ctx, p, false)
	require.NoError(t, err)

	require.NoError(t, Clean(ctx, p))
	_, err = os.Stat(filepath.Join(dir, "main"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, manifestName))
	require.True(t, os.IsNotExist(err))
	// Sources stay.
	_, err = os.Stat(filepath.Join(dir, "main.asm"))
	require.NoError(t, err)
}
