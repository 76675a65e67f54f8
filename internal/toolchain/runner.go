package toolchain

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"syscall"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"golang.org/x/sys/unix"
)

// Run executes an external tool in dir, captures its stdout, and kills the
// tool's whole process group if ctx ends first. Tool stderr is folded into
// the returned error.
func Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debugf(ctx, "run: %s", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return "", errors.Annotate(err, "starting %s", name).Err()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
		<-done
		return "", errors.Annotate(ctx.Err(), "%s", name).Err()
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", errors.Annotate(err, "%s: %s", name, msg).Err()
			}
			return "", errors.Annotate(err, "%s", strings.Join(cmd.Args, " ")).Err()
		}
	}
	return stdout.String(), nil
}
