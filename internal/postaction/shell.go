package postaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Commander runs external programs. The real one shells out; tests record.
type Commander interface {
	Exec(ctx context.Context, bin string, args ...string) error
}

// ShellCommander runs binaries directly and free-form commands through the
// platform shell.
type ShellCommander struct{}

func (ShellCommander) Exec(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s exited with code %d: %s", bin, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	return fmt.Errorf("%s: %w", bin, err)
}

// shellArgs wraps command for the platform shell.
func shellArgs(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "/bin/sh", []string{"-c", command}
}

func shutdownArgs() (string, []string) {
	switch runtime.GOOS {
	case "windows":
		return "shutdown", []string{"-s", "-t", "60"}
	case "darwin":
		return "osascript", []string{"-e", `tell app "System Events" to shut down`}
	default:
		return "shutdown", []string{"-h", "+1"}
	}
}
