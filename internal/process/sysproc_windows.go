//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// terminate has no graceful equivalent on Windows; Stop falls through to
// kill after the grace period.
func terminate(*exec.Cmd) error {
	return nil
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
