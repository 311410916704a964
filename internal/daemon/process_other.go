//go:build !unix

package daemon

import (
	"errors"
	"os"
	"os/exec"
)

func detach(cmd *exec.Cmd) {}

func terminateProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return ErrProcessNotFound
	}
	err = p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return ErrProcessNotFound
	}
	return err
}
