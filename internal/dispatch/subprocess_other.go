//go:build !unix

package dispatch

import (
	"errors"
	"os/exec"
	"syscall"
)

func processGroupAttr() *syscall.SysProcAttr { return nil }

func processGroupID(cmd *exec.Cmd) (int, error) {
	return 0, errors.New("process groups not supported on this platform")
}

func killProcessGroupByID(pgid int) error {
	return errors.New("process groups not supported on this platform")
}
