//go:build unix

package dispatch

import (
	"os/exec"
	"syscall"
)

func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func processGroupID(cmd *exec.Cmd) (int, error) {
	return syscall.Getpgid(cmd.Process.Pid)
}

func killProcessGroupByID(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
