//go:build linux

package mpv

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcess ties the player's lifetime to the daemon's.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGTERM,
	}
}
