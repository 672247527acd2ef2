//go:build !linux

package mpv

import "os/exec"

func configureProcess(*exec.Cmd) {}
