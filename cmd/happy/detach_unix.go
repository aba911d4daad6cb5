//go:build linux || darwin

package main

import (
	"os/exec"
	"syscall"
)

// detach starts c in its own session so it survives this short-lived
// `happy` process exiting, the same auto-spawn shape the teacher's
// `wt daemon --install` flag describes for handing off to a supervisor.
func detach(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
