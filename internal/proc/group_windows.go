//go:build windows

package proc

import "os/exec"

func SetProcessGroup(cmd *exec.Cmd) {}

func KillGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
