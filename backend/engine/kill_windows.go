//go:build windows

package engine

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessTree(p *os.Process) {
	_ = p.Kill()
}
