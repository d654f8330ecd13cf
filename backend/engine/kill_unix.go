//go:build !windows

package engine

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup 让内核进入独立进程组。
// 内核可能派生子进程（插件、helper），停止时必须整组收掉，
// 否则残留的孙进程会一直持有 stderr 管道，拖住 Wait。
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree 按进程组杀；组没建起来时退回只杀直接子进程。
func killProcessTree(p *os.Process) {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		_ = p.Kill()
	}
}
