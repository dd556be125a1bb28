//go:build windows

package launcher

import (
	"os"
	"os/exec"
)

func setProcAttr(cmd *exec.Cmd) {}

func killTree(p *os.Process) error {
	return p.Kill()
}
