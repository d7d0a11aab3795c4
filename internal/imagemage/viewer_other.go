//go:build !unix

package imagemage

import "os/exec"

func detach(cmd *exec.Cmd) {}
