//go:build !unix

package engine

import "os/exec"

// killProcessGroup: вне unix останавливается только сам процесс движка.
func killProcessGroup(*exec.Cmd) {}
