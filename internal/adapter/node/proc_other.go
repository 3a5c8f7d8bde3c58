//go:build !unix

package node

import "os/exec"

// killGroup keeps the default: only the shell process is killed.
func killGroup(*exec.Cmd) {}
