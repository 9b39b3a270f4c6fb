//go:build windows

package agentloop

import "os/exec"

// configureProcessGroup is a no-op on Windows; cancellation kills the shell
// process only.
func configureProcessGroup(cmd *exec.Cmd) {}
