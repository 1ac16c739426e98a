//go:build linux || darwin

package plugin

import "syscall"

// sandboxProcAttr puts the plugin in its own process group so Terminate can
// eventually be extended to signal the whole group, not just the leader.
func sandboxProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
