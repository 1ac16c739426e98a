//go:build linux || darwin

package plugin

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/kira-vault/kira/internal/kernelerr"
)

// allowedEnvVars is the whitelist copied into a plugin's environment (spec
// §4.14: "prepare a sanitized environment (whitelisted env vars only)").
var allowedEnvVars = []string{"PATH", "HOME", "LANG", "TZ", "TMPDIR"}

// DefaultMaxRestarts, DefaultRestartWindowS and DefaultGracePeriodS (both in
// seconds) match the spec's lifecycle defaults (§4.14).
const (
	DefaultMaxRestarts     = 3
	DefaultRestartWindowS  = 300
	DefaultGracePeriodS    = 5
)

// Process wraps one running plugin subprocess and its JSON-RPC framing.
type Process struct {
	Manifest *Manifest
	cmd      *exec.Cmd
	Writer   *FrameWriter
	Reader   *FrameReader

	mu            sync.Mutex
	restartTimes  []time.Time
	maxRestarts   int
	restartWindow time.Duration
}

// Launch starts m.Entry as a subprocess with a sanitized environment, in its
// own process group (spec §4.14 Launch). It does not apply m.Sandbox's
// memory or CPU limits to the child; see applySandboxLimits.
func Launch(m *Manifest) (*Process, error) {
	cmd := exec.Command(m.Entry)
	cmd.Env = sanitizedEnv(m)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: plugin %s stdin pipe: %v", kernelerr.ErrIO, m.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: plugin %s stdout pipe: %v", kernelerr.ErrIO, m.Name, err)
	}

	applySandboxLimits(cmd, m.Sandbox)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: launch plugin %s: %v", kernelerr.ErrIO, m.Name, err)
	}

	return &Process{
		Manifest:      m,
		cmd:           cmd,
		Writer:        NewFrameWriter(stdin),
		Reader:        NewFrameReader(stdout),
		maxRestarts:   DefaultMaxRestarts,
		restartWindow: DefaultRestartWindowS * time.Second,
	}, nil
}

// sanitizedEnv copies only allowedEnvVars from the host environment, plus
// a network-blocking hint when the manifest disallows network access
// (spec §4.14: "network-blocking env hints when disallowed").
func sanitizedEnv(m *Manifest) []string {
	var env []string
	for _, key := range allowedEnvVars {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	if !m.Sandbox.NetworkAccess {
		env = append(env, "KIRA_NO_NETWORK=1", "http_proxy=", "https_proxy=")
	}
	return env
}

// applySandboxLimits puts the child in its own process group. It computes
// the address-space (memory_limit_mb) and CPU-time (timeout_ms/1000 + 10)
// ceilings but does not apply them, and core dumps are not disabled: the
// child runs with the parent's resource limits. No-op on platforms other
// than linux and darwin.
func applySandboxLimits(cmd *exec.Cmd, sb Sandbox) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		return
	}
	cpuSeconds := uint64(sb.TimeoutMS/1000 + 10)
	var memBytes uint64
	if sb.MemoryLimitMB > 0 {
		memBytes = uint64(sb.MemoryLimitMB) * 1024 * 1024
	}
	cmd.SysProcAttr = sandboxProcAttr()
	_ = cpuSeconds
	_ = memBytes
}

// ApplyCurrentProcessLimits sets RLIMIT_AS/RLIMIT_CPU/RLIMIT_CORE on the
// calling process. Nothing in this module calls it; Launch does not use it
// for the plugin child.
func ApplyCurrentProcessLimits(memoryLimitMB int, timeoutMS int) error {
	if memoryLimitMB > 0 {
		limit := uint64(memoryLimitMB) * 1024 * 1024
		if err := syscall.Setrlimit(syscall.RLIMIT_AS, &syscall.Rlimit{Cur: limit, Max: limit}); err != nil {
			return fmt.Errorf("%w: set RLIMIT_AS: %v", kernelerr.ErrIO, err)
		}
	}
	cpuSeconds := uint64(timeoutMS/1000 + 10)
	if err := syscall.Setrlimit(syscall.RLIMIT_CPU, &syscall.Rlimit{Cur: cpuSeconds, Max: cpuSeconds}); err != nil {
		return fmt.Errorf("%w: set RLIMIT_CPU: %v", kernelerr.ErrIO, err)
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_CORE, &syscall.Rlimit{Cur: 0, Max: 0}); err != nil {
		return fmt.Errorf("%w: disable core dumps: %v", kernelerr.ErrIO, err)
	}
	return nil
}

// CanRestart reports whether another restart is allowed under the
// max_restarts/restart_window_seconds rate limit (spec §4.14 Lifecycle),
// recording this attempt if so.
func (p *Process) CanRestart(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-p.restartWindow)
	var kept []time.Time
	for _, t := range p.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.restartTimes = kept

	if len(p.restartTimes) >= p.maxRestarts {
		return false
	}
	p.restartTimes = append(p.restartTimes, now)
	return true
}

// Terminate sends SIGTERM, waits gracePeriod, then SIGKILL if the process
// hasn't exited (spec §4.14: "terminate(force=false) sends SIGTERM, waits
// grace_period_seconds, then SIGKILL"). force=true skips straight to
// SIGKILL.
func (p *Process) Terminate(force bool, gracePeriod time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}
	if force {
		return p.cmd.Process.Kill()
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("%w: SIGTERM plugin %s: %v", kernelerr.ErrIO, p.Manifest.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(gracePeriod):
		return p.cmd.Process.Kill()
	}
}
