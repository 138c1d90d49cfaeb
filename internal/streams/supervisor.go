package streams

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/ring"
)

const (
	stderrCapture = 8 * 1024
	killWait      = 2 * time.Second
)

// Command describes one decoder process.
type Command struct {
	Name string
	Args []string

	// Stdin, when set, becomes the child's standard input. Passing another
	// process's Stdout connects the two without copying in this process.
	Stdin io.Reader

	// Stdout requests a pipe for the child's standard output.
	Stdout bool
}

func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Process is a running decoder.
type Process interface {
	Pid() int
	Alive() bool
	// Stdout is nil unless Command.Stdout was set. It supports read deadlines
	// when the underlying reader does.
	Stdout() io.Reader
	// Diagnostics returns the tail of the process's stderr.
	Diagnostics() string
	// Terminate sends SIGTERM to the process group, waits up to grace, then
	// sends SIGKILL. It is safe to call on an exited process.
	Terminate(grace time.Duration) error
	Done() <-chan struct{}
}

// Spawner starts decoder processes. Tests substitute a fake.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// ExecSpawner starts real processes in their own process group.
type ExecSpawner struct {
	// BinDir is searched after PATH and /usr/bin.
	BinDir string
}

// Spawn starts cmd. A missing binary is reported as ErrBinaryNotFound.
func (s ExecSpawner) Spawn(_ context.Context, c Command) (Process, error) {
	cmd := exec.Command(findBinary(c.Name, s.BinDir), c.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = c.Stdin

	stderr := ring.New(stderrCapture)
	cmd.Stderr = stderr

	var pr, pw *os.File
	if c.Stdout {
		var err error
		if pr, pw, err = os.Pipe(); err != nil {
			return nil, fmt.Errorf("%s: stdout pipe: %w", c.Name, err)
		}
		cmd.Stdout = pw
	}

	if err := cmd.Start(); err != nil {
		if pr != nil {
			pr.Close()
			pw.Close()
		}
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%s: %w", c.Name, ErrBinaryNotFound)
		}
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}
	if pw != nil {
		// The child holds its own copy; keeping ours would hide EOF.
		pw.Close()
	}

	p := &execProcess{
		name:   c.Name,
		cmd:    cmd,
		stdout: pr,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go p.wait()
	slog.Debug("streams: process started", "name", c.Name, "pid", cmd.Process.Pid, "cmd", c.String())
	return p, nil
}

type execProcess struct {
	name   string
	cmd    *exec.Cmd
	stdout *os.File
	stderr *ring.Buffer
	done   chan struct{}
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	if p.stdout != nil {
		p.stdout.Close()
	}
	slog.Debug("streams: process exited", "name", p.name, "pid", p.cmd.Process.Pid, "err", err)
	close(p.done)
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

func (p *execProcess) Diagnostics() string {
	return strings.TrimSpace(p.stderr.String())
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Terminate(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}
	pid := p.cmd.Process.Pid
	slog.Debug("streams: sending SIGTERM to process group", "name", p.name, "pid", pid)
	_ = unix.Kill(-pid, unix.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	slog.Warn("streams: SIGTERM timed out, sending SIGKILL", "name", p.name, "pid", pid)
	_ = unix.Kill(-pid, unix.SIGKILL)

	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("%s (pid %d) still running after SIGKILL", p.name, pid)
	}
}

// terminate stops p and logs a failure. It tolerates nil.
func terminate(p Process, grace time.Duration, name string) {
	if p == nil {
		return
	}
	if err := p.Terminate(grace); err != nil {
		slog.Error("streams: terminate failed", "name", name, "err", err)
	}
}

// findBinary searches for a binary by name in order:
//  1. exec.LookPath (PATH)
//  2. /usr/bin/<name>
//  3. binDir/<name>
func findBinary(name, binDir string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	if p := filepath.Join("/usr/bin", name); fileExists(p) {
		return p
	}
	if binDir != "" {
		if p := filepath.Join(binDir, name); fileExists(p) {
			return p
		}
	}
	// Let exec report the failure with a clear error.
	return name
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// isNotFoundError returns true if err indicates the binary was not found.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, os.ErrNotExist) ||
		strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "no such file or directory")
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
