package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultTimeout applies when a caller passes a non-positive timeout.
	DefaultTimeout = 2 * time.Second

	// waitDelay bounds how long Run waits for output pipes after the process
	// has been killed.
	waitDelay = 500 * time.Millisecond
)

var (
	ErrTimeout       = errors.New("command timed out")
	ErrCommandFailed = errors.New("command failed")
)

// Runner executes shell commands. Implementations must honour both the
// timeout and ctx cancellation and must not leave the child running.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration, check bool) (stdout string, stderr string, err error)
}

// CommandError describes a failed or timed-out command.
type CommandError struct {
	Kind     error
	Command  string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	Err      error
}

func (e *CommandError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrTimeout):
		return fmt.Sprintf("command timed out after %dms: %s", e.Elapsed.Milliseconds(), e.Command)
	case e.Stderr != "":
		return fmt.Sprintf("command failed: %s", e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("command failed: %v", e.Err)
	default:
		return "command failed: Unknown error"
	}
}

func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Shell runs commands through `sh -c`, either on the host or, when Container
// is set, inside that container via `docker exec`.
type Shell struct {
	Container string
	Docker    string
}

// NewHostShell returns a Shell that runs commands on the host.
func NewHostShell() *Shell {
	return &Shell{}
}

// NewContainerShell returns a Shell that runs commands inside container.
func NewContainerShell(container string) *Shell {
	return &Shell{Container: container, Docker: "docker"}
}

func (s *Shell) argv(command string) (string, []string) {
	if s.Container == "" {
		return "sh", []string{"-c", command}
	}
	docker := s.Docker
	if docker == "" {
		docker = "docker"
	}
	return docker, []string{"exec", s.Container, "sh", "-c", command}
}

func (s *Shell) Run(ctx context.Context, command string, timeout time.Duration, check bool) (string, string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := s.argv(command)
	cmd := exec.CommandContext(runCtx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	slog.Debug("Executing command", "container", s.Container, "command", command)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	outStr := strings.TrimSpace(stdout.String())
	errStr := strings.TrimSpace(stderr.String())

	if err == nil {
		return outStr, errStr, nil
	}

	// Parent cancellation wins over our own deadline.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outStr, errStr, fmt.Errorf("command %q cancelled: %w", command, ctxErr)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		slog.Error("Command timed out", "container", s.Container, "command", command, "timeout", timeout)
		return outStr, errStr, &CommandError{
			Kind:    ErrTimeout,
			Command: command,
			Stderr:  errStr,
			Elapsed: elapsed,
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if !check {
			return outStr, errStr, nil
		}
		slog.Error("Command failed", "container", s.Container, "exit_code", exitErr.ExitCode(), "stderr", errStr)
		return outStr, errStr, &CommandError{
			Kind:     ErrCommandFailed,
			Command:  command,
			Stderr:   errStr,
			ExitCode: exitErr.ExitCode(),
			Elapsed:  elapsed,
		}
	}

	// The process never started (missing binary, permissions).
	slog.Error("Failed to start command", "container", s.Container, "command", name, "error", err)
	return outStr, errStr, &CommandError{
		Kind:     ErrCommandFailed,
		Command:  command,
		ExitCode: -1,
		Elapsed:  elapsed,
		Err:      err,
	}
}
