package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	hostQueryTimeout = 1500 * time.Millisecond
	restartTimeout   = 10 * time.Second
)

// Host wraps a host-side Runner with the docker queries used for server
// status reporting.
type Host struct {
	runner Runner
}

func NewHost(runner Runner) *Host {
	return &Host{runner: runner}
}

// RunningContainers returns the names of running containers. Failures are
// logged and reported as an empty set.
func (h *Host) RunningContainers(ctx context.Context) map[string]struct{} {
	stdout, _, err := h.runner.Run(ctx, "docker ps --format '{{.Names}}'", hostQueryTimeout, false)
	if err != nil {
		slog.Warn("Failed to list Docker containers", "error", err)
		return map[string]struct{}{}
	}

	containers := make(map[string]struct{})
	for _, line := range strings.Split(stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			containers[name] = struct{}{}
		}
	}
	slog.Debug("Found running containers", "count", len(containers))
	return containers
}

func (h *Host) IsContainerRunning(ctx context.Context, container string) bool {
	if container == "" {
		return false
	}
	_, ok := h.RunningContainers(ctx)[container]
	return ok
}

// ContainerPort returns the first host port published by container for the
// given transport ("udp" or "tcp"), or 0 when none is published.
func (h *Host) ContainerPort(ctx context.Context, container, transport string) int {
	cmd := fmt.Sprintf("docker port %s | grep '%s' | head -1 | cut -d ':' -f 2", shellQuote(container), transport)
	stdout, _, err := h.runner.Run(ctx, cmd, hostQueryTimeout, false)
	if err != nil {
		slog.Warn("Failed to get container port", "container", container, "error", err)
		return 0
	}
	if stdout == "" {
		return 0
	}
	port, err := strconv.Atoi(strings.TrimSpace(stdout))
	if err != nil {
		slog.Warn("Unexpected docker port output", "container", container, "output", stdout)
		return 0
	}
	return port
}

func (h *Host) RestartContainer(ctx context.Context, container string) error {
	_, _, err := h.runner.Run(ctx, "docker restart "+shellQuote(container), restartTimeout, true)
	return err
}

// shellQuote single-quotes s for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellQuote is exported for packages composing commands for a Runner.
func ShellQuote(s string) string {
	return shellQuote(s)
}
