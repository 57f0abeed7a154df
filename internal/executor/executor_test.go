package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestShellRun_CapturesStreams(t *testing.T) {
	sh := NewHostShell()

	stdout, stderr, err := sh.Run(context.Background(), "echo hello; echo warn 1>&2", time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, "hello", stdout)
	assert.Equal(t, "warn", stderr)
}

func TestShellRun_NonZeroExit(t *testing.T) {
	sh := NewHostShell()

	_, _, err := sh.Run(context.Background(), "echo boom 1>&2; exit 3", time.Second, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.NotErrorIs(t, err, ErrTimeout)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "boom", cmdErr.Stderr)
	assert.Equal(t, "command failed: boom", err.Error())
}

func TestShellRun_NonZeroExitEmptyStderr(t *testing.T) {
	sh := NewHostShell()

	_, _, err := sh.Run(context.Background(), "exit 1", time.Second, true)
	require.Error(t, err)
	assert.Equal(t, "command failed: Unknown error", err.Error())
}

func TestShellRun_NonZeroExitUnchecked(t *testing.T) {
	sh := NewHostShell()

	stdout, _, err := sh.Run(context.Background(), "echo partial; exit 1", time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, "partial", stdout)
}

func TestShellRun_Timeout(t *testing.T) {
	sh := NewHostShell()

	start := time.Now()
	_, _, err := sh.Run(context.Background(), "sleep 5", 100*time.Millisecond, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "sleep 5")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShellRun_TimeoutKillsChildren(t *testing.T) {
	sh := NewHostShell()

	start := time.Now()
	_, _, err := sh.Run(context.Background(), "sleep 5 & sleep 5; wait", 100*time.Millisecond, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShellRun_CallerCancellation(t *testing.T) {
	sh := NewHostShell()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, _, err := sh.Run(ctx, "sleep 5", 10*time.Second, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestShellRun_MissingBinary(t *testing.T) {
	sh := &Shell{Container: "anything", Docker: "/nonexistent/docker-binary"}

	_, _, err := sh.Run(context.Background(), "true", time.Second, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestShellArgv(t *testing.T) {
	name, args := NewContainerShell("amnezia-awg").argv("wg show wg0 dump")
	assert.Equal(t, "docker", name)
	assert.Equal(t, []string{"exec", "amnezia-awg", "sh", "-c", "wg show wg0 dump"}, args)

	name, args = NewHostShell().argv("true")
	assert.Equal(t, "sh", name)
	assert.Equal(t, []string{"-c", "true"}, args)
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, command string, timeout time.Duration, check bool) (string, string, error) {
	args := m.Called(command, check)
	return args.String(0), args.String(1), args.Error(2)
}

func TestHost_RunningContainers(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", "docker ps --format '{{.Names}}'", false).
		Return("amnezia-awg\n\n postgres \n", "", nil)

	host := NewHost(runner)
	containers := host.RunningContainers(context.Background())

	assert.Len(t, containers, 2)
	assert.True(t, host.IsContainerRunning(context.Background(), "amnezia-awg"))
	assert.False(t, host.IsContainerRunning(context.Background(), ""))
	runner.AssertExpectations(t)
}

func TestHost_RunningContainersFailure(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, false).Return("", "", &CommandError{Kind: ErrTimeout})

	host := NewHost(runner)
	assert.Empty(t, host.RunningContainers(context.Background()))
}

func TestHost_ContainerPort(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", "docker port 'amnezia-awg' | grep 'udp' | head -1 | cut -d ':' -f 2", false).
		Return("51820", "", nil).Once()

	host := NewHost(runner)
	assert.Equal(t, 51820, host.ContainerPort(context.Background(), "amnezia-awg", "udp"))

	runner.On("Run", mock.Anything, false).Return("", "", nil).Once()
	assert.Equal(t, 0, host.ContainerPort(context.Background(), "amnezia-awg", "udp"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, ShellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))
}
