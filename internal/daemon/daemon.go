// Package daemon talks to one running WireGuard-family daemon through an
// executor.Runner: config file IO, status dumps and live config sync.
package daemon

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/EternisAI/tunnel-manager/internal/executor"
)

const (
	serverPublicKeyFile = "wireguard_server_public_key.key"
	presharedKeyFile    = "wireguard_psk.key"
)

type Options struct {
	Interface string
	ConfigDir string
	// Tool and QuickTool default to "wg" and "wg-quick". AmneziaWG images
	// ship "awg" and "awg-quick".
	Tool      string
	QuickTool string
	Timeout   time.Duration
}

// Connection is one daemon target. Its embedded mutex serialises
// read-modify-write sequences against the config file.
type Connection struct {
	sync.Mutex

	runner  executor.Runner
	opts    Options
	timeout time.Duration
}

func New(runner executor.Runner, opts Options) *Connection {
	if opts.Tool == "" {
		opts.Tool = "wg"
	}
	if opts.QuickTool == "" {
		opts.QuickTool = "wg-quick"
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = "/opt/amnezia/awg"
	}
	if opts.Interface == "" {
		opts.Interface = "wg0"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = executor.DefaultTimeout
	}
	return &Connection{runner: runner, opts: opts, timeout: timeout}
}

func (c *Connection) Interface() string {
	return c.opts.Interface
}

func (c *Connection) ConfigPath() string {
	return path.Join(c.opts.ConfigDir, c.opts.Interface+".conf")
}

func (c *Connection) run(ctx context.Context, command string) (string, error) {
	stdout, _, err := c.runner.Run(ctx, command, c.timeout, true)
	return stdout, err
}

func (c *Connection) ReadFile(ctx context.Context, file string) (string, error) {
	return c.run(ctx, "cat "+executor.ShellQuote(file))
}

// WriteFile replaces file atomically. Content travels base64 encoded so no
// quoting of the payload is needed.
func (c *Connection) WriteFile(ctx context.Context, file, content string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	tmp := file + ".tmp"
	cmd := fmt.Sprintf("printf '%%s' %s | base64 -d > %s && mv %s %s",
		executor.ShellQuote(encoded),
		executor.ShellQuote(tmp),
		executor.ShellQuote(tmp),
		executor.ShellQuote(file),
	)
	if _, err := c.run(ctx, cmd); err != nil {
		return err
	}
	slog.Debug("File written", "path", file, "bytes", len(content))
	return nil
}

// Dump returns the raw `show <iface> dump` output.
func (c *Connection) Dump(ctx context.Context) (string, error) {
	return c.run(ctx, fmt.Sprintf("%s show %s dump", c.opts.Tool, executor.ShellQuote(c.opts.Interface)))
}

// SyncConfig applies the config file to the running interface without
// disturbing existing sessions.
func (c *Connection) SyncConfig(ctx context.Context) error {
	iface := executor.ShellQuote(c.opts.Interface)
	cmd := fmt.Sprintf("%s syncconf %s <(%s strip %s)", c.opts.Tool, iface, c.opts.QuickTool, executor.ShellQuote(c.ConfigPath()))
	// process substitution needs bash
	if _, err := c.run(ctx, "bash -c "+executor.ShellQuote(cmd)); err != nil {
		return err
	}
	slog.Info("Daemon config synchronized", "interface", c.opts.Interface)
	return nil
}

func (c *Connection) ReadConfig(ctx context.Context) (string, error) {
	return c.ReadFile(ctx, c.ConfigPath())
}

func (c *Connection) WriteConfig(ctx context.Context, content string) error {
	if err := c.WriteFile(ctx, c.ConfigPath(), content); err != nil {
		return err
	}
	slog.Info("Daemon config written", "path", c.ConfigPath())
	return nil
}

func (c *Connection) ServerPublicKey(ctx context.Context) (string, error) {
	return c.ReadFile(ctx, path.Join(c.opts.ConfigDir, serverPublicKeyFile))
}

func (c *Connection) PresharedKey(ctx context.Context) (string, error) {
	return c.ReadFile(ctx, path.Join(c.opts.ConfigDir, presharedKeyFile))
}
