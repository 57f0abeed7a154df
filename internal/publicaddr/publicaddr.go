// Package publicaddr determines the host name written into client configs
// as the server endpoint.
package publicaddr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const DefaultTimeout = 3 * time.Second

var DefaultServers = []string{"stun.l.google.com:19302", "stun.cloudflare.com:3478"}

// Resolve returns configured when it is set. Otherwise the public IPv4 of
// this host is discovered by asking the STUN servers in order; the first
// answer wins.
func Resolve(ctx context.Context, configured string, servers []string, timeout time.Duration) (string, error) {
	if host := strings.TrimSpace(configured); host != "" {
		return host, nil
	}
	if len(servers) == 0 {
		servers = DefaultServers
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var errs []error
	for _, server := range servers {
		mapped, err := probe(ctx, server, timeout)
		if err != nil {
			slog.Debug("STUN probe failed", "server", server, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		host, _, err := net.SplitHostPort(mapped)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("Discovered public address", "host", host, "server", server)
		return host, nil
	}
	return "", fmt.Errorf("failed to discover public address: %w", errors.Join(errs...))
}

func stunURI(server string) string {
	uri := strings.TrimSpace(server)
	if !strings.HasPrefix(uri, "stun:") {
		uri = "stun:" + uri
	}
	return uri
}

func probe(ctx context.Context, server string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(server) == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	uri, err := stun.ParseURI(stunURI(server))
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
