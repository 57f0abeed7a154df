// Package wgdump parses the tab-separated output of `wg show <iface> dump`.
package wgdump

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	minPeerFields  = 8
	noEndpoint     = "(none)"
	noHandshake    = "0"
	keepaliveOff   = "off"
	allowedIPsSep  = ","
	fieldSeparator = "\t"
)

// PeerState is the daemon's live view of one peer. It is rebuilt from a fresh
// dump on every call and never persisted.
type PeerState struct {
	PublicKey           string     `json:"public_key"`
	Endpoint            *string    `json:"endpoint"`
	AllowedIPs          []string   `json:"allowed_ips"`
	LastHandshake       *time.Time `json:"last_handshake"`
	RxBytes             int64      `json:"rx_bytes"`
	TxBytes             int64      `json:"tx_bytes"`
	PersistentKeepalive int        `json:"persistent_keepalive"`
	Online              bool       `json:"online"`
}

// Totals aggregates one dump.
type Totals struct {
	RxBytes     int64 `json:"total_rx_bytes"`
	TxBytes     int64 `json:"total_tx_bytes"`
	TotalPeers  int   `json:"total_peers"`
	OnlinePeers int   `json:"online_peers"`
}

// Parse converts a dump into a map keyed by peer public key. The first line
// describes the interface itself and is discarded. Malformed peer lines are
// skipped.
func Parse(dump string, now time.Time, onlineThreshold time.Duration) map[string]PeerState {
	peers := make(map[string]PeerState)

	trimmed := strings.TrimSpace(dump)
	if trimmed == "" {
		return peers
	}

	lines := strings.Split(trimmed, "\n")
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		state, ok := parseLine(line, now, onlineThreshold)
		if !ok {
			continue
		}
		peers[state.PublicKey] = state
	}

	slog.Debug("Parsed dump", "peers", len(peers))
	return peers
}

func parseLine(line string, now time.Time, onlineThreshold time.Duration) (PeerState, bool) {
	parts := strings.Split(line, fieldSeparator)
	if len(parts) < minPeerFields {
		slog.Warn("Skipping malformed dump line", "fields", len(parts), "line", line)
		return PeerState{}, false
	}

	state := PeerState{
		PublicKey:  parts[0],
		AllowedIPs: splitAllowedIPs(parts[3]),
	}

	if endpoint := parts[2]; endpoint != noEndpoint && endpoint != "" {
		state.Endpoint = &endpoint
	}

	if parts[4] != noHandshake {
		epoch, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			slog.Warn("Skipping dump line with invalid handshake", "public_key", parts[0], "value", parts[4])
			return PeerState{}, false
		}
		if epoch > 0 {
			handshake := time.Unix(epoch, 0)
			state.LastHandshake = &handshake
		}
	}

	rx, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		slog.Warn("Skipping dump line with invalid rx counter", "public_key", parts[0], "value", parts[5])
		return PeerState{}, false
	}
	tx, err := strconv.ParseInt(parts[6], 10, 64)
	if err != nil {
		slog.Warn("Skipping dump line with invalid tx counter", "public_key", parts[0], "value", parts[6])
		return PeerState{}, false
	}
	state.RxBytes = rx
	state.TxBytes = tx

	if parts[7] != keepaliveOff {
		keepalive, err := strconv.Atoi(parts[7])
		if err != nil {
			slog.Warn("Skipping dump line with invalid keepalive", "public_key", parts[0], "value", parts[7])
			return PeerState{}, false
		}
		state.PersistentKeepalive = keepalive
	}

	if state.LastHandshake != nil {
		state.Online = now.Sub(*state.LastHandshake) < onlineThreshold
	}

	return state, true
}

func splitAllowedIPs(field string) []string {
	result := []string{}
	for _, ip := range strings.Split(field, allowedIPsSep) {
		if ip = strings.TrimSpace(ip); ip != "" && ip != noEndpoint {
			result = append(result, ip)
		}
	}
	return result
}

// Summarize reduces one parsed dump to traffic totals.
func Summarize(peers map[string]PeerState) Totals {
	var totals Totals
	for _, peer := range peers {
		totals.RxBytes += peer.RxBytes
		totals.TxBytes += peer.TxBytes
		totals.TotalPeers++
		if peer.Online {
			totals.OnlinePeers++
		}
	}
	return totals
}

// FilterOnline returns the subset of peers whose online flag equals online.
func FilterOnline(peers map[string]PeerState, online bool) map[string]PeerState {
	filtered := make(map[string]PeerState)
	for key, peer := range peers {
		if peer.Online == online {
			filtered[key] = peer
		}
	}
	return filtered
}
