// Package peersync refreshes persisted peer state from the daemons and
// forwards it to the central collector.
package peersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/sweeper"
	"github.com/EternisAI/tunnel-manager/internal/view"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
)

// Report is the per-protocol status payload sent to the collector.
type Report struct {
	Protocol   string        `json:"protocol"`
	ReportedAt time.Time     `json:"reported_at"`
	Totals     wgdump.Totals `json:"totals"`
	Peers      []view.Peer   `json:"peers"`
}

type Reporter interface {
	ReportPeers(ctx context.Context, report Report) error
}

type Syncer struct {
	store    store.Store
	registry *protocol.Registry
	reporter Reporter
	sweeper  *sweeper.Sweeper
	now      func() time.Time
}

// New builds a Syncer. reporter may be nil when no collector is configured.
func New(st store.Store, registry *protocol.Registry, reporter Reporter, sw *sweeper.Sweeper) *Syncer {
	return &Syncer{store: st, registry: registry, reporter: reporter, sweeper: sw, now: time.Now}
}

// Sync runs one pass over every adapter and returns the number of reports
// sent. Adapter failures are joined into the returned error without
// stopping the remaining adapters.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	var errs []error
	sent := 0
	for _, adapter := range s.registry.All() {
		ok, err := s.syncProtocol(ctx, adapter)
		if err != nil {
			slog.Error("Failed to sync peers", "protocol", adapter.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", adapter.Name(), err))
			continue
		}
		if ok {
			sent++
		}
	}

	if s.sweeper != nil && ctx.Err() == nil {
		s.sweeper.Run(ctx)
	}
	return sent, errors.Join(errs...)
}

func (s *Syncer) syncProtocol(ctx context.Context, adapter protocol.Adapter) (bool, error) {
	protocolID, err := adapter.ProtocolID(ctx, s.store)
	if err != nil {
		return false, err
	}
	live, err := adapter.LiveState(ctx)
	if err != nil {
		return false, err
	}
	peers, err := s.store.ListPeersByProtocol(ctx, protocolID)
	if err != nil {
		return false, err
	}

	updated := 0
	views := make([]view.Peer, 0, len(peers))
	for _, peer := range peers {
		if state, ok := live[peer.PublicKey]; ok && state.Endpoint != nil {
			if peer.Endpoint == nil || *peer.Endpoint != *state.Endpoint {
				if err := s.store.UpdatePeerEndpoint(ctx, peer.ID, *state.Endpoint); err != nil {
					return false, err
				}
				peer.Endpoint = state.Endpoint
				updated++
			}
		}
		views = append(views, view.FormatPeer(ctx, peer, live, nil))
	}
	if updated > 0 {
		slog.Debug("Peer endpoints updated", "protocol", adapter.Name(), "count", updated)
	}

	if s.reporter == nil {
		return false, nil
	}
	report := Report{
		Protocol:   adapter.Name(),
		ReportedAt: s.now().UTC(),
		Totals:     wgdump.Summarize(live),
		Peers:      views,
	}
	if err := s.reporter.ReportPeers(ctx, report); err != nil {
		return false, fmt.Errorf("report peers: %w", err)
	}
	return true, nil
}
