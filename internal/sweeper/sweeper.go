// Package sweeper removes peers of clients whose expiry has passed.
package sweeper

import (
	"context"
	"log/slog"

	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/store"
)

type Sweeper struct {
	store    store.Store
	registry *protocol.Registry
}

func New(st store.Store, registry *protocol.Registry) *Sweeper {
	return &Sweeper{store: st, registry: registry}
}

// Run asks every adapter to clean up its expired clients and returns the
// number of peers removed. A failing adapter is logged and contributes
// nothing; the others still run.
func (s *Sweeper) Run(ctx context.Context) int {
	total := 0
	for _, adapter := range s.registry.All() {
		if ctx.Err() != nil {
			break
		}
		count, err := adapter.CleanupExpiredClients(ctx, s.store)
		if err != nil {
			slog.Error("Failed to clean up expired clients", "protocol", adapter.Name(), "error", err)
			continue
		}
		total += count
	}
	slog.Debug("Expiration sweep finished", "removed", total)
	return total
}
