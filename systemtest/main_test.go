package systemtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/tunnel-manager/internal/db"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/store/storetest"
	"github.com/EternisAI/tunnel-manager/systemtest/postgres"
)

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("system tests need docker")
	}
	ctx := context.Background()

	container, err := postgres.StartPostgres(ctx, "tunnel", "tunnel", "tunnel_manager")
	require.NoError(t, err)
	t.Cleanup(func() { _ = postgres.TerminatePostgres(context.Background(), container) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	cfg := db.Config{Url: url, Schema: "tunnel_manager"}

	require.NoError(t, db.RunMigrations(ctx, cfg))
	// a second run is a no-op
	require.NoError(t, db.RunMigrations(ctx, cfg))

	pool, err := db.InitDB(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	t.Run("Migrations", func(t *testing.T) {
		states, err := db.MigrationStatus(ctx, cfg)
		require.NoError(t, err)
		require.NotEmpty(t, states)
		for _, s := range states {
			assert.True(t, s.Applied, s.Path)
		}

		p, err := store.NewPostgres(pool).GetProtocolByName(ctx, "amneziawg")
		require.NoError(t, err)
		assert.Equal(t, "amneziawg", p.Name)
	})

	t.Run("PostgresStore", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T) store.Store {
			require.NoError(t, postgres.Truncate(ctx, pool))
			return store.NewPostgres(pool)
		})
	})

	t.Run("ExpiryComparesInstants", func(t *testing.T) {
		require.NoError(t, postgres.Truncate(ctx, pool))
		s := store.NewPostgres(pool)
		p, err := s.EnsureProtocol(ctx, "amneziawg")
		require.NoError(t, err)

		zone := time.FixedZone("UTC+5", 5*3600)
		c, err := s.CreateClient(ctx, "zoned", time.Now().In(zone).Add(-time.Minute))
		require.NoError(t, err)
		_, err = s.CreatePeer(ctx, store.NewPeer{
			ClientID: c.ID, ProtocolID: p.ID, AppType: store.AppTypeAmneziaWG,
			PublicKey: "zoned-key", Address: "10.8.1.2/32",
		})
		require.NoError(t, err)

		expired, err := s.ListExpiredClients(ctx, p.ID, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "zoned", expired[0].Username)
	})
}
