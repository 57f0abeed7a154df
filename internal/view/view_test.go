package view

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
)

type fakePresigner struct {
	failFor string
}

func (f fakePresigner) PresignedGetURL(_ context.Context, name string) (string, error) {
	if f.failFor != "" && strings.HasSuffix(name, f.failFor) {
		return "", errors.New("signing failed")
	}
	return "https://s3.example/" + name, nil
}

func ptr[T any](v T) *T { return &v }

func testClient() store.Client {
	persisted := "198.51.100.1:1000"
	return store.Client{
		ID:        uuid.New(),
		Username:  "alice",
		ExpiresAt: time.Now().Add(time.Hour),
		Peers: []store.Peer{
			{ID: uuid.New(), AppType: store.AppTypeAmneziaVPN, PublicKey: "vpnKey", Endpoint: &persisted},
			{ID: uuid.New(), AppType: store.AppTypeAmneziaWG, PublicKey: "wgKey", Endpoint: &persisted},
		},
	}
}

func TestFormatClientWithPeers_MergesLiveState(t *testing.T) {
	client := testClient()
	handshake := time.Now().Add(-10 * time.Second)
	live := map[string]wgdump.PeerState{
		"vpnKey":  {PublicKey: "vpnKey", Endpoint: ptr("203.0.113.9:5000"), LastHandshake: &handshake, Online: true},
		"strange": {PublicKey: "strange", Online: true},
	}

	v := FormatClientWithPeers(context.Background(), client, "amneziawg", live, fakePresigner{})
	require.Len(t, v.Peers, 2)

	vpn := v.Peers["amnezia_vpn"]
	assert.True(t, vpn.Online)
	require.NotNil(t, vpn.Endpoint)
	assert.Equal(t, "203.0.113.9:5000", *vpn.Endpoint)
	assert.Equal(t, &handshake, vpn.LastHandshake)
	require.NotNil(t, vpn.URL)
	assert.Equal(t, "https://s3.example/configs/amneziawg/"+client.ID.String()+"/amnezia_vpn", *vpn.URL)

	// absent from the dump: offline, null handshake, persisted endpoint
	wg := v.Peers["amnezia_wg"]
	assert.False(t, wg.Online)
	assert.Nil(t, wg.LastHandshake)
	require.NotNil(t, wg.Endpoint)
	assert.Equal(t, "198.51.100.1:1000", *wg.Endpoint)
	assert.Equal(t, "amneziawg", wg.Protocol)
}

func TestFormatClientWithPeers_PresignFailureIsIsolated(t *testing.T) {
	v := FormatClientWithPeers(context.Background(), testClient(), "amneziawg", nil, fakePresigner{failFor: "amnezia_wg"})
	assert.Nil(t, v.Peers["amnezia_wg"].URL)
	assert.NotNil(t, v.Peers["amnezia_vpn"].URL)
}

func TestFormatClientWithPeers_NoPeers(t *testing.T) {
	client := testClient()
	client.Peers = nil
	v := FormatClientWithPeers(context.Background(), client, "amneziawg", nil, nil)
	assert.Empty(t, v.Peers)
	assert.Equal(t, "alice", v.Username)
}

func TestFormatPeer(t *testing.T) {
	detail := store.PeerDetail{
		Peer:     store.Peer{ID: uuid.New(), ClientID: uuid.New(), AppType: store.AppTypeAmneziaWG, PublicKey: "k", Address: "10.8.1.2/32"},
		Protocol: "amneziawg",
		Username: "bob",
	}
	live := map[string]wgdump.PeerState{"k": {PublicKey: "k", RxBytes: 100, TxBytes: 50}}

	p := FormatPeer(context.Background(), detail, live, nil)
	assert.Equal(t, int64(100), p.RxBytes)
	assert.Equal(t, int64(50), p.TxBytes)
	assert.False(t, p.Online)
	assert.Nil(t, p.Endpoint)
	assert.Nil(t, p.URL)
	assert.Equal(t, "bob", p.Username)
}
