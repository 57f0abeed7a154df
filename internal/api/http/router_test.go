package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/tunnel-manager/internal/api/http/dto"
	"github.com/EternisAI/tunnel-manager/internal/auth"
	"github.com/EternisAI/tunnel-manager/internal/executor"
	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/protocol/protocoltest"
	"github.com/EternisAI/tunnel-manager/internal/reconcile"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
)

const (
	testAPIKey = "admin-key"
	testSecret = "jwt-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSweeper struct{ removed int }

func (s stubSweeper) Run(context.Context) int { return s.removed }

type stubSyncer struct {
	reported int
	err      error
}

func (s stubSyncer) Sync(context.Context) (int, error) { return s.reported, s.err }

type harness struct {
	engine  *gin.Engine
	store   *store.Memory
	adapter *protocoltest.Adapter
	pid     uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	p, err := st.EnsureProtocol(context.Background(), "amneziawg")
	require.NoError(t, err)

	adapter := protocoltest.New("amneziawg")
	adapter.On("ProtocolID", mock.Anything, mock.Anything).Return(p.ID, nil).Maybe()
	registry, err := protocol.NewRegistry(adapter)
	require.NoError(t, err)

	config := Config{AdminAPIKey: testAPIKey, JWTSecret: testSecret, TokenTTL: time.Hour}
	engine := gin.New()
	SetupRoute(engine, config, &Services{
		Reconcile:       reconcile.NewService(st, registry, nil, reconcile.Config{}),
		Auth:            auth.NewService(testAPIKey, auth.JWTConfig{Secret: testSecret, TokenTTL: time.Hour}),
		Sweeper:         stubSweeper{removed: 3},
		Syncer:          stubSyncer{reported: 1, err: errors.New("wireguard: container stopped")},
		DefaultProtocol: "amneziawg",
	})
	return &harness{engine: engine, store: st, adapter: adapter, pid: p.ID}
}

func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := nethttp.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		headers = map[string]string{"X-API-Key": testAPIKey}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do("GET", "/health", nil, map[string]string{})
	assert.Equal(t, nethttp.StatusOK, w.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"amneziawg"}, resp.Protocols)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)

	w := h.do("GET", "/api/v1/peers", nil, map[string]string{})
	assert.Equal(t, nethttp.StatusUnauthorized, w.Code)

	w = h.do("GET", "/api/v1/peers", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, nethttp.StatusUnauthorized, w.Code)

	w = h.do("POST", "/api/v1/auth/token", nil, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	var token dto.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))
	require.NotEmpty(t, token.Token)

	h.adapter.On("LiveState", mock.Anything).Return(map[string]wgdump.PeerState{}, nil)
	w = h.do("GET", "/api/v1/peers", nil, map[string]string{"Authorization": "Bearer " + token.Token})
	assert.Equal(t, nethttp.StatusOK, w.Code)

	w = h.do("GET", "/api/v1/peers", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, nethttp.StatusUnauthorized, w.Code)
}

func TestCreateAndGetClient(t *testing.T) {
	h := newHarness(t)
	h.adapter.On("CreatePeer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, st store.Store, client store.Client, appType store.AppType) (*protocol.CreatedPeer, error) {
			peer, err := st.CreatePeer(ctx, store.NewPeer{
				ClientID: client.ID, ProtocolID: h.pid, AppType: appType,
				PublicKey: string(appType) + "-key", Address: "10.8.1.2/32",
			})
			if err != nil {
				return nil, err
			}
			return &protocol.CreatedPeer{Peer: peer, Config: "[Interface]"}, nil
		})
	h.adapter.On("LiveState", mock.Anything).Return(map[string]wgdump.PeerState{}, nil)

	w := h.do("POST", "/api/v1/clients", dto.CreateClientRequest{Username: "alice"}, nil)
	require.Equal(t, nethttp.StatusCreated, w.Code, w.Body.String())
	var created dto.CreateClientResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Configs, 2)

	w = h.do("GET", "/api/v1/clients/"+created.ID.String(), nil, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	var client dto.ClientResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &client))
	assert.Equal(t, "alice", client.Username)
	assert.Len(t, client.Peers, 2)

	w = h.do("GET", "/api/v1/peers/client/"+created.ID.String(), nil, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	var peers dto.ListPeersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &peers))
	assert.Equal(t, 2, peers.Count)
}

func TestClientErrors(t *testing.T) {
	h := newHarness(t)

	w := h.do("GET", "/api/v1/clients/not-a-uuid", nil, nil)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)

	w = h.do("GET", "/api/v1/clients/"+uuid.NewString(), nil, nil)
	assert.Equal(t, nethttp.StatusNotFound, w.Code)

	w = h.do("GET", "/api/v1/clients/"+uuid.NewString()+"?protocol=openvpn", nil, nil)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)

	w = h.do("POST", "/api/v1/clients", map[string]string{}, nil)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)

	w = h.do("GET", "/api/v1/clients?expires_before=yesterday", nil, nil)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestUpdateClient(t *testing.T) {
	h := newHarness(t)
	client, err := h.store.CreateClient(context.Background(), "bob", time.Now())
	require.NoError(t, err)

	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	w := h.do("PATCH", "/api/v1/clients/"+client.ID.String(), dto.UpdateClientRequest{ExpiresAt: &expiry}, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	var resp dto.UpdateClientResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, expiry.Equal(resp.ExpiresAt))
}

func TestCreatePeer_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", store.ErrConflict, nethttp.StatusConflict},
		{"exhausted", protocol.ErrAllocationExhausted, nethttp.StatusInternalServerError},
		{"timeout", &executor.CommandError{Kind: executor.ErrTimeout}, nethttp.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.store.CreateClient(context.Background(), "carol", time.Now().Add(time.Hour))
			require.NoError(t, err)
			h.adapter.On("CreatePeer", mock.Anything, mock.Anything, mock.Anything, store.AppTypeAmneziaWG).Return(nil, tc.err)

			w := h.do("POST", "/api/v1/peers", dto.CreatePeerRequest{Username: "carol", AppType: "amnezia_wg"}, nil)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestCreatePeer_Validation(t *testing.T) {
	h := newHarness(t)
	w := h.do("POST", "/api/v1/peers", dto.CreatePeerRequest{Username: "dave", AppType: "openvpn"}, nil)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)

	w = h.do("POST", "/api/v1/peers", dto.CreatePeerRequest{AppType: "amnezia_wg"}, nil)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestDeletePeer_NotFound(t *testing.T) {
	h := newHarness(t)
	w := h.do("DELETE", "/api/v1/peers/"+uuid.NewString(), nil, nil)
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
}

func TestServerEndpoints(t *testing.T) {
	h := newHarness(t)
	h.adapter.On("LiveState", mock.Anything).Return(map[string]wgdump.PeerState{
		"a": {RxBytes: 100, TxBytes: 50, Online: true},
		"b": {},
	}, nil)
	h.adapter.On("ServerStatus", mock.Anything).Return(protocol.ServerStatus{Protocol: "amneziawg", Running: true, Port: 51820}, nil)
	h.adapter.On("RestartServer", mock.Anything).Return(nil)

	w := h.do("GET", "/api/v1/server/traffic", nil, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	var traffic dto.TrafficResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &traffic))
	assert.Equal(t, wgdump.Totals{RxBytes: 100, TxBytes: 50, TotalPeers: 2, OnlinePeers: 1}, traffic.Totals)

	w = h.do("GET", "/api/v1/server/status", nil, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":true`)

	w = h.do("POST", "/api/v1/server/restart", nil, nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do("POST", "/api/v1/admin/cleanup", nil, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":3}`, w.Body.String())

	w = h.do("POST", "/api/v1/admin/sync", nil, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.JSONEq(t, `{"reported":1,"error":"wireguard: container stopped"}`, w.Body.String())
}
