package wgconf

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverConf = `[Interface]
PrivateKey = c2VydmVyLXByaXZhdGU=
Address = 10.8.1.1/24
ListenPort = 51820
Jc = 4
Jmin = 10
Jmax = 50
S1 = 57
S2 = 88
H1 = 1
H2 = 2
H3 = 3
H4 = 4
# PostUp kept as-is
PostUp = iptables -A FORWARD -i wg0 -j ACCEPT

[Peer]
# alice
PublicKey = alice=
PresharedKey = psk=
AllowedIPs = 10.8.1.2/32

[Peer]
PublicKey = bob=
AllowedIPs = 10.8.1.4/32
`

func TestParse_RoundTrip(t *testing.T) {
	f := Parse(serverConf)
	assert.Equal(t, serverConf, f.String())
	assert.Len(t, f.Peers(), 2)

	iface, err := f.Interface()
	require.NoError(t, err)
	port, ok := iface.Get("listenport")
	require.True(t, ok)
	assert.Equal(t, "51820", port)
}

func TestParse_NoInterface(t *testing.T) {
	f := Parse("[Peer]\nPublicKey = x\n")
	_, err := f.Interface()
	assert.ErrorIs(t, err, ErrNoInterface)

	_, err = f.AllocateAddress()
	assert.ErrorIs(t, err, ErrNoInterface)
}

func TestAddAndRemovePeer(t *testing.T) {
	f := Parse(serverConf)
	f.AddPeer(Peer{
		Comment:      "carol",
		PublicKey:    "carol=",
		PresharedKey: "psk=",
		AllowedIPs:   []string{"10.8.1.3/32"},
	})
	assert.True(t, f.HasPeer("carol="))
	assert.Contains(t, f.String(), "[Peer]\n# carol\nPublicKey = carol=\nPresharedKey = psk=\nAllowedIPs = 10.8.1.3/32\n")

	assert.True(t, f.RemovePeer("alice="))
	assert.False(t, f.HasPeer("alice="))
	assert.False(t, f.RemovePeer("alice="))
	assert.Len(t, f.Peers(), 2)

	reparsed := Parse(f.String())
	assert.True(t, reparsed.HasPeer("bob="))
	assert.True(t, reparsed.HasPeer("carol="))
	assert.Contains(t, reparsed.String(), "PostUp = iptables -A FORWARD -i wg0 -j ACCEPT")
}

func TestAddPeer_CommentStaysOnOneLine(t *testing.T) {
	f := Parse(serverConf)
	f.AddPeer(Peer{
		Comment:    "mallory\n[Peer]\nPublicKey = ROGUEKEY\r\nAllowedIPs = 0.0.0.0/0 amnezia_wg",
		PublicKey:  "mallory=",
		AllowedIPs: []string{"10.8.1.3/32"},
	})

	reparsed := Parse(f.String())
	assert.Len(t, reparsed.Peers(), 3)
	assert.False(t, reparsed.HasPeer("ROGUEKEY"))
	assert.True(t, reparsed.HasPeer("mallory="))
	assert.Contains(t, f.String(), "# mallory [Peer] PublicKey = ROGUEKEY  AllowedIPs = 0.0.0.0/0 amnezia_wg\nPublicKey = mallory=\n")
}

func TestAllocateAddress_LowestFree(t *testing.T) {
	f := Parse(serverConf)
	addr, err := f.AllocateAddress()
	require.NoError(t, err)
	assert.Equal(t, "10.8.1.3/32", addr.String())

	f.AddPeer(Peer{PublicKey: "c=", AllowedIPs: []string{addr.String()}})
	addr, err = f.AllocateAddress()
	require.NoError(t, err)
	assert.Equal(t, "10.8.1.5/32", addr.String())
}

func TestAllocateAddress_NetworkStyleInterfaceAddress(t *testing.T) {
	f := Parse("[Interface]\nAddress = 10.9.0.0/24\n")
	addr, err := f.AllocateAddress()
	require.NoError(t, err)
	assert.Equal(t, "10.9.0.2/32", addr.String())
}

func TestAllocateAddress_Exhausted(t *testing.T) {
	// /29: .0 network, .1 server, .2-.6 hosts, .7 broadcast
	f := Parse("[Interface]\nAddress = 10.8.2.1/29, fd00::1/64\n")
	for i := 2; i <= 6; i++ {
		addr, err := f.AllocateAddress()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("10.8.2.%d/32", i), addr.String())
		f.AddPeer(Peer{PublicKey: fmt.Sprintf("k%d", i), AllowedIPs: []string{addr.String()}})
	}

	_, err := f.AllocateAddress()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPoolExhausted))
}

func TestLastAddr(t *testing.T) {
	assert.Equal(t, "10.8.1.255", lastAddr(netip.MustParsePrefix("10.8.1.0/24")).String())
	assert.Equal(t, "10.8.255.255", lastAddr(netip.MustParsePrefix("10.8.0.0/16")).String())
	assert.Equal(t, "10.8.2.7", lastAddr(netip.MustParsePrefix("10.8.2.0/29")).String())
}

func TestObfuscation(t *testing.T) {
	params := Parse(serverConf).Obfuscation()
	require.Len(t, params, 9)
	assert.Equal(t, Line{Key: "Jc", Value: "4"}, params[0])
	assert.Equal(t, Line{Key: "H4", Value: "4"}, params[8])

	assert.Empty(t, Parse("[Interface]\nAddress = 10.0.0.1/24\n").Obfuscation())
}

func testClient() ClientConfig {
	return ClientConfig{
		Name:                "alice",
		PrivateKey:          "cHJpdg==",
		PublicKey:           "cHVi",
		Address:             "10.8.1.3/32",
		DNS:                 []string{"1.1.1.1", "1.0.0.1"},
		ServerPublicKey:     "c2VydmVy",
		PresharedKey:        "cHNr",
		Host:                "vpn.example.com",
		Port:                51820,
		PersistentKeepalive: 25,
		Obfuscation:         []Line{{Key: "Jc", Value: "4"}},
	}
}

func TestRenderClient(t *testing.T) {
	text, err := RenderClient(testClient())
	require.NoError(t, err)

	expected := strings.Join([]string{
		"[Interface]",
		"PrivateKey = cHJpdg==",
		"Address = 10.8.1.3/32",
		"DNS = 1.1.1.1, 1.0.0.1",
		"Jc = 4",
		"",
		"[Peer]",
		"PublicKey = c2VydmVy",
		"PresharedKey = cHNr",
		"AllowedIPs = 0.0.0.0/0, ::/0",
		"Endpoint = vpn.example.com:51820",
		"PersistentKeepalive = 25",
		"",
	}, "\n")
	assert.Equal(t, expected, text)
}

func TestRenderClient_Validation(t *testing.T) {
	c := testClient()
	c.Host = ""
	_, err := RenderClient(c)
	assert.Error(t, err)
}

func TestRenderShare(t *testing.T) {
	share, err := RenderShare(testClient(), "amnezia-awg", "awg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(share, "vpn://"))

	payload, err := DecodeShare(share)
	require.NoError(t, err)

	var doc struct {
		DefaultContainer string `json:"defaultContainer"`
		HostName         string `json:"hostName"`
		DNS1             string `json:"dns1"`
		Containers       []struct {
			Container string            `json:"container"`
			AWG       map[string]string `json:"awg"`
		} `json:"containers"`
	}
	require.NoError(t, json.Unmarshal(payload, &doc))
	assert.Equal(t, "amnezia-awg", doc.DefaultContainer)
	assert.Equal(t, "vpn.example.com", doc.HostName)
	assert.Equal(t, "1.1.1.1", doc.DNS1)
	require.Len(t, doc.Containers, 1)
	assert.Equal(t, "51820", doc.Containers[0].AWG["port"])
	assert.Equal(t, "4", doc.Containers[0].AWG["Jc"])

	var last map[string]string
	require.NoError(t, json.Unmarshal([]byte(doc.Containers[0].AWG["last_config"]), &last))
	assert.Equal(t, "10.8.1.3", last["client_ip"])
	assert.Contains(t, last["config"], "Endpoint = vpn.example.com:51820")
}

func TestDecodeShare_Invalid(t *testing.T) {
	_, err := DecodeShare("https://example.com")
	assert.Error(t, err)
	_, err = DecodeShare("vpn://AA")
	assert.Error(t, err)
}
