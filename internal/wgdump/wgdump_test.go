package wgdump

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interfaceLine = "cHJpdmF0ZQ==\tc2VydmVy\t51820\toff"

func dumpOf(lines ...string) string {
	return strings.Join(append([]string{interfaceLine}, lines...), "\n")
}

func peerLine(key, endpoint, allowed, handshake, rx, tx, keepalive string) string {
	return strings.Join([]string{key, "(none)", endpoint, allowed, handshake, rx, tx, keepalive}, "\t")
}

func TestParse_Empty(t *testing.T) {
	now := time.Now()
	assert.Empty(t, Parse("", now, 180*time.Second))
	assert.Empty(t, Parse("   \n", now, 180*time.Second))
	assert.Empty(t, Parse(interfaceLine, now, 180*time.Second))
}

func TestParse_FullLine(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	dump := dumpOf(peerLine("keyA", "203.0.113.5:51000", "10.8.1.2/32, fd00::2/128", fmt.Sprint(now.Unix()-10), "100", "50", "25"))

	peers := Parse(dump, now, 180*time.Second)
	require.Len(t, peers, 1)

	peer := peers["keyA"]
	require.NotNil(t, peer.Endpoint)
	assert.Equal(t, "203.0.113.5:51000", *peer.Endpoint)
	assert.Equal(t, []string{"10.8.1.2/32", "fd00::2/128"}, peer.AllowedIPs)
	require.NotNil(t, peer.LastHandshake)
	assert.Equal(t, now.Add(-10*time.Second).Unix(), peer.LastHandshake.Unix())
	assert.Equal(t, int64(100), peer.RxBytes)
	assert.Equal(t, int64(50), peer.TxBytes)
	assert.Equal(t, 25, peer.PersistentKeepalive)
	assert.True(t, peer.Online)
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	now := time.Now()
	sevenFields := strings.Join([]string{"short", "(none)", "(none)", "10.8.1.3/32", "0", "0", "0"}, "\t")
	badCounter := peerLine("badRx", "(none)", "10.8.1.4/32", "0", "many", "0", "off")
	good := peerLine("good", "(none)", "10.8.1.5/32", "0", "0", "0", "off")

	peers := Parse(dumpOf(sevenFields, badCounter, good, ""), now, 180*time.Second)
	require.Len(t, peers, 1)
	assert.Contains(t, peers, "good")
}

func TestParse_ShortLineLoggedAtDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(previous) })

	peers := Parse(dumpOf("short\tline"), time.Now(), 3*time.Minute)
	assert.Empty(t, peers)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "Skipping malformed dump line")
}

func TestParse_Sentinels(t *testing.T) {
	now := time.Now()
	dump := dumpOf(peerLine("idle", "(none)", "(none)", "0", "0", "0", "off"))

	peer := Parse(dump, now, 180*time.Second)["idle"]
	assert.Nil(t, peer.Endpoint)
	assert.Nil(t, peer.LastHandshake)
	assert.False(t, peer.Online)
	assert.Equal(t, 0, peer.PersistentKeepalive)
	assert.Empty(t, peer.AllowedIPs)
}

func TestParse_OnlineThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	dump := dumpOf(peerLine("recent", "198.51.100.1:4000", "10.8.1.2/32", fmt.Sprint(now.Unix()-10), "1", "1", "off"))

	assert.True(t, Parse(dump, now, 180*time.Second)["recent"].Online)
	assert.False(t, Parse(dump, now, 5*time.Second)["recent"].Online)
	// strictly less than the threshold
	assert.False(t, Parse(dump, now, 10*time.Second)["recent"].Online)
}

func TestParse_HandlesCRLF(t *testing.T) {
	now := time.Now()
	dump := interfaceLine + "\r\n" + peerLine("k", "(none)", "10.8.1.2/32", "0", "7", "8", "off") + "\r\n"

	peers := Parse(dump, now, time.Minute)
	require.Contains(t, peers, "k")
	assert.Equal(t, 0, peers["k"].PersistentKeepalive)
}

func TestSummarize(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	dump := dumpOf(
		peerLine("A", "203.0.113.5:51000", "10.8.1.2/32", fmt.Sprint(now.Unix()-30), "100", "50", "25"),
		peerLine("B", "(none)", "10.8.1.3/32", "0", "0", "0", "off"),
	)

	totals := Summarize(Parse(dump, now, 180*time.Second))
	assert.Equal(t, Totals{RxBytes: 100, TxBytes: 50, TotalPeers: 2, OnlinePeers: 1}, totals)
}

func TestFilterOnline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	dump := dumpOf(
		peerLine("A", "203.0.113.5:51000", "10.8.1.2/32", fmt.Sprint(now.Unix()-30), "1", "1", "off"),
		peerLine("B", "(none)", "10.8.1.3/32", "0", "0", "0", "off"),
	)
	peers := Parse(dump, now, 180*time.Second)

	online := FilterOnline(peers, true)
	offline := FilterOnline(peers, false)
	assert.Len(t, online, 1)
	assert.Contains(t, online, "A")
	assert.Len(t, offline, 1)
	assert.Contains(t, offline, "B")
}
