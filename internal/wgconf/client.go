package wgconf

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultClientAllowedIPs = "0.0.0.0/0, ::/0"
	sharePrefix             = "vpn://"
)

// ClientConfig is everything needed to render a client-side config.
type ClientConfig struct {
	Name                string
	PrivateKey          string
	PublicKey           string
	Address             string
	DNS                 []string
	ServerPublicKey     string
	PresharedKey        string
	Host                string
	Port                int
	AllowedIPs          string
	PersistentKeepalive int
	Obfuscation         []Line
}

func (c ClientConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ClientConfig) validate() error {
	switch {
	case c.PrivateKey == "":
		return fmt.Errorf("client private key is required")
	case c.Address == "":
		return fmt.Errorf("client address is required")
	case c.ServerPublicKey == "":
		return fmt.Errorf("server public key is required")
	case c.Host == "" || c.Port <= 0:
		return fmt.Errorf("server endpoint is required")
	}
	return nil
}

// RenderClient renders a native client config for the daemon's own tools.
func RenderClient(c ClientConfig) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", c.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", c.Address)
	if len(c.DNS) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(c.DNS, ", "))
	}
	for _, param := range c.Obfuscation {
		fmt.Fprintf(&b, "%s = %s\n", param.Key, param.Value)
	}

	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", c.ServerPublicKey)
	if c.PresharedKey != "" {
		fmt.Fprintf(&b, "PresharedKey = %s\n", c.PresharedKey)
	}
	allowed := c.AllowedIPs
	if allowed == "" {
		allowed = defaultClientAllowedIPs
	}
	fmt.Fprintf(&b, "AllowedIPs = %s\n", allowed)
	fmt.Fprintf(&b, "Endpoint = %s\n", c.Endpoint())
	if c.PersistentKeepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", c.PersistentKeepalive)
	}

	return b.String(), nil
}

// RenderShare renders the AmneziaVPN import string: "vpn://" followed by
// base64url of a 4-byte big-endian length and the zlib-compressed JSON.
// containerName and protoKey identify the app's container profile, e.g.
// "amnezia-awg" and "awg".
func RenderShare(c ClientConfig, containerName, protoKey string) (string, error) {
	native, err := RenderClient(c)
	if err != nil {
		return "", err
	}

	last := map[string]string{
		"client_ip":       strings.Split(c.Address, "/")[0],
		"client_priv_key": c.PrivateKey,
		"client_pub_key":  c.PublicKey,
		"config":          native,
		"hostName":        c.Host,
		"port":            strconv.Itoa(c.Port),
		"psk_key":         c.PresharedKey,
		"server_pub_key":  c.ServerPublicKey,
	}
	proto := map[string]string{
		"port":            strconv.Itoa(c.Port),
		"transport_proto": "udp",
	}
	for _, param := range c.Obfuscation {
		last[param.Key] = param.Value
		proto[param.Key] = param.Value
	}
	lastJSON, err := json.Marshal(last)
	if err != nil {
		return "", fmt.Errorf("failed to marshal last config: %w", err)
	}

	protoBlock := make(map[string]any, len(proto)+1)
	for k, v := range proto {
		protoBlock[k] = v
	}
	protoBlock["last_config"] = string(lastJSON)

	dns := append(append([]string{}, c.DNS...), "", "")
	doc := map[string]any{
		"containers": []map[string]any{{
			"container": containerName,
			protoKey:    protoBlock,
		}},
		"defaultContainer": containerName,
		"description":      c.Name,
		"dns1":             dns[0],
		"dns2":             dns[1],
		"hostName":         c.Host,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal share document: %w", err)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(payload))); err != nil {
		return "", err
	}
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return "", fmt.Errorf("failed to compress share document: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress share document: %w", err)
	}

	return sharePrefix + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeShare reverses RenderShare and returns the JSON document.
func DecodeShare(share string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(share, sharePrefix)
	if !ok {
		return nil, fmt.Errorf("share string must start with %s", sharePrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid share encoding: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("share string too short")
	}
	size := binary.BigEndian.Uint32(raw[:4])

	zr, err := zlib.NewReader(bytes.NewReader(raw[4:]))
	if err != nil {
		return nil, fmt.Errorf("invalid share payload: %w", err)
	}
	defer zr.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, fmt.Errorf("invalid share payload: %w", err)
	}
	if uint32(out.Len()) != size {
		return nil, fmt.Errorf("share length mismatch: header %d, payload %d", size, out.Len())
	}
	return out.Bytes(), nil
}
