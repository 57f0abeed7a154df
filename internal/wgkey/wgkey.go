// Package wgkey generates Curve25519 key material in the base64 form used by
// WireGuard and AmneziaWG configuration files.
package wgkey

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const keyLen = curve25519.ScalarSize

type KeyPair struct {
	PrivateKey string
	PublicKey  string
}

// GeneratePrivateKey returns a clamped random private key.
func GeneratePrivateKey() ([keyLen]byte, error) {
	var key [keyLen]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
	return key, nil
}

// GenerateKeyPair returns a new private key and its public key.
func GenerateKeyPair() (KeyPair, error) {
	private, err := GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, err
	}
	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	return KeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(private[:]),
		PublicKey:  base64.StdEncoding.EncodeToString(public),
	}, nil
}

// PublicKey derives the public key for a base64 private key.
func PublicKey(privateKey string) (string, error) {
	private, err := decode(privateKey)
	if err != nil {
		return "", err
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(public), nil
}

// GeneratePresharedKey returns 32 random bytes, base64 encoded.
func GeneratePresharedKey() (string, error) {
	var key [keyLen]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// Valid reports whether key is a base64 encoded 32-byte key.
func Valid(key string) bool {
	_, err := decode(key)
	return err == nil
}

func decode(key string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(raw) != keyLen {
		return nil, fmt.Errorf("invalid key length %d", len(raw))
	}
	return raw, nil
}
