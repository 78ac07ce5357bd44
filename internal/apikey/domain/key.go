package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	KeyPrefix      = "clk_"
	keySecretBytes = 24
)

// GenerateKey returns KeyPrefix followed by 24 random bytes, hex encoded.
func GenerateKey() (string, error) {
	buf := make([]byte, keySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// LooksLikeKey reports whether raw has the shape GenerateKey produces.
func LooksLikeKey(raw string) bool {
	if !strings.HasPrefix(raw, KeyPrefix) {
		return false
	}
	secret := raw[len(KeyPrefix):]
	if len(secret) != keySecretBytes*2 {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}
