// Package sign implements the out-of-scope "signing primitive" §1 treats
// as a black box: sign(bytes) -> base64. The gateway's exchange uses a
// digest-less signature scheme (the private key signs the raw query
// string directly, Ed25519-style, with no SHA-256/HMAC wrapper), so a
// PEM-encoded Ed25519 private key is parsed once at startup and every
// signed REST request calls through the same Signer.
package sign

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// Signer produces base64-encoded, digest-less signatures over arbitrary
// byte strings (typically a canonical query string built by RestClient).
type Signer interface {
	Sign(data []byte) (string, error)
}

type ed25519Signer struct {
	key ed25519.PrivateKey
}

// LoadPEM reads an Ed25519 private key from a PEM file (PKCS#8).
func LoadPEM(path string) (Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key in %s is not ed25519", path)
	}
	return &ed25519Signer{key: key}, nil
}

// Sign produces a base64-standard-encoded signature over data.
func (s *ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.key, data)
	return base64.StdEncoding.EncodeToString(sig), nil
}
