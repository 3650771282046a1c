package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPEM(t *testing.T) (string, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}

	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path, pub
}

func TestLoadPEMAndSignVerifies(t *testing.T) {
	t.Parallel()
	path, pub := writeTestPEM(t)

	signer, err := LoadPEM(path)
	if err != nil {
		t.Fatalf("LoadPEM: %v", err)
	}

	data := []byte("symbol=BTCUSDT&side=BUY&timestamp=1")
	sigB64, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !ed25519.Verify(pub, data, sig) {
		t.Error("signature does not verify against the public key")
	}
}

func TestLoadPEMMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadPEM(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadPEMNotPEM(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notpem.pem")
	if err := os.WriteFile(path, []byte("not a pem file"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadPEM(path); err == nil {
		t.Fatal("expected an error for a non-PEM file")
	}
}
