package testsupport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
)

// NewRSAKeyPair generates a client key pair and returns the private key with
// the public half PEM-encoded the way API clients send it: newlines escaped
// to "\n" literals, since HTTP headers cannot carry raw newlines.
func NewRSAKeyPair(t testing.TB) (*rsa.PrivateKey, string) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemText := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	escaped := strings.ReplaceAll(string(pemText), "\n", `\n`)
	return priv, escaped
}
