package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"murmur/internal/services"
)

const (
	// DataKeySize is the AES-256 key length for at-rest encryption.
	DataKeySize = 32
	// FileIVSize is the AES-CBC IV length paired with each data key.
	FileIVSize = 16
	// wrapNonceSize is the GCM nonce length used for key wrapping.
	wrapNonceSize = 12
	// wrapTagSize is the GCM authentication tag length.
	wrapTagSize = 16
)

// GenerateDataKey produces a fresh 32-byte data key and 16-byte file IV.
func GenerateDataKey() (key, iv []byte, err error) {
	key = make([]byte, DataKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("generate data key: %w", err)
	}
	iv = make([]byte, FileIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate file iv: %w", err)
	}
	return key, iv, nil
}

// WrappedKey is the storable form of a data key: the GCM nonce and ciphertext
// joined as "<nonce_hex>:<ciphertext_hex>", with the 16-byte tag held apart.
type WrappedKey struct {
	Blob string
	Tag  string
}

// KeyWrapper wraps and unwraps data keys under the process master key.
type KeyWrapper struct {
	aead cipher.AEAD
}

// NewKeyWrapper builds a wrapper from a 32-byte master key.
func NewKeyWrapper(masterKey []byte) (*KeyWrapper, error) {
	if len(masterKey) != DataKeySize {
		return nil, fmt.Errorf("master key: expected %d bytes, got %d", DataKeySize, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("master key cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("master key gcm: %w", err)
	}
	return &KeyWrapper{aead: aead}, nil
}

// Wrap encrypts a data key with a fresh random nonce.
func (w *KeyWrapper) Wrap(dataKey []byte) (WrappedKey, error) {
	if len(dataKey) != DataKeySize {
		return WrappedKey{}, fmt.Errorf("data key: expected %d bytes, got %d", DataKeySize, len(dataKey))
	}
	nonce := make([]byte, wrapNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return WrappedKey{}, fmt.Errorf("wrap nonce: %w", err)
	}
	sealed := w.aead.Seal(nil, nonce, dataKey, nil)
	ciphertext := sealed[:len(sealed)-wrapTagSize]
	tag := sealed[len(sealed)-wrapTagSize:]
	return WrappedKey{
		Blob: hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext),
		Tag:  hex.EncodeToString(tag),
	}, nil
}

// Unwrap recovers a data key. Any tampering with the blob, nonce, or tag
// surfaces as services.ErrKeyUnwrap.
func (w *KeyWrapper) Unwrap(wrapped WrappedKey) ([]byte, error) {
	parts := strings.SplitN(wrapped.Blob, ":", 2)
	if len(parts) != 2 {
		return nil, services.Wrap(services.ErrKeyUnwrap, "", "unwrap key", "malformed wrapped blob", nil)
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != wrapNonceSize {
		return nil, services.Wrap(services.ErrKeyUnwrap, "", "unwrap key", "malformed nonce", err)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, services.Wrap(services.ErrKeyUnwrap, "", "unwrap key", "malformed ciphertext", err)
	}
	tag, err := hex.DecodeString(wrapped.Tag)
	if err != nil || len(tag) != wrapTagSize {
		return nil, services.Wrap(services.ErrKeyUnwrap, "", "unwrap key", "malformed tag", err)
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	key, err := w.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrKeyUnwrap, "", "unwrap key", "authentication failed", err)
	}
	return key, nil
}

// ContentHash returns the lowercase SHA-256 hex digest of the supplied text.
// Transcripts hash their joined recognized text; summaries hash the summary
// sentence. Action items are never part of the digest.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
