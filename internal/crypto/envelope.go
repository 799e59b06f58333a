package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"strings"

	"murmur/internal/services"
)

const pemLineWidth = 64

// SessionEnvelope carries the per-request transport parameters: a fresh AES
// key and IV, plus their RSA-OAEP encryption under the client's public key.
type SessionEnvelope struct {
	Key []byte
	IV  []byte
	// EncryptedKey is base64(RSA-OAEP-SHA256(key || iv)) and travels in the
	// X-Encrypted-Key response header. The IV rides inside the RSA payload.
	EncryptedKey string
}

// NewSessionEnvelope mints session parameters for one artifact delivery.
// The supplied PEM may arrive mangled by HTTP header transport; it is
// normalized before key import.
func NewSessionEnvelope(clientPublicKeyPEM string) (*SessionEnvelope, error) {
	pub, err := ParseRSAPublicKey(clientPublicKeyPEM)
	if err != nil {
		return nil, err
	}

	key := make([]byte, DataKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "session envelope", "generate session key", err)
	}
	iv := make([]byte, FileIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "session envelope", "generate session iv", err)
	}

	payload := make([]byte, 0, DataKeySize+FileIVSize)
	payload = append(payload, key...)
	payload = append(payload, iv...)

	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, payload, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrPubKeyFormat, "", "session envelope", "rsa encrypt", err)
	}

	return &SessionEnvelope{
		Key:          key,
		IV:           iv,
		EncryptedKey: base64.StdEncoding.EncodeToString(encrypted),
	}, nil
}

// Encrypter returns a streaming CBC encrypter bound to the session parameters.
func (e *SessionEnvelope) Encrypter(dst io.Writer) (*Encrypter, error) {
	return NewEncrypter(dst, e.Key, e.IV)
}

// ParseRSAPublicKey normalizes and imports an RSA public key from PEM text.
// Failures surface as services.ErrPubKeyFormat.
func ParseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	normalized, err := NormalizePublicKeyPEM(raw)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, services.Wrap(services.ErrPubKeyFormat, "", "parse public key", "no PEM block after normalization", nil)
	}

	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if pub, ok := parsed.(*rsa.PublicKey); ok {
			return pub, nil
		}
		return nil, services.Wrap(services.ErrPubKeyFormat, "", "parse public key", "not an RSA key", nil)
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	return nil, services.Wrap(services.ErrPubKeyFormat, "", "parse public key", "unrecognized key encoding", nil)
}

// NormalizePublicKeyPEM reconstructs standards-shaped PEM from the forms
// clients send through HTTP headers: escaped "\n" literals, surrounding
// quotes, collapsed single-line bodies, or bare base64 without headers.
func NormalizePublicKeyPEM(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	text = strings.Trim(text, `"'`)
	text = strings.ReplaceAll(text, `\r\n`, "\n")
	text = strings.ReplaceAll(text, `\n`, "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", services.Wrap(services.ErrPubKeyFormat, "", "normalize pem", "empty key", nil)
	}

	label := "PUBLIC KEY"
	body := text
	if idx := strings.Index(text, "-----BEGIN "); idx >= 0 {
		rest := text[idx+len("-----BEGIN "):]
		end := strings.Index(rest, "-----")
		if end < 0 {
			return "", services.Wrap(services.ErrPubKeyFormat, "", "normalize pem", "unterminated header", nil)
		}
		label = rest[:end]
		body = rest[end+len("-----"):]
		if footer := strings.Index(body, "-----END "); footer >= 0 {
			body = body[:footer]
		}
	}

	var b64 strings.Builder
	for _, r := range body {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '/', r == '=':
			b64.WriteRune(r)
		case r == ' ', r == '\n', r == '\r', r == '\t':
			// header transport inserts whitespace freely
		default:
			return "", services.Wrap(services.ErrPubKeyFormat, "", "normalize pem", "unexpected character in key body", nil)
		}
	}
	compact := b64.String()
	if compact == "" {
		return "", services.Wrap(services.ErrPubKeyFormat, "", "normalize pem", "empty key body", nil)
	}
	if _, err := base64.StdEncoding.DecodeString(compact); err != nil {
		return "", services.Wrap(services.ErrPubKeyFormat, "", "normalize pem", "invalid base64 body", err)
	}

	var out strings.Builder
	out.WriteString("-----BEGIN " + label + "-----\n")
	for len(compact) > pemLineWidth {
		out.WriteString(compact[:pemLineWidth])
		out.WriteByte('\n')
		compact = compact[pemLineWidth:]
	}
	out.WriteString(compact)
	out.WriteString("\n-----END " + label + "-----\n")
	return out.String(), nil
}
