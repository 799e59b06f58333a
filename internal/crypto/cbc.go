package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// Encrypter streams AES-256-CBC ciphertext to an underlying writer. Writes
// may be any size; Close pads the final block (PKCS#7) and must be called for
// the ciphertext to be complete.
type Encrypter struct {
	dst     io.Writer
	mode    cipher.BlockMode
	pending []byte
	closed  bool
}

// NewEncrypter wraps dst with a streaming CBC encrypter.
func NewEncrypter(dst io.Writer, key, iv []byte) (*Encrypter, error) {
	mode, err := newCBC(key, iv, true)
	if err != nil {
		return nil, err
	}
	return &Encrypter{dst: dst, mode: mode}, nil
}

func (e *Encrypter) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.New("cbc encrypter: write after close")
	}
	e.pending = append(e.pending, p...)
	full := len(e.pending) / aes.BlockSize * aes.BlockSize
	if full > 0 {
		block := e.pending[:full]
		e.mode.CryptBlocks(block, block)
		if _, err := e.dst.Write(block); err != nil {
			return 0, err
		}
		e.pending = append(e.pending[:0], e.pending[full:]...)
	}
	return len(p), nil
}

// Close pads and flushes the final block. It does not close the underlying writer.
func (e *Encrypter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	padLen := aes.BlockSize - len(e.pending)%aes.BlockSize
	for i := 0; i < padLen; i++ {
		e.pending = append(e.pending, byte(padLen))
	}
	e.mode.CryptBlocks(e.pending, e.pending)
	_, err := e.dst.Write(e.pending)
	e.pending = nil
	return err
}

// Decrypter streams AES-256-CBC plaintext from an underlying reader. The
// final block is held back until EOF so PKCS#7 padding can be stripped.
type Decrypter struct {
	src   io.Reader
	mode  cipher.BlockMode
	raw   []byte
	plain []byte
	eof   bool
	err   error
}

// NewDecrypter wraps src with a streaming CBC decrypter.
func NewDecrypter(src io.Reader, key, iv []byte) (*Decrypter, error) {
	mode, err := newCBC(key, iv, false)
	if err != nil {
		return nil, err
	}
	return &Decrypter{src: src, mode: mode}, nil
}

func (d *Decrypter) Read(p []byte) (int, error) {
	for {
		if n := d.emit(p); n > 0 {
			return n, nil
		}
		if d.err != nil {
			return 0, d.err
		}
		if d.eof {
			return 0, io.EOF
		}
		d.fill()
	}
}

// emit copies available plaintext into p, always retaining the last block
// until EOF has been observed and padding stripped.
func (d *Decrypter) emit(p []byte) int {
	available := len(d.plain)
	if !d.eof || d.err != nil {
		available -= aes.BlockSize
	}
	if available <= 0 {
		return 0
	}
	n := copy(p, d.plain[:available])
	d.plain = append(d.plain[:0], d.plain[n:]...)
	return n
}

func (d *Decrypter) fill() {
	buf := make([]byte, 32*1024)
	n, err := d.src.Read(buf)
	if n > 0 {
		d.raw = append(d.raw, buf[:n]...)
		full := len(d.raw) / aes.BlockSize * aes.BlockSize
		if full > 0 {
			block := d.raw[:full]
			d.mode.CryptBlocks(block, block)
			d.plain = append(d.plain, block...)
			d.raw = append(d.raw[:0], d.raw[full:]...)
		}
	}
	if err == nil {
		return
	}
	if !errors.Is(err, io.EOF) {
		d.err = err
		return
	}
	d.eof = true
	if len(d.raw) != 0 {
		d.err = errors.New("cbc decrypter: ciphertext not a multiple of the block size")
		return
	}
	if stripErr := d.stripPadding(); stripErr != nil {
		d.err = stripErr
	}
}

func (d *Decrypter) stripPadding() error {
	if len(d.plain) == 0 || len(d.plain)%aes.BlockSize != 0 {
		return errors.New("cbc decrypter: truncated ciphertext")
	}
	padLen := int(d.plain[len(d.plain)-1])
	if padLen < 1 || padLen > aes.BlockSize || padLen > len(d.plain) {
		return errors.New("cbc decrypter: invalid padding")
	}
	for _, b := range d.plain[len(d.plain)-padLen:] {
		if int(b) != padLen {
			return errors.New("cbc decrypter: invalid padding")
		}
	}
	d.plain = d.plain[:len(d.plain)-padLen]
	return nil
}

// EncryptBytes is a convenience for small buffers (JSON artifacts).
func EncryptBytes(plaintext, key, iv []byte) ([]byte, error) {
	mode, err := newCBC(key, iv, true)
	if err != nil {
		return nil, err
	}
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, 0, len(plaintext)+padLen)
	padded = append(padded, plaintext...)
	for i := 0; i < padLen; i++ {
		padded = append(padded, byte(padLen))
	}
	mode.CryptBlocks(padded, padded)
	return padded, nil
}

// DecryptBytes reverses EncryptBytes.
func DecryptBytes(ciphertext, key, iv []byte) ([]byte, error) {
	dec, err := NewDecrypter(bytes.NewReader(ciphertext), key, iv)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(dec)
}

func newCBC(key, iv []byte, encrypt bool) (cipher.BlockMode, error) {
	if len(key) != DataKeySize {
		return nil, fmt.Errorf("cbc: expected %d-byte key, got %d", DataKeySize, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cbc: expected %d-byte iv, got %d", aes.BlockSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cbc: %w", err)
	}
	if encrypt {
		return cipher.NewCBCEncrypter(block, iv), nil
	}
	return cipher.NewCBCDecrypter(block, iv), nil
}
