// Package vault stores meeting artifacts as AES-256-CBC ciphertext under a
// single root directory. Audio lands in audio/, JSON artifacts in data/.
// Paths handed back to callers are vault-relative so the database never
// records an absolute filesystem layout.
package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"murmur/internal/crypto"
	"murmur/internal/services"
)

const (
	audioDir = "audio"
	dataDir  = "data"
)

// Vault is rooted at the configured vault directory.
type Vault struct {
	root string
}

// New ensures the vault layout exists and returns a handle to it.
func New(root string) (*Vault, error) {
	if root == "" {
		return nil, errors.New("vault: root directory not configured")
	}
	for _, sub := range []string{audioDir, dataDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o700); err != nil {
			return nil, fmt.Errorf("vault: create %s: %w", sub, err)
		}
	}
	return &Vault{root: root}, nil
}

// Root returns the vault root directory.
func (v *Vault) Root() string {
	return v.root
}

// AudioPath is the vault-relative location of a meeting's encrypted audio.
func (v *Vault) AudioPath(meetingID string) string {
	return filepath.Join(audioDir, meetingID+".enc")
}

// HeadPath is the vault-relative location of the active artifact of a kind.
func (v *Vault) HeadPath(meetingID, kind string) string {
	return filepath.Join(dataDir, fmt.Sprintf("%s_%s.enc", meetingID, kind))
}

// SnapshotPath is the vault-relative location of one immutable revision.
func (v *Vault) SnapshotPath(meetingID, kind string, version int) string {
	return filepath.Join(dataDir, fmt.Sprintf("%s_%s_v%d.enc", meetingID, kind, version))
}

func (v *Vault) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(v.root, path)
}

// EncryptStreamToFile drains src through a CBC encrypter into path, writing a
// temp file first so a crash never leaves a half-written artifact behind.
// It returns the plaintext byte count.
func (v *Vault) EncryptStreamToFile(path string, src io.Reader, key, iv []byte) (int64, error) {
	full := v.resolve(path)
	tmp, err := os.CreateTemp(filepath.Dir(full), ".vault-*")
	if err != nil {
		return 0, fmt.Errorf("vault: create temp: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	enc, err := crypto.NewEncrypter(tmp, key, iv)
	if err != nil {
		return 0, fmt.Errorf("vault: %w", err)
	}
	written, err := io.Copy(enc, src)
	if err != nil {
		return 0, fmt.Errorf("vault: encrypt stream: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("vault: finalize ciphertext: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("vault: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("vault: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return 0, fmt.Errorf("vault: publish %s: %w", path, err)
	}
	return written, nil
}

// EncryptBufferToFile encrypts a small artifact (transcript or summary JSON)
// and writes it in one shot.
func (v *Vault) EncryptBufferToFile(path string, plaintext, key, iv []byte) error {
	ciphertext, err := crypto.EncryptBytes(plaintext, key, iv)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	full := v.resolve(path)
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o600); err != nil {
		return fmt.Errorf("vault: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vault: publish %s: %w", path, err)
	}
	return nil
}

// decryptedReader pairs a streaming decrypter with its backing file handle.
type decryptedReader struct {
	*crypto.Decrypter
	file *os.File
}

func (r *decryptedReader) Close() error {
	return r.file.Close()
}

// OpenDecrypted opens an artifact for streaming plaintext reads. A missing
// file surfaces as services.ErrNotFound.
func (v *Vault) OpenDecrypted(path string, key, iv []byte) (io.ReadCloser, error) {
	file, err := os.Open(v.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "", "open artifact", path, err)
		}
		return nil, fmt.Errorf("vault: open %s: %w", path, err)
	}
	dec, err := crypto.NewDecrypter(file, key, iv)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &decryptedReader{Decrypter: dec, file: file}, nil
}

// ReadDecrypted loads a small artifact fully into memory.
func (v *Vault) ReadDecrypted(path string, key, iv []byte) ([]byte, error) {
	reader, err := v.OpenDecrypted(path, key, iv)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt %s: %w", path, err)
	}
	return plaintext, nil
}

// Exists reports whether an artifact is present.
func (v *Vault) Exists(path string) bool {
	_, err := os.Stat(v.resolve(path))
	return err == nil
}

// Remove deletes artifacts best-effort and returns the paths that could not
// be removed. Missing files do not count as failures.
func (v *Vault) Remove(paths ...string) []string {
	var failed []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(v.resolve(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failed = append(failed, path)
		}
	}
	return failed
}
