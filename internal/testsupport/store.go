package testsupport

import (
	"context"
	"testing"

	"murmur/internal/config"
	"murmur/internal/crypto"
	"murmur/internal/meetings"
)

// MustOpenStore opens a meetings.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *meetings.Store {
	t.Helper()

	store, err := meetings.Open(cfg)
	if err != nil {
		t.Fatalf("meetings.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustKeyWrapper builds a key wrapper from the config's master key.
func MustKeyWrapper(t testing.TB, cfg *config.Config) *crypto.KeyWrapper {
	t.Helper()

	master, err := cfg.MasterKey()
	if err != nil {
		t.Fatalf("resolve master key: %v", err)
	}
	wrapper, err := crypto.NewKeyWrapper(master)
	if err != nil {
		t.Fatalf("crypto.NewKeyWrapper: %v", err)
	}
	return wrapper
}

// NewMeeting creates a meeting row for tests using the provided store.
func NewMeeting(t testing.TB, store *meetings.Store, id, userID string) *meetings.Meeting {
	t.Helper()

	meeting, err := store.Create(context.Background(), id, userID)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return meeting
}
