package ffmpeg

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"murmur/internal/services"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestStreamPassesThrough(t *testing.T) {
	script := writeScript(t, "cat\n")
	stream, err := StreamToMP3(context.Background(), script, strings.NewReader("pretend audio bytes"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := io.ReadAll(stream.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if err := stream.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(out) != "pretend audio bytes" {
		t.Fatalf("output mismatch: %q", out)
	}
}

func TestStreamFailureCarriesStderr(t *testing.T) {
	script := writeScript(t, "echo 'codec not found' >&2\nexit 1\n")
	stream, err := StreamToMP3(context.Background(), script, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = io.ReadAll(stream.Output)
	err = stream.Wait()
	if !errors.Is(err, services.ErrIngest) {
		t.Fatalf("want ErrIngest, got %v", err)
	}
	if !strings.Contains(err.Error(), "codec not found") {
		t.Fatalf("stderr missing from error: %v", err)
	}
}

func TestStreamRejectsNilSource(t *testing.T) {
	if _, err := StreamToMP3(context.Background(), "ffmpeg", nil); err == nil {
		t.Fatal("nil source should be rejected")
	}
}
