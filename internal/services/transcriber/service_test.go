package transcriber

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"murmur/internal/config"
	"murmur/internal/services"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.py")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newService(t *testing.T, script string, allowMock bool) *Service {
	t.Helper()
	return NewService(
		config.Transcriber{Python: "python3", Script: script, Model: "base"},
		config.Processors{AllowMockFallback: allowMock},
		nil,
	)
}

func audioFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestExtractsJSONFromNoisyStdout(t *testing.T) {
	script := writeScript(t, `
import sys
sys.stderr.write("[Engine] loading model\n")
print("progress: 10%")
print('{"text": "hello world", "segments": [{"start": 0.0, "end": 1.5, "text": "hello world", "speaker": "Alice"}]}')
print("done")
`)
	svc := newService(t, script, false)

	result, err := svc.Transcribe(context.Background(), audioFixture(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "hello world" {
		t.Fatalf("text: %q", result.Text)
	}
	if len(result.Segments) != 1 || result.Segments[0].Speaker != "Alice" {
		t.Fatalf("segments: %#v", result.Segments)
	}
	if result.Segments[0].Start < 0 {
		t.Fatal("segment start must be non-negative")
	}
}

func TestToleratesNonZeroExitWithValidJSON(t *testing.T) {
	script := writeScript(t, `
import sys
print('{"text": "partial result", "segments": []}')
sys.exit(3)
`)
	svc := newService(t, script, false)

	result, err := svc.Transcribe(context.Background(), audioFixture(t))
	if err != nil {
		t.Fatalf("valid JSON should win over exit code: %v", err)
	}
	if result.Text != "partial result" {
		t.Fatalf("text: %q", result.Text)
	}
}

func TestFailureCarriesStderr(t *testing.T) {
	script := writeScript(t, `
import sys
sys.stderr.write("CUDA out of memory\n")
sys.exit(1)
`)
	svc := newService(t, script, false)

	_, err := svc.Transcribe(context.Background(), audioFixture(t))
	if !errors.Is(err, services.ErrTranscriber) {
		t.Fatalf("want ErrTranscriber, got %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("stderr missing from error: %v", err)
	}
}

func TestEngineErrorPayload(t *testing.T) {
	script := writeScript(t, `print('{"error": "No audio file provided"}')`)
	svc := newService(t, script, false)

	_, err := svc.Transcribe(context.Background(), audioFixture(t))
	if !errors.Is(err, services.ErrTranscriber) {
		t.Fatalf("want ErrTranscriber, got %v", err)
	}
}

func TestSiblingJSONFallback(t *testing.T) {
	script := writeScript(t, `
import json, sys
path = sys.argv[1]
base = path.rsplit(".", 1)[0]
with open(base + ".json", "w") as f:
    json.dump({"text": "from file", "segments": []}, f)
print("engine wrote output to disk")
`)
	svc := newService(t, script, false)

	result, err := svc.Transcribe(context.Background(), audioFixture(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "from file" {
		t.Fatalf("text: %q", result.Text)
	}
}

func TestTextJoinedFromSegments(t *testing.T) {
	script := writeScript(t, `
print('{"segments": [{"start": 0, "end": 1, "text": " first "}, {"start": 1, "end": 2, "text": "second"}]}')
`)
	svc := newService(t, script, false)

	result, err := svc.Transcribe(context.Background(), audioFixture(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "first second" {
		t.Fatalf("joined text: %q", result.Text)
	}
}

func TestMissingEngineWithoutMockFails(t *testing.T) {
	svc := newService(t, filepath.Join(t.TempDir(), "nope.py"), false)
	if _, err := svc.Transcribe(context.Background(), audioFixture(t)); !errors.Is(err, services.ErrTranscriber) {
		t.Fatalf("want ErrTranscriber, got %v", err)
	}
}

func TestMissingEngineWithMockSucceeds(t *testing.T) {
	svc := newService(t, filepath.Join(t.TempDir(), "nope.py"), true)
	result, err := svc.Transcribe(context.Background(), audioFixture(t))
	if err != nil {
		t.Fatalf("mock fallback: %v", err)
	}
	if result.Text == "" || len(result.Segments) == 0 {
		t.Fatalf("mock should be complete: %#v", result)
	}
}
