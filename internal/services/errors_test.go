package services

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	inner := errors.New("exit status 1")
	err := Wrap(ErrTranscriber, "transcribing", "run engine", "no JSON on stdout", inner)
	if !errors.Is(err, ErrTranscriber) {
		t.Fatal("wrapped error should match its marker")
	}
	if !errors.Is(err, inner) {
		t.Fatal("wrapped error should match the inner error")
	}
	for _, want := range []string{"transcribing", "run engine", "no JSON on stdout"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error message missing %q: %v", want, err)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatal("nil marker should default to ErrTransient")
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("empty detail should collapse to placeholder: %v", err)
	}
}
