package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrAuth marks a missing or invalid bearer token.
	ErrAuth = errors.New("authentication failed")
	// ErrOwnership marks access by a user who does not own the meeting.
	ErrOwnership = errors.New("not the meeting owner")
	// ErrPubKeyFormat marks a client public key that could not be reconstructed.
	ErrPubKeyFormat = errors.New("invalid public key format")
	// ErrKeyUnwrap marks a GCM tag mismatch while unwrapping a data key.
	ErrKeyUnwrap = errors.New("failed to unwrap key")
	// ErrProvider marks a bot-provider HTTP failure.
	ErrProvider = errors.New("bot provider error")
	// ErrTranscriber marks a transcription engine failure without usable output.
	ErrTranscriber = errors.New("transcriber failed")
	// ErrSummarizer marks a summarization engine failure without usable output.
	ErrSummarizer = errors.New("summarizer failed")
	// ErrIngest marks a transcode or vault write failure during ingestion.
	ErrIngest = errors.New("ingest failed")
	// ErrDiscarded marks a meeting deleted because the bot finished without audio.
	ErrDiscarded = errors.New("meeting discarded")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
