package pipeline

import (
	"encoding/json"
	"fmt"

	"murmur/internal/services/summarizer"
	"murmur/internal/services/transcriber"
)

// TranscriptDoc is the plaintext artifact stored for transcript heads and
// snapshots. Its content hash covers Text only.
type TranscriptDoc struct {
	Text     string               `json:"text"`
	Segments []transcriber.Segment `json:"segments"`
}

// SummaryDoc is the plaintext artifact stored for summary heads and
// snapshots. Its content hash covers Summary only; actions are excluded.
type SummaryDoc struct {
	Summary string   `json:"summary"`
	Actions []string `json:"actions"`
}

func encodeTranscript(doc TranscriptDoc) ([]byte, error) {
	if doc.Segments == nil {
		doc.Segments = []transcriber.Segment{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode transcript artifact: %w", err)
	}
	return raw, nil
}

func decodeTranscript(raw []byte) (TranscriptDoc, error) {
	var doc TranscriptDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return TranscriptDoc{}, fmt.Errorf("decode transcript artifact: %w", err)
	}
	return doc, nil
}

func encodeSummary(summary summarizer.Summary) ([]byte, error) {
	doc := SummaryDoc{Summary: summary.Summary, Actions: summary.Actions}
	if doc.Actions == nil {
		doc.Actions = []string{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode summary artifact: %w", err)
	}
	return raw, nil
}

func decodeSummary(raw []byte) (SummaryDoc, error) {
	var doc SummaryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return SummaryDoc{}, fmt.Errorf("decode summary artifact: %w", err)
	}
	return doc, nil
}
