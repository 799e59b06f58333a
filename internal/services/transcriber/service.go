// Package transcriber adapts the diarization-capable transcription engine.
//
// The engine is a Python subprocess that prints a JSON document on stdout,
// interleaved with progress noise on both streams. The adapter extracts the
// outermost JSON object, tolerates non-zero exits when valid output was
// produced, and falls back to a sibling .json file for engines that write
// to disk instead.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/services"
)

// Segment is one diarized span of recognized speech.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Result is the normalized transcription contract.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Service runs the transcription engine against decrypted temp files.
type Service struct {
	cfg       config.Transcriber
	allowMock bool
	logger    *slog.Logger
}

// NewService builds a transcriber from configuration.
func NewService(cfg config.Transcriber, processors config.Processors, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:       cfg,
		allowMock: processors.AllowMockFallback,
		logger:    logging.NewComponentLogger(logger, "transcriber"),
	}
}

// Transcribe runs the engine on a decrypted audio file and normalizes its
// output. The file lives outside the vault; the engine never sees a key.
func (s *Service) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	audioPath = strings.TrimSpace(audioPath)
	if audioPath == "" {
		return Result{}, services.Wrap(services.ErrValidation, "transcribing", "run engine", "audio path required", nil)
	}

	script := strings.TrimSpace(s.cfg.Script)
	if script == "" {
		return s.mockResult("no transcription script configured")
	}
	if _, err := os.Stat(script); err != nil {
		return s.mockResult("transcription script missing: " + script)
	}

	python := strings.TrimSpace(s.cfg.Python)
	if python == "" {
		python = "python3"
	}

	cmd := exec.CommandContext(ctx, python, script, audioPath)
	cmd.Env = s.engineEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if raw, ok := extractJSON(stdout.Bytes()); ok {
		result, err := decodeResult(raw)
		if err == nil {
			if runErr != nil {
				s.logger.Warn("engine exited non-zero but produced valid output",
					logging.Error(runErr))
			}
			return result, nil
		}
		s.logger.Warn("stdout JSON rejected, trying sibling file", logging.Error(err))
	}

	if result, err := s.loadSiblingJSON(audioPath); err == nil {
		return result, nil
	}

	detail := strings.TrimSpace(stderr.String())
	if len(detail) > 500 {
		detail = detail[len(detail)-500:]
	}
	if detail == "" {
		detail = "no usable output"
	}
	return Result{}, services.Wrap(services.ErrTranscriber, "transcribing", "run engine", detail, runErr)
}

// engineEnv forwards diarization controls to the subprocess.
func (s *Service) engineEnv() []string {
	env := os.Environ()
	if model := strings.TrimSpace(s.cfg.Model); model != "" {
		env = append(env, "WHISPER_MODEL="+model)
	}
	if token := strings.TrimSpace(s.cfg.HFToken); token != "" {
		env = append(env, "HF_TOKEN="+token)
	}
	if s.cfg.MinSpeakers > 0 {
		env = append(env, "MIN_SPEAKERS="+strconv.Itoa(s.cfg.MinSpeakers))
	}
	if s.cfg.MaxSpeakers > 0 {
		env = append(env, "MAX_SPEAKERS="+strconv.Itoa(s.cfg.MaxSpeakers))
	}
	return env
}

// loadSiblingJSON handles engines that write their result next to the input.
func (s *Service) loadSiblingJSON(audioPath string) (Result, error) {
	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	for _, candidate := range []string{base + ".json", audioPath + ".json"} {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		result, err := decodeResult(data)
		if err != nil {
			return Result{}, err
		}
		return result, nil
	}
	return Result{}, fmt.Errorf("no sibling json for %s", audioPath)
}

func (s *Service) mockResult(reason string) (Result, error) {
	if !s.allowMock {
		return Result{}, services.Wrap(services.ErrTranscriber, "transcribing", "run engine", reason, nil)
	}
	s.logger.Warn("MOCK TRANSCRIPT IN USE, output is fabricated and must never ship",
		logging.String("reason", reason),
		logging.String(logging.FieldAlert, "mock_fallback"))
	return Result{
		Text: "This is a mock transcript.",
		Segments: []Segment{
			{Start: 0, End: 2.5, Text: "This is a mock transcript.", Speaker: "Speaker 1"},
		},
	}, nil
}

func decodeResult(raw []byte) (Result, error) {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" {
		return Result{}, services.Wrap(services.ErrTranscriber, "transcribing", "engine error", probe.Error, nil)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("decode transcript: %w", err)
	}
	if strings.TrimSpace(result.Text) == "" && len(result.Segments) == 0 {
		return Result{}, fmt.Errorf("decode transcript: empty payload")
	}
	if strings.TrimSpace(result.Text) == "" {
		parts := make([]string, 0, len(result.Segments))
		for _, seg := range result.Segments {
			if text := strings.TrimSpace(seg.Text); text != "" {
				parts = append(parts, text)
			}
		}
		result.Text = strings.Join(parts, " ")
	}
	return result, nil
}

// extractJSON pulls the outermost object from a noisy stdout stream.
func extractJSON(stdout []byte) ([]byte, bool) {
	first := bytes.IndexByte(stdout, '{')
	last := bytes.LastIndexByte(stdout, '}')
	if first < 0 || last < first {
		return nil, false
	}
	return stdout[first : last+1], true
}
