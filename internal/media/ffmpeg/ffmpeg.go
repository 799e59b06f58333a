// Package ffmpeg wraps the ffmpeg binary for streaming audio transcodes.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"murmur/internal/services"
)

// Stream is a running transcode. Read MP3 bytes from Output until EOF, then
// call Wait to reap the process and collect any failure.
type Stream struct {
	Output io.Reader

	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

// StreamToMP3 launches ffmpeg reading raw provider audio from src and writing
// MP3 to its stdout. Nothing touches disk; the caller consumes Output and
// pipes it straight into the vault encrypter.
func StreamToMP3(ctx context.Context, binary string, src io.Reader) (*Stream, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if src == nil {
		return nil, errors.New("ffmpeg transcode: nil source")
	}

	cmd := exec.CommandContext(ctx, binary,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		"-f", "mp3",
		"pipe:1",
	)
	cmd.Stdin = src

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg transcode: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrIngest, "", "ffmpeg transcode", "start "+binary, err)
	}
	return &Stream{Output: stdout, cmd: cmd, stderr: &stderr}, nil
}

// Wait reaps the ffmpeg process. Call it after Output has been drained; a
// non-zero exit carries ffmpeg's stderr in the error.
func (s *Stream) Wait() error {
	if err := s.cmd.Wait(); err != nil {
		detail := strings.TrimSpace(s.stderr.String())
		if detail == "" {
			detail = "no stderr output"
		}
		return services.Wrap(services.ErrIngest, "", "ffmpeg transcode", detail, err)
	}
	return nil
}

// Kill terminates the transcode early, for abandoned downloads.
func (s *Stream) Kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}
