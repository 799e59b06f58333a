// Package notifications pushes meeting lifecycle events over ntfy.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"murmur/internal/config"
)

const userAgent = "Murmur-Go/0.1.0"

// Service defines the notification surface exposed to the pipeline.
type Service interface {
	NotifyMeetingCompleted(ctx context.Context, meetingID string, durationSeconds int) error
	NotifyMeetingFailed(ctx context.Context, meetingID string, reason string) error
	NotifyMeetingDiscarded(ctx context.Context, meetingID string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Completed,
		failed:    cfg.Failed,
		discarded: cfg.Discarded,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	failed    bool
	discarded bool
}

func (n *ntfyService) NotifyMeetingCompleted(ctx context.Context, meetingID string, durationSeconds int) error {
	if !n.completed {
		return nil
	}
	duration := (time.Duration(durationSeconds) * time.Second).String()
	data := payload{
		title:   "Murmur - Meeting Ready",
		message: fmt.Sprintf("Transcript and summary ready for meeting %s (%s of audio)", meetingID, duration),
		tags:    []string{"murmur", "meeting", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyMeetingFailed(ctx context.Context, meetingID string, reason string) error {
	if !n.failed {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Murmur - Processing Failed",
		message:  fmt.Sprintf("Meeting %s failed: %s", meetingID, reason),
		tags:     []string{"murmur", "meeting", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyMeetingDiscarded(ctx context.Context, meetingID string) error {
	if !n.discarded {
		return nil
	}
	data := payload{
		title:   "Murmur - Meeting Discarded",
		message: fmt.Sprintf("Meeting %s ended without producing audio and was discarded", meetingID),
		tags:    []string{"murmur", "meeting", "discarded"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Murmur - Test",
		message:  "Notification system test",
		tags:     []string{"murmur", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyMeetingCompleted(context.Context, string, int) error { return nil }
func (noopService) NotifyMeetingFailed(context.Context, string, string) error { return nil }
func (noopService) NotifyMeetingDiscarded(context.Context, string) error      { return nil }
func (noopService) TestNotification(context.Context) error                    { return nil }
