// Package recallbot wraps the external meeting-bot provider's HTTP API.
package recallbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"murmur/internal/config"
	"murmur/internal/services"
)

const (
	defaultBotName     = "Murmur Notetaker"
	defaultHTTPTimeout = 30 * time.Second
)

// Client talks to the bot provider.
type Client struct {
	apiKey     string
	baseURL    string
	botName    string
	httpClient *http.Client
}

// Option customizes the provider client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a provider client from configuration.
func NewClient(cfg config.Recall, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	client := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		botName:    strings.TrimSpace(cfg.BotName),
		httpClient: &http.Client{Timeout: timeout},
	}
	if client.botName == "" {
		client.botName = defaultBotName
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Status is the normalized view of a bot's progress.
type Status struct {
	RawStatus  string
	AudioReady bool
	AudioURL   string
}

// Terminal reports whether the provider can make no further progress.
func (s Status) Terminal() bool {
	switch s.RawStatus {
	case "done", "fatal", "error", "payment_required":
		return true
	}
	return false
}

// Join dispatches a bot into the meeting and returns the provider's bot id.
func (c *Client) Join(ctx context.Context, meetingURL, botName string) (string, error) {
	meetingURL = strings.TrimSpace(meetingURL)
	if meetingURL == "" {
		return "", services.Wrap(services.ErrValidation, "", "join", "meeting url required", nil)
	}
	if botName = strings.TrimSpace(botName); botName == "" {
		botName = c.botName
	}

	payload, err := json.Marshal(map[string]any{
		"meeting_url": meetingURL,
		"bot_name":    botName,
	})
	if err != nil {
		return "", fmt.Errorf("encode join request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/bot", payload)
	if err != nil {
		return "", err
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrProvider, "", "join", "decode response", err)
	}
	if parsed.ID == "" {
		return "", services.Wrap(services.ErrProvider, "", "join", "provider returned no bot id", nil)
	}
	return parsed.ID, nil
}

// botResponse tolerates both shapes the provider emits: a flat status string
// and a status-change log, plus per-recording media shortcuts.
type botResponse struct {
	ID     string          `json:"id"`
	Status json.RawMessage `json:"status"`

	StatusChanges []struct {
		Code string `json:"code"`
	} `json:"status_changes"`

	Recordings []struct {
		MediaShortcuts map[string]struct {
			Data struct {
				DownloadURL string `json:"download_url"`
			} `json:"data"`
		} `json:"media_shortcuts"`
	} `json:"recordings"`
}

// GetStatus fetches and normalizes the bot's state.
func (c *Client) GetStatus(ctx context.Context, botID string) (Status, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return Status{}, services.Wrap(services.ErrValidation, "", "status", "bot id required", nil)
	}

	body, err := c.do(ctx, http.MethodGet, "/bot/"+url.PathEscape(botID), nil)
	if err != nil {
		return Status{}, err
	}

	var parsed botResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Status{}, services.Wrap(services.ErrProvider, "", "status", "decode response", err)
	}

	status := Status{RawStatus: normalizeRawStatus(parsed)}
	status.AudioURL = selectAudioURL(parsed)
	status.AudioReady = status.AudioURL != ""
	return status, nil
}

// DownloadAudio opens the provider's recording stream. The caller owns the
// returned body and must close it.
func (c *Client) DownloadAudio(ctx context.Context, audioURL string) (io.ReadCloser, error) {
	audioURL = strings.TrimSpace(audioURL)
	if audioURL == "" {
		return nil, services.Wrap(services.ErrValidation, "", "download", "audio url required", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}

	// Recording URLs are pre-signed; timeouts would sever long downloads.
	download := &http.Client{Transport: c.httpClient.Transport}
	resp, err := download.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrProvider, "", "download", "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, services.Wrap(services.ErrProvider, "", "download", fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	return resp.Body, nil
}

// Leave asks the provider to remove the bot from the call.
func (c *Client) Leave(ctx context.Context, botID string) error {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return services.Wrap(services.ErrValidation, "", "leave", "bot id required", nil)
	}
	_, err := c.do(ctx, http.MethodPost, "/bot/"+url.PathEscape(botID)+"/leave_call", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "provider", "base url not configured", nil)
	}
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrProvider, "", "provider", method+" "+path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrProvider, "", "provider", "read response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return nil, services.Wrap(services.ErrProvider, "", "provider", fmt.Sprintf("http %d: %s", resp.StatusCode, detail), nil)
	}
	return body, nil
}

// normalizeRawStatus prefers the explicit status field (string or object with
// a code) and falls back to the newest status-change entry.
func normalizeRawStatus(parsed botResponse) string {
	if len(parsed.Status) > 0 {
		var flat string
		if err := json.Unmarshal(parsed.Status, &flat); err == nil && flat != "" {
			return flat
		}
		var nested struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(parsed.Status, &nested); err == nil && nested.Code != "" {
			return nested.Code
		}
	}
	if n := len(parsed.StatusChanges); n > 0 {
		return parsed.StatusChanges[n-1].Code
	}
	return "unknown"
}

// audioShortcutPriority orders media shortcuts from most to least desirable.
var audioShortcutPriority = []string{
	"audio_separate_raw",
	"audio_mixed_mp3",
	"audio_mixed",
	"video_mixed",
}

// selectAudioURL walks the recordings for the best available download.
func selectAudioURL(parsed botResponse) string {
	for _, key := range audioShortcutPriority {
		for _, recording := range parsed.Recordings {
			if shortcut, ok := recording.MediaShortcuts[key]; ok && shortcut.Data.DownloadURL != "" {
				return shortcut.Data.DownloadURL
			}
		}
	}
	// Any other audio shortcut beats mixed video, which was already tried.
	for _, recording := range parsed.Recordings {
		for key, shortcut := range recording.MediaShortcuts {
			if strings.HasPrefix(key, "audio") && shortcut.Data.DownloadURL != "" {
				return shortcut.Data.DownloadURL
			}
		}
	}
	return ""
}
