// Package summarizer adapts the LLM summarization engine.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/services"
)

const (
	// maxInputChars bounds the transcript excerpt sent to the engine.
	maxInputChars    = 4000
	jsonResponseType = "json_object"

	systemPrompt = `You summarize meeting transcripts. Respond with a JSON object:
{"summary": "<one or two sentences>", "actions": ["<action item>", ...]}
The summary names the meeting's purpose and outcome. Actions are concrete
follow-ups with an owner when one was stated. Use an empty list when the
transcript contains no action items.`
)

// Summary is the normalized summarization contract.
type Summary struct {
	Summary string   `json:"summary"`
	Actions []string `json:"actions"`
}

// Service calls the summarization engine with a bounded timeout.
type Service struct {
	cfg        config.Summarizer
	allowMock  bool
	logger     *slog.Logger
	httpClient *http.Client
}

// Option customizes the summarizer service.
type Option func(*Service)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// NewService builds a summarizer from configuration.
func NewService(cfg config.Summarizer, processors config.Processors, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	svc := &Service{
		cfg:        cfg,
		allowMock:  processors.AllowMockFallback,
		logger:     logging.NewComponentLogger(logger, "summarizer"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Summarize condenses a transcript into a summary and action items. Input is
// truncated so engine cost stays bounded regardless of meeting length.
func (s *Service) Summarize(ctx context.Context, transcript string) (Summary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Summary{}, services.Wrap(services.ErrValidation, "summarizing", "run engine", "transcript required", nil)
	}
	if len(transcript) > maxInputChars {
		transcript = transcript[:maxInputChars]
	}

	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return s.mockSummary("no summarizer api key configured")
	}

	summary, err := s.complete(ctx, transcript)
	if err != nil {
		s.logger.Warn("summarization engine failed", logging.Error(err))
		return s.mockSummary(err.Error())
	}
	return summary, nil
}

func (s *Service) complete(ctx context.Context, transcript string) (Summary, error) {
	request := chatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return Summary{}, fmt.Errorf("encode request: %w", err)
	}
	endpoint, err := url.JoinPath(s.cfg.BaseURL, "/chat/completions")
	if err != nil {
		return Summary{}, fmt.Errorf("build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Summary{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "run engine", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "run engine", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "run engine",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "decode response", "", err)
	}
	if completion.Error != nil {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "run engine",
			strings.TrimSpace(completion.Error.Message), nil)
	}
	if len(completion.Choices) == 0 {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "run engine", "empty choices", nil)
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	var summary Summary
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "parse payload", content, err)
	}
	summary.Summary = strings.TrimSpace(summary.Summary)
	if summary.Summary == "" {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "parse payload", "empty summary", nil)
	}
	if summary.Actions == nil {
		summary.Actions = []string{}
	}
	return summary, nil
}

func (s *Service) mockSummary(reason string) (Summary, error) {
	if !s.allowMock {
		return Summary{}, services.Wrap(services.ErrSummarizer, "summarizing", "run engine", reason, nil)
	}
	s.logger.Warn("MOCK SUMMARY IN USE, output is fabricated and must never ship",
		logging.String("reason", reason),
		logging.String(logging.FieldAlert, "mock_fallback"))
	return Summary{
		Summary: "This is a mock summary of the meeting.",
		Actions: []string{"Review the mock action item."},
	}, nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
