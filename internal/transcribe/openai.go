package transcribe

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/recallhq/recall/internal/errs"
)

const maxAudioBytes = 25 * 1024 * 1024

// OpenAIConfig holds configuration for the OpenAI Whisper transcriber.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Model is the Whisper model to use (default: whisper-1).
	Model string

	// Language is an ISO 639-1 hint; empty means auto-detect.
	Language string

	// Timeout bounds each transcription request (default: 60s).
	Timeout time.Duration

	// Logger is an optional structured logger.
	Logger *slog.Logger
}

// OpenAITranscriber transcribes audio through OpenAI's Whisper API.
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
	timeout  time.Duration
	logger   *slog.Logger
}

var _ Transcriber = (*OpenAITranscriber)(nil)

// NewOpenAITranscriber creates a Whisper-backed transcriber.
func NewOpenAITranscriber(cfg OpenAIConfig) (*OpenAITranscriber, error) {
	if cfg.APIKey == "" {
		return nil, errs.Validation("OpenAI API key is required", nil)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAITranscriber{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		language: cfg.Language,
		timeout:  timeout,
		logger:   logger.With("component", "transcriber"),
	}, nil
}

// Transcribe converts audio to text. Payloads over the Whisper upload
// limit are rejected before any network call.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error) {
	filename, err := filenameFor(mimeType)
	if err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(audio, maxAudioBytes+1))
	if err != nil {
		return "", errs.Transcription("read audio payload", err)
	}
	if len(data) == 0 {
		return "", errs.Transcription("audio payload is empty", nil)
	}
	if len(data) > maxAudioBytes {
		return "", errs.Transcription("audio payload too large", nil)
	}

	t.logger.Debug("transcribing audio",
		"size_bytes", len(data),
		"mime_type", mimeType,
		"model", t.model)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
		Language: t.language,
	})
	if err != nil {
		return "", errs.Transcription("whisper request failed", err)
	}

	text := strings.TrimSpace(resp.Text)
	t.logger.Debug("transcription complete", "text_length", len(text))
	return text, nil
}
