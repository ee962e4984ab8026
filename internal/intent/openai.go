package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/pkg/models"
)

const systemPrompt = `You are an intent classifier for a personal memory assistant reached over a messaging channel. Classify each user message as exactly one of:

1. "memory" - the user is sharing information to store (e.g. "I got a haircut today", "My grocery list: milk, bread", "Meeting with John at 3pm")
2. "search" - the user is asking about previously stored information (e.g. "What did I plan for dinner?", "Show me my recent photos")
3. "reminder" - the user wants to be notified at a specific future time (e.g. "Remind me to call mom at 5pm", "Remind me every Monday at 9am to water the plants")

Respond with JSON only:
{
  "intent": "memory" | "search" | "reminder",
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation",
  "extracted_query": "search terms (search intent only)",
  "reminder_message": "the reminder text with scheduling words removed (reminder intent only)",
  "reminder_time": "RFC 3339 timestamp of the requested time (reminder intent only, relative to the current time given below)",
  "recurrence": "standard 5-field cron expression for repeating reminders, empty for one-shot"
}

Examples:
- "I bought groceries today" -> {"intent": "memory", "confidence": 0.95, "reasoning": "sharing new information"}
- "What did I buy at the store?" -> {"intent": "search", "confidence": 0.9, "reasoning": "asking about previous information", "extracted_query": "groceries store shopping"}
- "Remind me to call mom at 5pm" -> {"intent": "reminder", "confidence": 0.95, "reasoning": "explicit reminder request", "reminder_message": "call mom", "reminder_time": "<today at 17:00 local>"}
- "Hello" -> {"intent": "memory", "confidence": 0.7, "reasoning": "greeting, treating as new interaction"}`

// OpenAIConfig holds configuration for the model-backed classifier.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout bounds each classification call (default: 15s).
	Timeout time.Duration

	// Logger is an optional structured logger.
	Logger *slog.Logger

	// Now supplies the current time given to the model for resolving
	// relative expressions like "tomorrow". Defaults to time.Now.
	Now func() time.Time
}

// OpenAIClassifier classifies messages with a chat-completion model.
type OpenAIClassifier struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

var _ Classifier = (*OpenAIClassifier)(nil)

// NewOpenAIClassifier creates a model-backed classifier.
func NewOpenAIClassifier(cfg OpenAIConfig) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errs.Validation("OpenAI API key is required", nil)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
		logger:  logger.With("component", "classifier"),
		now:     now,
	}, nil
}

type classifierReply struct {
	Intent          string  `json:"intent"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	ExtractedQuery  string  `json:"extracted_query"`
	ReminderMessage string  `json:"reminder_message"`
	ReminderTime    string  `json:"reminder_time"`
	Recurrence      string  `json:"recurrence"`
}

// Classify asks the model for a verdict. Malformed model output is a
// ClassifierError; callers degrade to memory on it.
func (c *OpenAIClassifier) Classify(ctx context.Context, message string) (*Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userPrompt := "Current time: " + c.now().Format(time.RFC3339) + "\nClassify this message: '" + message + "'"

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		MaxTokens:   300,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, errs.Classifier("classification request failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errs.Classifier("classification response has no choices", nil)
	}

	return c.parse(message, resp.Choices[0].Message.Content)
}

func (c *OpenAIClassifier) parse(message, raw string) (*Classification, error) {
	// Models occasionally wrap the JSON in prose or code fences.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, errs.Classifier("no JSON object in classification response", nil)
	}

	var reply classifierReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &reply); err != nil {
		return nil, errs.Classifier("parse classification response", err)
	}

	var intent models.Intent
	switch reply.Intent {
	case string(models.IntentMemory):
		intent = models.IntentMemory
	case string(models.IntentSearch):
		intent = models.IntentSearch
	case string(models.IntentReminder):
		intent = models.IntentReminder
	default:
		return nil, errs.Classifier("invalid intent "+reply.Intent, nil)
	}
	if reply.Confidence < 0 || reply.Confidence > 1 {
		return nil, errs.Classifier("confidence out of range", nil)
	}

	result := &Classification{
		Intent:     intent,
		Confidence: reply.Confidence,
		Reasoning:  reply.Reasoning,
		Recurrence: strings.TrimSpace(reply.Recurrence),
	}

	switch intent {
	case models.IntentSearch:
		result.Query = strings.TrimSpace(reply.ExtractedQuery)
		if result.Query == "" {
			result.Query = message
		}
	case models.IntentReminder:
		result.Message = strings.TrimSpace(reply.ReminderMessage)
		if result.Message == "" {
			result.Message = message
		}
		if reply.ReminderTime != "" {
			due, err := time.Parse(time.RFC3339, reply.ReminderTime)
			if err != nil {
				c.logger.Warn("unparseable reminder time from model", "value", reply.ReminderTime)
			} else {
				result.DueAt = due
			}
		}
	}

	c.logger.Debug("message classified",
		"intent", intent,
		"confidence", result.Confidence)
	return result, nil
}
