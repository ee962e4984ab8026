package intent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/recallhq/recall/pkg/models"
)

func TestHeuristicClassifier(t *testing.T) {
	tests := []struct {
		message string
		want    models.Intent
	}{
		{"I bought groceries today", models.IntentMemory},
		{"My new haircut looks great", models.IntentMemory},
		{"What did I buy at the store?", models.IntentSearch},
		{"show me my recent photos", models.IntentSearch},
		{"Is the meeting still on", models.IntentMemory},
		{"Is the meeting still on?", models.IntentSearch},
	}
	for _, tt := range tests {
		got, err := HeuristicClassifier{}.Classify(context.Background(), tt.message)
		if err != nil {
			t.Fatalf("Classify(%q) error = %v", tt.message, err)
		}
		if got.Intent != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.message, got.Intent, tt.want)
		}
		if got.Intent == models.IntentSearch && got.Query == "" {
			t.Errorf("Classify(%q) search verdict without query", tt.message)
		}
	}
}

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newOpenAIClassifier(t *testing.T, serverURL string) *OpenAIClassifier {
	t.Helper()
	c, err := NewOpenAIClassifier(OpenAIConfig{APIKey: "test-key", BaseURL: serverURL})
	if err != nil {
		t.Fatalf("NewOpenAIClassifier() error = %v", err)
	}
	return c
}

func TestOpenAIClassifierMemory(t *testing.T) {
	server := chatServer(t, `{"intent": "memory", "confidence": 0.95, "reasoning": "sharing new information"}`)
	defer server.Close()

	got, err := newOpenAIClassifier(t, server.URL).Classify(context.Background(), "I bought groceries")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != models.IntentMemory || got.Confidence != 0.95 {
		t.Fatalf("Classify() = %+v", got)
	}
}

func TestOpenAIClassifierReminder(t *testing.T) {
	server := chatServer(t, "Here is the classification:\n"+
		`{"intent": "reminder", "confidence": 0.92, "reasoning": "explicit reminder request", "reminder_message": "call mom", "reminder_time": "2026-09-01T17:00:00Z"}`)
	defer server.Close()

	got, err := newOpenAIClassifier(t, server.URL).Classify(context.Background(), "Remind me to call mom at 5pm")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != models.IntentReminder {
		t.Fatalf("Classify() intent = %s", got.Intent)
	}
	if got.Message != "call mom" {
		t.Fatalf("Classify() message = %q", got.Message)
	}
	want := time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC)
	if !got.DueAt.Equal(want) {
		t.Fatalf("Classify() due = %v", got.DueAt)
	}
}

func TestOpenAIClassifierSearchDefaultsQuery(t *testing.T) {
	server := chatServer(t, `{"intent": "search", "confidence": 0.9, "reasoning": "asking"}`)
	defer server.Close()

	got, err := newOpenAIClassifier(t, server.URL).Classify(context.Background(), "what was my list?")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Query != "what was my list?" {
		t.Fatalf("Classify() query = %q", got.Query)
	}
}

func TestOpenAIClassifierRejectsGarbage(t *testing.T) {
	tests := []string{
		"no json here at all",
		`{"intent": "banana", "confidence": 0.9, "reasoning": "x"}`,
		`{"intent": "memory", "confidence": 7.0, "reasoning": "x"}`,
	}
	for _, content := range tests {
		server := chatServer(t, content)
		_, err := newOpenAIClassifier(t, server.URL).Classify(context.Background(), "hello")
		server.Close()
		if err == nil {
			t.Errorf("Classify() accepted response %q", content)
		}
	}
}

func TestOpenAIClassifierUnparseableTimeLeavesZero(t *testing.T) {
	server := chatServer(t, `{"intent": "reminder", "confidence": 0.9, "reasoning": "x", "reminder_message": "stretch", "reminder_time": "five o'clock"}`)
	defer server.Close()

	got, err := newOpenAIClassifier(t, server.URL).Classify(context.Background(), "remind me to stretch at five")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !got.DueAt.IsZero() {
		t.Fatalf("Classify() due = %v, want zero", got.DueAt)
	}
}
