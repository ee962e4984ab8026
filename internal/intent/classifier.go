// Package intent decides what an ingested interaction asks for: store
// it as a memory, search existing memories, or schedule a reminder.
package intent

import (
	"context"
	"strings"
	"time"

	"github.com/recallhq/recall/pkg/models"
)

// Classification is a classifier's verdict on a message.
type Classification struct {
	// Intent is one of models.IntentMemory, IntentSearch,
	// IntentReminder.
	Intent models.Intent

	// Confidence is the classifier's self-reported certainty in [0, 1].
	Confidence float64

	// Reasoning is a short explanation, kept for the interaction's
	// classification metadata.
	Reasoning string

	// Query is the extracted search query. Set only for search intent.
	Query string

	// Message is the reminder text with scheduling words stripped
	// ("call mom", not "remind me to call mom at 5pm"). Set only for
	// reminder intent.
	Message string

	// DueAt is the extracted reminder time. Zero when the classifier
	// found an intent to be reminded but no usable time.
	DueAt time.Time

	// Recurrence is a cron expression for repeating reminders, empty
	// for one-shot.
	Recurrence string
}

// Classifier turns a message into a Classification.
type Classifier interface {
	Classify(ctx context.Context, message string) (*Classification, error)
}

// HeuristicClassifier classifies without a model. It is the fallback
// when no API key is configured or the model call fails, and it only
// distinguishes memory from search; reminder intent needs time
// extraction a keyword scan cannot do.
type HeuristicClassifier struct{}

var _ Classifier = (*HeuristicClassifier)(nil)

var searchIndicators = []string{
	"what", "when", "where", "who", "why", "how",
	"show me", "find", "search", "look for", "recall",
	"remember", "what did", "what was",
	"do you remember", "can you find", "where is",
}

// Classify applies keyword and question-mark heuristics.
func (HeuristicClassifier) Classify(_ context.Context, message string) (*Classification, error) {
	lower := strings.ToLower(strings.TrimSpace(message))

	isSearch := strings.HasSuffix(lower, "?")
	if !isSearch {
		for _, indicator := range searchIndicators {
			if strings.Contains(lower, indicator) {
				isSearch = true
				break
			}
		}
	}

	if isSearch {
		return &Classification{
			Intent:     models.IntentSearch,
			Confidence: 0.8,
			Reasoning:  "keyword heuristics matched search indicators",
			Query:      strings.TrimSpace(message),
		}, nil
	}
	return &Classification{
		Intent:     models.IntentMemory,
		Confidence: 0.7,
		Reasoning:  "no search indicators, defaulting to memory",
	}, nil
}
