package models

import (
	"time"
)

// InteractionType classifies an inbound event by its payload.
type InteractionType string

const (
	InteractionText    InteractionType = "text"
	InteractionImage   InteractionType = "image"
	InteractionAudio   InteractionType = "audio"
	InteractionCommand InteractionType = "command"
)

// Intent is the classified purpose of a text interaction.
type Intent string

const (
	IntentMemory   Intent = "memory"
	IntentSearch   Intent = "search"
	IntentReminder Intent = "reminder"
)

// Interaction is one durable record of an inbound event. The external
// dedup key is globally unique: at most one Interaction exists per
// provider message, no matter how many times the provider retransmits.
// Rows are never mutated after creation except to attach derived
// metadata (transcript, classification) once it becomes available.
type Interaction struct {
	ID         string              `json:"id"`
	ExternalID string              `json:"external_id"` // Provider-issued dedup key
	UserID     string              `json:"user_id"`
	Type       InteractionType     `json:"type"`
	Content    string              `json:"content,omitempty"`
	MediaID    string              `json:"media_id,omitempty"`
	Transcript string              `json:"transcript,omitempty"`
	Metadata   InteractionMetadata `json:"metadata,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// HasText reports whether the interaction carries routable text:
// either an inline text body or a non-empty audio transcript.
func (i *Interaction) HasText() bool {
	switch i.Type {
	case InteractionText, InteractionCommand:
		return i.Content != ""
	case InteractionAudio:
		return i.Transcript != ""
	default:
		return false
	}
}

// RoutableText returns the text the intent router should classify.
func (i *Interaction) RoutableText() string {
	if i.Type == InteractionAudio {
		return i.Transcript
	}
	return i.Content
}

// InteractionMetadata holds derived, well-typed metadata attached to an
// interaction after creation. Each field is a tagged variant owned by
// one processing branch; unset fields are omitted from storage.
type InteractionMetadata struct {
	Classification *ClassificationRecord `json:"classification,omitempty"`
	Search         *SearchRecord         `json:"search,omitempty"`
	Media          *MediaDescriptor      `json:"media,omitempty"`

	// TranscriptionError records a failed transcription attempt. The
	// interaction still persists with an empty transcript because the
	// raw audio remains a valid stored artifact.
	TranscriptionError string `json:"transcription_error,omitempty"`
}

// IsZero reports whether no metadata variant has been attached.
func (m InteractionMetadata) IsZero() bool {
	return m.Classification == nil && m.Search == nil && m.Media == nil && m.TranscriptionError == ""
}

// ClassificationRecord captures the classifier verdict for an
// interaction, including degraded fallbacks.
type ClassificationRecord struct {
	Intent     Intent    `json:"intent"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"` // Classifier unavailable, defaulted to memory
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// SearchRecord captures the query a search-intent interaction ran.
type SearchRecord struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count"`
}
