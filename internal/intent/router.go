package intent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/recallhq/recall/internal/memsvc"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/pkg/models"
)

// OutcomeKind names what the router did with an interaction.
type OutcomeKind string

const (
	OutcomeMemory   OutcomeKind = "memory_created"
	OutcomeSearch   OutcomeKind = "search_results"
	OutcomeReminder OutcomeKind = "reminder_scheduled"
)

// SearchHit is one semantic search result, joined with the local
// mirror row when one exists for the remote id.
type SearchHit struct {
	RemoteID string
	Content  string
	Score    float64
	Local    *models.Memory
}

// Outcome is the result of routing one interaction. Exactly one of
// Memory, Results, Reminder is populated, matching Kind.
type Outcome struct {
	Kind     OutcomeKind
	Memory   *models.Memory
	Results  []SearchHit
	Reminder *models.Reminder

	// Degraded reports that the router fell back to the memory path
	// because classification failed or was below threshold.
	Degraded bool
}

// RemoteStore is the slice of the memory service the router needs.
type RemoteStore interface {
	Add(ctx context.Context, userID, content, kind string, tags []string) (string, error)
	Update(ctx context.Context, remoteID, content string) error
	Search(ctx context.Context, userID, query string, limit int) ([]memsvc.SearchResult, error)
}

var _ RemoteStore = (*memsvc.Client)(nil)

// Scheduler enrolls reminders. Implemented by the reminder package.
type Scheduler interface {
	Schedule(ctx context.Context, userID, interactionID, message string, dueAt time.Time, recurrence string) (*models.Reminder, error)
}

const defaultConfidenceThreshold = 0.5

// Router classifies interactions and dispatches them to the memory
// mirror, semantic search, or the reminder scheduler.
type Router struct {
	classifier   Classifier
	memories     storage.MemoryStore
	interactions storage.InteractionStore
	media        storage.MediaStore
	remote       RemoteStore
	scheduler    Scheduler
	threshold    float64
	searchLimit  int
	logger       *slog.Logger
	now          func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithThreshold sets the confidence below which every classification
// falls back to the memory path.
func WithThreshold(threshold float64) RouterOption {
	return func(r *Router) { r.threshold = threshold }
}

// WithSearchLimit caps semantic search results.
func WithSearchLimit(limit int) RouterOption {
	return func(r *Router) { r.searchLimit = limit }
}

// WithLogger sets the logger for the router.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger.With("component", "router") }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates an intent router.
func NewRouter(classifier Classifier, memories storage.MemoryStore, interactions storage.InteractionStore, media storage.MediaStore, remote RemoteStore, scheduler Scheduler, opts ...RouterOption) *Router {
	r := &Router{
		classifier:   classifier,
		memories:     memories,
		interactions: interactions,
		media:        media,
		remote:       remote,
		scheduler:    scheduler,
		threshold:    defaultConfidenceThreshold,
		searchLimit:  5,
		logger:       slog.Default().With("component", "router"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route decides what an interaction asks for and executes it. The
// classification verdict, including degradations, is recorded in the
// interaction's metadata before Route returns.
func (r *Router) Route(ctx context.Context, user *models.User, interaction *models.Interaction) (*Outcome, error) {
	text := interaction.RoutableText()
	if text == "" {
		// Media without caption or transcript. There is nothing to
		// classify, so it becomes a memory described by the media row.
		return r.storeOpaqueMedia(ctx, user, interaction)
	}

	classification, err := r.classifier.Classify(ctx, text)
	record := models.ClassificationRecord{At: r.now().UTC()}
	degraded := false
	if err != nil {
		r.logger.Warn("classification failed, storing as memory",
			"interaction_id", interaction.ID,
			"error", err)
		classification = &Classification{Intent: models.IntentMemory, Reasoning: "classifier unavailable"}
		record.Error = err.Error()
		degraded = true
	} else if classification.Confidence < r.threshold {
		r.logger.Debug("classification below threshold, storing as memory",
			"interaction_id", interaction.ID,
			"intent", classification.Intent,
			"confidence", classification.Confidence)
		degraded = classification.Intent != models.IntentMemory
		classification = &Classification{
			Intent:     models.IntentMemory,
			Confidence: classification.Confidence,
			Reasoning:  classification.Reasoning,
		}
	}
	if classification.Intent == models.IntentReminder && classification.DueAt.IsZero() {
		// A reminder with no extractable time cannot be scheduled.
		classification = &Classification{
			Intent:     models.IntentMemory,
			Confidence: classification.Confidence,
			Reasoning:  "reminder without an extractable time",
		}
		degraded = true
	}

	record.Intent = classification.Intent
	record.Confidence = classification.Confidence
	record.Reasoning = classification.Reasoning
	record.Degraded = degraded
	if err := r.interactions.AttachMetadata(ctx, interaction.ID, models.InteractionMetadata{Classification: &record}); err != nil {
		return nil, err
	}

	switch classification.Intent {
	case models.IntentSearch:
		return r.search(ctx, user, interaction, classification.Query)
	case models.IntentReminder:
		reminder, err := r.scheduler.Schedule(ctx, user.ID, interaction.ID, classification.Message, classification.DueAt, classification.Recurrence)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeReminder, Reminder: reminder}, nil
	default:
		memory, err := r.storeMemory(ctx, user, interaction, text)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeMemory, Memory: memory, Degraded: degraded}, nil
	}
}

// storeMemory mirrors content into the remote service and the local
// store. A remote id already present locally means this content
// updates the existing row instead of inserting a duplicate.
func (r *Router) storeMemory(ctx context.Context, user *models.User, interaction *models.Interaction, content string) (*models.Memory, error) {
	kind := string(interaction.Type)

	remoteID, err := r.remote.Add(ctx, user.ID, content, kind, nil)
	if err != nil {
		// The local store is the durable side. A dead remote service
		// leaves the memory unsynced, never lost.
		r.logger.Warn("remote memory service unavailable, storing unsynced",
			"interaction_id", interaction.ID,
			"error", err)
		remoteID = ""
	}

	if remoteID != "" {
		existing, err := r.memories.GetByRemoteID(ctx, remoteID)
		if err == nil {
			if err := r.memories.UpdateContent(ctx, existing.ID, content); err != nil {
				return nil, err
			}
			existing.Content = content
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	memory := &models.Memory{
		RemoteID:      remoteID,
		UserID:        user.ID,
		InteractionID: interaction.ID,
		Content:       content,
		Kind:          kind,
	}
	if err := r.memories.Create(ctx, memory); err != nil {
		return nil, err
	}
	return memory, nil
}

func (r *Router) storeOpaqueMedia(ctx context.Context, user *models.User, interaction *models.Interaction) (*Outcome, error) {
	desc := "Received " + string(interaction.Type)
	if interaction.MediaID != "" {
		if media, err := r.media.Get(ctx, interaction.MediaID); err == nil {
			desc = media.Description()
		}
	}

	record := models.ClassificationRecord{
		Intent:     models.IntentMemory,
		Confidence: 1,
		Reasoning:  "non-text interaction stored as memory",
		At:         r.now().UTC(),
	}
	if err := r.interactions.AttachMetadata(ctx, interaction.ID, models.InteractionMetadata{Classification: &record}); err != nil {
		return nil, err
	}

	memory, err := r.storeMemory(ctx, user, interaction, desc)
	if err != nil {
		return nil, err
	}
	return &Outcome{Kind: OutcomeMemory, Memory: memory}, nil
}

func (r *Router) search(ctx context.Context, user *models.User, interaction *models.Interaction, query string) (*Outcome, error) {
	hits, err := r.Search(ctx, user, query)
	if err != nil {
		return nil, err
	}

	err = r.interactions.AttachMetadata(ctx, interaction.ID, models.InteractionMetadata{
		Search: &models.SearchRecord{Query: query, ResultCount: len(hits)},
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Kind: OutcomeSearch, Results: hits}, nil
}

// Search runs a semantic query for a user and joins each hit with the
// local mirror row when one exists.
func (r *Router) Search(ctx context.Context, user *models.User, query string) ([]SearchHit, error) {
	results, err := r.remote.Search(ctx, user.ID, query, r.searchLimit)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		hit := SearchHit{RemoteID: res.ID, Content: res.Content, Score: res.Score}
		local, err := r.memories.GetByRemoteID(ctx, res.ID)
		if err == nil {
			hit.Local = local
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// CreateMemory stores content as a memory directly, bypassing
// classification. The REST API uses it for explicit memory creation.
func (r *Router) CreateMemory(ctx context.Context, user *models.User, interaction *models.Interaction, content string) (*models.Memory, error) {
	return r.storeMemory(ctx, user, interaction, content)
}
