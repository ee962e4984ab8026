// Package storage persists users, interactions, media references,
// memories, and reminders. The dedup-key and fingerprint uniqueness
// constraints live here, implemented as unique constraints with
// insert-or-fetch semantics rather than application-level locks.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/recallhq/recall/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotPending    = errors.New("reminder is not pending")
)

// UserStore persists channel users.
type UserStore interface {
	// FindOrCreate resolves the user for a channel address, creating
	// it on first contact. Concurrent first-contact from the same
	// address must not create two rows.
	FindOrCreate(ctx context.Context, address string) (*models.User, error)
	Get(ctx context.Context, id string) (*models.User, error)
}

// InteractionStore persists inbound event records.
type InteractionStore interface {
	// Create inserts a new interaction. Returns ErrAlreadyExists when
	// an interaction with the same external dedup key is present.
	Create(ctx context.Context, interaction *models.Interaction) error
	Get(ctx context.Context, id string) (*models.Interaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Interaction, error)
	// AttachMetadata merges derived metadata onto an existing row. The
	// row itself is immutable otherwise.
	AttachMetadata(ctx context.Context, id string, meta models.InteractionMetadata) error
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.Interaction, error)
}

// MediaStore persists media rows keyed by content fingerprint. Blob
// bytes live on disk under internal/blob; this store holds the
// references only.
type MediaStore interface {
	// Create inserts a media row. Returns ErrAlreadyExists when a row
	// with the same fingerprint is present.
	Create(ctx context.Context, media *models.Media) error
	Get(ctx context.Context, id string) (*models.Media, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.Media, error)
}

// MemoryStore persists local mirrors of remote semantic memories.
type MemoryStore interface {
	Create(ctx context.Context, memory *models.Memory) error
	Get(ctx context.Context, id string) (*models.Memory, error)
	// GetByRemoteID looks a memory up by its remote identifier. An
	// empty remoteID never matches: unsynced memories are not
	// duplicate keys.
	GetByRemoteID(ctx context.Context, remoteID string) (*models.Memory, error)
	UpdateContent(ctx context.Context, id, content string) error
	List(ctx context.Context, userID string, limit int) ([]*models.Memory, error)
}

// ReminderStore persists scheduled deliveries. The status column is
// the single point of mutual exclusion for the dispatch loop: every
// transition out of pending is a conditional update.
type ReminderStore interface {
	Create(ctx context.Context, reminder *models.Reminder) error
	Get(ctx context.Context, id string) (*models.Reminder, error)
	// DueBefore returns unclaimed pending reminders with a due time at
	// or before t, earliest-due first.
	DueBefore(ctx context.Context, t time.Time, limit int) ([]*models.Reminder, error)
	// Claim atomically marks a pending reminder as in-flight for
	// dispatch. Returns false when the reminder is no longer pending
	// or is already claimed by another dispatcher.
	Claim(ctx context.Context, id string) (bool, error)
	// MarkSent transitions pending -> sent and releases the claim.
	// Returns ErrNotFound for unknown ids and ErrNotPending when the
	// status has already left pending.
	MarkSent(ctx context.Context, id string, at time.Time) error
	// RecordFailure increments the attempt count, stores the delivery
	// error, and releases the claim while keeping the status pending.
	RecordFailure(ctx context.Context, id string, deliveryErr string) error
	// MarkFailed transitions pending -> failed after retries exhaust.
	// Same error contract as MarkSent.
	MarkFailed(ctx context.Context, id string, deliveryErr string) error
	// Cancel transitions pending -> cancelled. Returns ErrNotFound for
	// unknown ids and ErrNotPending when the reminder already fired.
	Cancel(ctx context.Context, id string) error
	// ResetClaims clears stale in-flight markers, run once at
	// scheduler start to recover from a crash mid-dispatch.
	ResetClaims(ctx context.Context) error
	List(ctx context.Context, userID string, limit int) ([]*models.Reminder, error)
}

// AnalyticsSummary aggregates a user's stored activity.
type AnalyticsSummary struct {
	MemoryKinds      map[string]int `json:"memory_types"`
	InteractionTypes map[string]int `json:"interaction_types"`
	LastIngestAt     time.Time      `json:"last_ingest_time,omitempty"`
	TopTags          map[string]int `json:"top_tags"`
	TotalMemories    int            `json:"total_memories"`
	TotalInteraction int            `json:"total_interactions"`
}

// AnalyticsStore serves the reporting read endpoint.
type AnalyticsStore interface {
	Summary(ctx context.Context, userID string) (*AnalyticsSummary, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Users        UserStore
	Interactions InteractionStore
	Media        MediaStore
	Memories     MemoryStore
	Reminders    ReminderStore
	Analytics    AnalyticsStore
	closer       func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
