// Package ingest turns inbound channel events into persisted
// interactions. Ingestion is idempotent on the provider's message id:
// replaying an event returns the interaction stored the first time and
// performs no further side effects.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/recallhq/recall/internal/blob"
	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/internal/retry"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/internal/transcribe"
	"github.com/recallhq/recall/pkg/models"
)

// Result is the outcome of ingesting one event.
type Result struct {
	User        *models.User
	Interaction *models.Interaction

	// Duplicate reports that the event's dedup key was already
	// ingested; Interaction is the original row.
	Duplicate bool
}

// Coordinator runs the ingestion pipeline.
type Coordinator struct {
	users        storage.UserStore
	interactions storage.InteractionStore
	blobs        *blob.Store
	fetcher      Fetcher
	transcriber  transcribe.Transcriber
	retryCfg     retry.Config
	logger       *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTranscriber enables audio transcription. Without one, audio
// events are stored with a null transcript.
func WithTranscriber(t transcribe.Transcriber) CoordinatorOption {
	return func(c *Coordinator) { c.transcriber = t }
}

// WithRetryConfig overrides the media download retry policy.
func WithRetryConfig(cfg retry.Config) CoordinatorOption {
	return func(c *Coordinator) { c.retryCfg = cfg }
}

// WithLogger sets the logger for the coordinator.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger.With("component", "ingest") }
}

// NewCoordinator creates an ingestion coordinator.
func NewCoordinator(users storage.UserStore, interactions storage.InteractionStore, blobs *blob.Store, fetcher Fetcher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		users:        users,
		interactions: interactions,
		blobs:        blobs,
		fetcher:      fetcher,
		retryCfg:     retry.DefaultConfig(),
		logger:       slog.Default().With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ingest persists one inbound event. Steps: dedup-key check, user
// find-or-create, payload materialization (media download and audio
// transcription), interaction insert. A lost insert race on the dedup
// key resolves to the winner's row.
func (c *Coordinator) Ingest(ctx context.Context, event *models.InboundEvent) (*Result, error) {
	if event.ExternalID == "" {
		return nil, errs.Validation("event is missing a dedup key", nil)
	}
	if event.UserAddress == "" {
		return nil, errs.Validation("event is missing a sender address", nil)
	}

	existing, err := c.interactions.GetByExternalID(ctx, event.ExternalID)
	if err == nil {
		c.logger.Debug("duplicate event", "external_id", event.ExternalID)
		return c.duplicate(ctx, existing)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, errs.Storage("dedup key lookup", err)
	}

	user, err := c.users.FindOrCreate(ctx, event.UserAddress)
	if err != nil {
		return nil, errs.Storage("find or create user", err)
	}

	interaction := &models.Interaction{
		ExternalID: event.ExternalID,
		UserID:     user.ID,
		Type:       event.Type(),
		Content:    event.Text,
	}

	if event.HasMedia() {
		if err := c.materializeMedia(ctx, event, interaction); err != nil {
			return nil, err
		}
	}

	if err := c.interactions.Create(ctx, interaction); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Concurrent delivery of the same event; the other insert
			// won. Media writes are content-addressed, so nothing was
			// duplicated.
			winner, lookupErr := c.interactions.GetByExternalID(ctx, event.ExternalID)
			if lookupErr != nil {
				return nil, errs.Storage("fetch interaction after conflict", lookupErr)
			}
			return c.duplicate(ctx, winner)
		}
		return nil, errs.Storage("create interaction", err)
	}

	c.logger.Info("event ingested",
		"external_id", event.ExternalID,
		"interaction_id", interaction.ID,
		"type", interaction.Type,
		"has_media", interaction.MediaID != "")
	return &Result{User: user, Interaction: interaction}, nil
}

func (c *Coordinator) duplicate(ctx context.Context, interaction *models.Interaction) (*Result, error) {
	user, err := c.users.Get(ctx, interaction.UserID)
	if err != nil {
		return nil, errs.Storage("resolve interaction user", err)
	}
	return &Result{User: user, Interaction: interaction, Duplicate: true}, nil
}

// materializeMedia downloads the event's media with bounded retry,
// stores it content-addressed, and transcribes audio. Transcription
// failure degrades to a null transcript with the failure recorded in
// metadata; download failure fails the whole ingest.
func (c *Coordinator) materializeMedia(ctx context.Context, event *models.InboundEvent, interaction *models.Interaction) error {
	type payload struct {
		data        []byte
		contentType string
	}
	got, result := retry.DoWithValue(ctx, c.retryCfg, func() (payload, error) {
		data, contentType, err := c.fetcher.Fetch(ctx, event.MediaURL)
		return payload{data: data, contentType: contentType}, err
	})
	if result.Err != nil {
		c.logger.Error("media download failed",
			"external_id", event.ExternalID,
			"attempts", result.Attempts,
			"error", result.Err)
		return errs.Ingestion("media unreachable", result.Err)
	}

	mimeType := event.MediaMimeType
	if mimeType == "" {
		mimeType = got.contentType
	}

	media, created, err := c.blobs.Put(ctx, got.data, mimeType)
	if err != nil {
		return err
	}
	interaction.MediaID = media.ID
	interaction.Metadata.Media = media.Meta
	if !created {
		c.logger.Debug("media payload already stored",
			"external_id", event.ExternalID,
			"fingerprint", media.Fingerprint)
	}

	if interaction.Type != models.InteractionAudio {
		return nil
	}
	if c.transcriber == nil || !transcribe.IsSupportedMimeType(mimeType) {
		return nil
	}

	text, err := c.transcriber.Transcribe(ctx, bytes.NewReader(got.data), mimeType)
	if err != nil {
		c.logger.Warn("transcription failed, storing without transcript",
			"external_id", event.ExternalID,
			"error", err)
		interaction.Metadata.TranscriptionError = err.Error()
		return nil
	}
	interaction.Transcript = text
	return nil
}
