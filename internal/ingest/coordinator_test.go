package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/recallhq/recall/internal/blob"
	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/internal/retry"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/pkg/models"
)

type fakeFetcher struct {
	data        []byte
	contentType string
	errs        []error
	calls       int
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, "", err
		}
	}
	return f.data, f.contentType, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	f.calls++
	_, _ = io.ReadAll(audio)
	return f.text, f.err
}

type fixture struct {
	coordinator *Coordinator
	set         storage.StoreSet
	fetcher     *fakeFetcher
	transcriber *fakeTranscriber
}

func newFixture(t *testing.T, opts ...CoordinatorOption) *fixture {
	t.Helper()
	set := storage.NewMemoryStoreSet()
	blobs, err := blob.NewStore(t.TempDir(), set.Media)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	fetcher := &fakeFetcher{data: []byte("payload bytes"), contentType: "image/jpeg"}
	transcriber := &fakeTranscriber{text: "remind me to call mom"}

	fastRetry := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}
	base := []CoordinatorOption{WithTranscriber(transcriber), WithRetryConfig(fastRetry)}
	return &fixture{
		coordinator: NewCoordinator(set.Users, set.Interactions, blobs, fetcher, append(base, opts...)...),
		set:         set,
		fetcher:     fetcher,
		transcriber: transcriber,
	}
}

func TestIngestText(t *testing.T) {
	fix := newFixture(t)
	result, err := fix.coordinator.Ingest(context.Background(), &models.InboundEvent{
		ExternalID:  "SM1",
		UserAddress: "whatsapp:+15551230000",
		Text:        "I bought groceries",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Duplicate {
		t.Fatal("Ingest() reported duplicate")
	}
	if result.Interaction.Type != models.InteractionText || result.Interaction.Content != "I bought groceries" {
		t.Fatalf("Ingest() interaction = %+v", result.Interaction)
	}
	if result.User.Address != "whatsapp:+15551230000" {
		t.Fatalf("Ingest() user = %+v", result.User)
	}
	if fix.fetcher.calls != 0 {
		t.Fatalf("fetcher called %d times for a text event", fix.fetcher.calls)
	}
}

func TestIngestDuplicateHasNoSideEffects(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	event := &models.InboundEvent{
		ExternalID:    "SM2",
		UserAddress:   "whatsapp:+15551230000",
		MediaURL:      "https://media.example/m1",
		MediaMimeType: "image/jpeg",
	}

	first, err := fix.coordinator.Ingest(ctx, event)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	fetchesAfterFirst := fix.fetcher.calls

	second, err := fix.coordinator.Ingest(ctx, event)
	if err != nil {
		t.Fatalf("Ingest() replay error = %v", err)
	}
	if !second.Duplicate {
		t.Fatal("Ingest() replay not marked duplicate")
	}
	if second.Interaction.ID != first.Interaction.ID {
		t.Fatalf("Ingest() replay returned %s, want %s", second.Interaction.ID, first.Interaction.ID)
	}
	if fix.fetcher.calls != fetchesAfterFirst {
		t.Fatalf("replay downloaded media again: %d fetches", fix.fetcher.calls)
	}

	recent, err := fix.set.Interactions.ListRecent(ctx, first.User.ID, 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("replay created a second interaction: %d rows", len(recent))
	}
}

func TestIngestImageStoresMediaOnce(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	first, err := fix.coordinator.Ingest(ctx, &models.InboundEvent{
		ExternalID:    "SM3",
		UserAddress:   "whatsapp:+15551230000",
		MediaURL:      "https://media.example/a",
		MediaMimeType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if first.Interaction.Type != models.InteractionImage || first.Interaction.MediaID == "" {
		t.Fatalf("Ingest() interaction = %+v", first.Interaction)
	}

	// Same bytes under a different message id reuse the media row.
	second, err := fix.coordinator.Ingest(ctx, &models.InboundEvent{
		ExternalID:    "SM4",
		UserAddress:   "whatsapp:+15551230000",
		MediaURL:      "https://media.example/b",
		MediaMimeType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Ingest() second error = %v", err)
	}
	if second.Interaction.MediaID != first.Interaction.MediaID {
		t.Fatalf("identical payloads got distinct media rows: %s vs %s",
			second.Interaction.MediaID, first.Interaction.MediaID)
	}
}

func TestIngestAudioTranscribes(t *testing.T) {
	fix := newFixture(t)
	result, err := fix.coordinator.Ingest(context.Background(), &models.InboundEvent{
		ExternalID:    "SM5",
		UserAddress:   "whatsapp:+15551230000",
		MediaURL:      "https://media.example/voice",
		MediaMimeType: "audio/ogg",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Interaction.Type != models.InteractionAudio {
		t.Fatalf("Ingest() type = %s", result.Interaction.Type)
	}
	if result.Interaction.Transcript != "remind me to call mom" {
		t.Fatalf("Ingest() transcript = %q", result.Interaction.Transcript)
	}
	if fix.transcriber.calls != 1 {
		t.Fatalf("transcriber called %d times", fix.transcriber.calls)
	}
}

func TestIngestTranscriptionFailureDegrades(t *testing.T) {
	fix := newFixture(t)
	fix.transcriber.err = errors.New("whisper down")

	result, err := fix.coordinator.Ingest(context.Background(), &models.InboundEvent{
		ExternalID:    "SM6",
		UserAddress:   "whatsapp:+15551230000",
		MediaURL:      "https://media.example/voice",
		MediaMimeType: "audio/ogg",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Interaction.Transcript != "" {
		t.Fatalf("Ingest() transcript = %q, want empty", result.Interaction.Transcript)
	}
	if result.Interaction.MediaID == "" {
		t.Fatal("audio payload not stored despite transcription failure")
	}
	if result.Interaction.Metadata.TranscriptionError == "" {
		t.Fatal("transcription failure not recorded in metadata")
	}
}

func TestIngestMediaUnreachableAfterRetries(t *testing.T) {
	fix := newFixture(t)
	fix.fetcher.errs = []error{
		errors.New("timeout 1"),
		errors.New("timeout 2"),
		errors.New("timeout 3"),
	}

	_, err := fix.coordinator.Ingest(context.Background(), &models.InboundEvent{
		ExternalID:    "SM7",
		UserAddress:   "whatsapp:+15551230000",
		MediaURL:      "https://media.example/gone",
		MediaMimeType: "image/jpeg",
	})
	if errs.CodeOf(err) != errs.CodeIngestion {
		t.Fatalf("Ingest() error = %v, want ingestion error", err)
	}
	if fix.fetcher.calls != 3 {
		t.Fatalf("fetcher called %d times, want 3", fix.fetcher.calls)
	}
}

func TestIngestPermanentFetchErrorStopsRetrying(t *testing.T) {
	fix := newFixture(t)
	fix.fetcher.errs = []error{retry.Permanent(errors.New("404"))}

	_, err := fix.coordinator.Ingest(context.Background(), &models.InboundEvent{
		ExternalID:    "SM8",
		UserAddress:   "whatsapp:+15551230000",
		MediaURL:      "https://media.example/missing",
		MediaMimeType: "image/jpeg",
	})
	if err == nil {
		t.Fatal("Ingest() succeeded with permanent fetch error")
	}
	if fix.fetcher.calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", fix.fetcher.calls)
	}
}

func TestIngestValidation(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	_, err := fix.coordinator.Ingest(ctx, &models.InboundEvent{UserAddress: "x"})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("Ingest(no dedup key) error = %v", err)
	}
	_, err = fix.coordinator.Ingest(ctx, &models.InboundEvent{ExternalID: "SM9"})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("Ingest(no sender) error = %v", err)
	}
}

func TestIngestImageAttachesDescriptor(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	fix.fetcher.data = buf.Bytes()
	fix.fetcher.contentType = "image/png"

	result, err := fix.coordinator.Ingest(ctx, &models.InboundEvent{
		ExternalID:    "SM-desc",
		UserAddress:   "+15551230000",
		MediaURL:      "https://media.example/desc",
		MediaMimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	desc := result.Interaction.Metadata.Media
	if desc == nil {
		t.Fatal("interaction carries no media descriptor")
	}
	if desc.Width != 64 || desc.Height != 48 || desc.Format != "png" {
		t.Fatalf("descriptor = %+v", desc)
	}

	stored, err := fix.set.Interactions.GetByExternalID(ctx, "SM-desc")
	if err != nil {
		t.Fatalf("GetByExternalID() error = %v", err)
	}
	if stored.Metadata.Media == nil || stored.Metadata.Media.Width != 64 {
		t.Fatalf("stored metadata = %+v", stored.Metadata)
	}
}
