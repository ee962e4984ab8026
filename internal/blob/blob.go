// Package blob stores media bytes on disk, content-addressed by the
// SHA-256 of the payload. Identical payloads always resolve to the same
// media row and the same file, regardless of how often they arrive.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/internal/observability"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/pkg/models"
)

const thumbnailMaxEdge = 256

// Store writes payloads under a root directory and records one media
// row per distinct fingerprint.
type Store struct {
	root    string
	media   storage.MediaStore
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "blob")
	}
}

// WithMetrics enables write counters on the store.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// NewStore creates a content-addressed store rooted at dir. The
// directory is created if it does not exist.
func NewStore(dir string, media storage.MediaStore, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Storage(fmt.Sprintf("create media root %s", dir), err)
	}
	s := &Store{
		root:   dir,
		media:  media,
		logger: slog.Default().With("component", "blob"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put stores data and returns the media row for its fingerprint. When a
// row with the same fingerprint already exists, the existing row is
// returned unchanged and nothing is written. The second return reports
// whether the payload was new.
func (s *Store) Put(ctx context.Context, data []byte, mimeType string) (*models.Media, bool, error) {
	if len(data) == 0 {
		return nil, false, errs.Validation("empty media payload", nil)
	}

	sum := sha256.Sum256(data)
	fingerprint := hex.EncodeToString(sum[:])

	existing, err := s.media.GetByFingerprint(ctx, fingerprint)
	if err == nil {
		s.recordStore(existing.Kind, "existing")
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, errs.Storage("look up media fingerprint", err)
	}

	kind := models.KindForMIME(mimeType)
	path := filepath.Join(s.root, fingerprint+extensionFor(mimeType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, false, errs.Storage(fmt.Sprintf("write media blob %s", path), err)
	}

	media := &models.Media{
		Fingerprint: fingerprint,
		Kind:        kind,
		Path:        path,
		Size:        int64(len(data)),
		MimeType:    mimeType,
	}
	if kind == models.MediaImage {
		media.Meta = s.describeImage(fingerprint, data)
	}

	if err := s.media.Create(ctx, media); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Lost a race with a concurrent upload of the same bytes.
			// The file on disk is identical, so the winner's row is
			// the answer.
			winner, lookupErr := s.media.GetByFingerprint(ctx, fingerprint)
			if lookupErr != nil {
				return nil, false, errs.Storage("fetch media after conflict", lookupErr)
			}
			s.recordStore(winner.Kind, "existing")
			return winner, false, nil
		}
		return nil, false, errs.Storage("create media row", err)
	}

	s.logger.Debug("stored media blob",
		"fingerprint", fingerprint,
		"kind", kind,
		"size", len(data))
	s.recordStore(kind, "new")
	return media, true, nil
}

func (s *Store) recordStore(kind models.MediaKind, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.MediaStored.WithLabelValues(string(kind), result).Inc()
}

// Open returns the stored bytes for a media row.
func (s *Store) Open(media *models.Media) ([]byte, error) {
	data, err := os.ReadFile(media.Path)
	if err != nil {
		return nil, errs.Storage(fmt.Sprintf("read media blob %s", media.Path), err)
	}
	return data, nil
}

// describeImage decodes image dimensions and renders a thumbnail.
// Failures are logged and leave the descriptor partially filled; a
// media row without dimensions is still usable.
func (s *Store) describeImage(fingerprint string, data []byte) *models.MediaDescriptor {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("undecodable image payload", "fingerprint", fingerprint, "error", err)
		return nil
	}
	desc := &models.MediaDescriptor{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}

	thumbPath, err := s.writeThumbnail(fingerprint, data)
	if err != nil {
		s.logger.Warn("thumbnail generation failed", "fingerprint", fingerprint, "error", err)
		return desc
	}
	desc.ThumbnailPath = thumbPath
	return desc
}

func (s *Store) writeThumbnail(fingerprint string, data []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= thumbnailMaxEdge && h <= thumbnailMaxEdge {
		return "", nil
	}
	if w >= h {
		h = h * thumbnailMaxEdge / w
		w = thumbnailMaxEdge
	} else {
		w = w * thumbnailMaxEdge / h
		h = thumbnailMaxEdge
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	path := filepath.Join(s.root, fingerprint+".thumb.jpg")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := jpeg.Encode(f, dst, &jpeg.Options{Quality: 80}); err != nil {
		return "", err
	}
	return path, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/amr":
		return ".amr"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}
