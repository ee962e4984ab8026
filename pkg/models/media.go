package models

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind is the broad category of a stored blob.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
	MediaOther MediaKind = "other"
)

// KindForMIME maps a MIME type to a MediaKind.
func KindForMIME(mimeType string) MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaImage
	case strings.HasPrefix(mimeType, "audio/"):
		return MediaAudio
	case strings.HasPrefix(mimeType, "video/"):
		return MediaVideo
	default:
		return MediaOther
	}
}

// Media is one physical blob, identified by the SHA-256 fingerprint of
// its bytes. The fingerprint uniquely determines the storage path;
// many Interactions may reference the same row. Rows are created once
// per distinct fingerprint and never mutated or deleted.
type Media struct {
	ID          string           `json:"id"`
	Fingerprint string           `json:"fingerprint"`
	Kind        MediaKind        `json:"kind"`
	Path        string           `json:"path"`
	Size        int64            `json:"size"`
	MimeType    string           `json:"mime_type"`
	Meta        *MediaDescriptor `json:"meta,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// MediaDescriptor holds kind-specific derived metadata.
type MediaDescriptor struct {
	// Image fields, zero for non-images.
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`

	// ThumbnailPath points at a downscaled copy, images only.
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

// Description returns a short human-readable summary used when a
// non-text interaction is stored as a memory.
func (m *Media) Description() string {
	if m.Meta != nil && m.Meta.Width > 0 {
		return fmt.Sprintf("%s %s %dx%d", m.Kind, m.MimeType, m.Meta.Width, m.Meta.Height)
	}
	return fmt.Sprintf("%s %s", m.Kind, m.MimeType)
}
