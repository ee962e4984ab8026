// Package transcribe converts voice notes to text.
package transcribe

import (
	"context"
	"io"
	"strings"

	"github.com/recallhq/recall/internal/errs"
)

// Transcriber transcribes audio to text.
type Transcriber interface {
	// Transcribe returns the text of an audio payload. mimeType guides
	// container selection; an unsupported type is an error.
	Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error)
}

var supportedMimeTypes = map[string]bool{
	"audio/flac": true,
	"audio/m4a":  true,
	"audio/mp3":  true,
	"audio/mp4":  true,
	"audio/mpeg": true,
	"audio/mpga": true,
	"audio/ogg":  true,
	"audio/opus": true,
	"audio/wav":  true,
	"audio/webm": true,
	"audio/x-m4a": true,
	"audio/x-wav": true,
}

// IsSupportedMimeType reports whether audio of this MIME type can be
// transcribed. Parameters after ";" are ignored, so WhatsApp's
// "audio/ogg; codecs=opus" passes.
func IsSupportedMimeType(mimeType string) bool {
	lower := strings.ToLower(mimeType)
	if idx := strings.Index(lower, ";"); idx != -1 {
		lower = strings.TrimSpace(lower[:idx])
	}
	return supportedMimeTypes[lower]
}

// filenameFor maps a MIME type to a filename with an extension the
// transcription API recognizes.
func filenameFor(mimeType string) (string, error) {
	lower := strings.ToLower(mimeType)
	if idx := strings.Index(lower, ";"); idx != -1 {
		lower = strings.TrimSpace(lower[:idx])
	}
	switch lower {
	case "audio/flac":
		return "audio.flac", nil
	case "audio/m4a", "audio/mp4", "audio/x-m4a":
		return "audio.m4a", nil
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3", nil
	case "audio/mpga":
		return "audio.mpga", nil
	case "audio/ogg", "audio/opus":
		return "audio.ogg", nil
	case "audio/wav", "audio/x-wav":
		return "audio.wav", nil
	case "audio/webm":
		return "audio.webm", nil
	default:
		return "", errs.Transcription("unsupported audio type "+mimeType, nil)
	}
}
