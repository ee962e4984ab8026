package models

// InboundEvent is the normalized shape of one message delivered by the
// channel transport. ExternalID is the provider-issued dedup key; the
// ingestion path guarantees at-most-once effective processing per
// ExternalID regardless of upstream retransmission.
type InboundEvent struct {
	ExternalID    string `json:"external_id"`
	UserAddress   string `json:"user_address"`
	Text          string `json:"text,omitempty"`
	MediaURL      string `json:"media_url,omitempty"`
	MediaMimeType string `json:"media_mime_type,omitempty"`
}

// HasMedia reports whether the event carries a media attachment.
func (e *InboundEvent) HasMedia() bool {
	return e.MediaURL != ""
}

// Type derives the interaction type from the event payload.
func (e *InboundEvent) Type() InteractionType {
	if e.HasMedia() {
		switch KindForMIME(e.MediaMimeType) {
		case MediaAudio:
			return InteractionAudio
		default:
			return InteractionImage
		}
	}
	if len(e.Text) > 0 && e.Text[0] == '/' {
		return InteractionCommand
	}
	return InteractionText
}
