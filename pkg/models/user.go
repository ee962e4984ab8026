package models

import "time"

// User is one messaging-channel identity. Users are created lazily on
// first contact; the address is immutable once assigned.
type User struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"` // Channel address, e.g. "+15551234567"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Memory mirrors a record held by the remote semantic memory service.
// RemoteID is unique once known; an empty RemoteID denotes a memory
// not yet synced with the remote store and is never treated as a
// duplicate key. Every memory created through the ingestion path is
// traceable to exactly one Interaction.
type Memory struct {
	ID            string    `json:"id"`
	RemoteID      string    `json:"remote_id,omitempty"`
	UserID        string    `json:"user_id"`
	InteractionID string    `json:"interaction_id,omitempty"`
	Content       string    `json:"content"`
	Kind          string    `json:"kind"` // text, image, audio
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
