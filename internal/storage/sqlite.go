package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/recallhq/recall/pkg/models"
)

// SQLiteConfig configures the SQLite store set.
type SQLiteConfig struct {
	Path string // Path to the database file, ":memory:" for tests
}

// NewSQLite opens (creating if needed) a SQLite-backed StoreSet.
func NewSQLite(cfg SQLiteConfig) (StoreSet, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY under concurrent ingestion.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return StoreSet{}, err
	}

	return StoreSet{
		Users:        &sqliteUserStore{db: db},
		Interactions: &sqliteInteractionStore{db: db},
		Media:        &sqliteMediaStore{db: db},
		Memories:     &sqliteMemoryStore{db: db},
		Reminders:    &sqliteReminderStore{db: db},
		Analytics:    &sqliteAnalyticsStore{db: db},
		closer:       db.Close,
	}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS media (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			mime_type TEXT NOT NULL,
			meta TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL REFERENCES users(id),
			type TEXT NOT NULL,
			content TEXT,
			media_id TEXT REFERENCES media(id),
			transcript TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			remote_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL REFERENCES users(id),
			interaction_id TEXT REFERENCES interactions(id),
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			tags TEXT,
			created_at INTEGER NOT NULL
		)`,
		// Nullable-unique: an empty remote_id marks a memory not yet
		// synced with the remote store and is not a duplicate key.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_remote ON memories(remote_id) WHERE remote_id <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			interaction_id TEXT REFERENCES interactions(id),
			message TEXT NOT NULL,
			due_at INTEGER NOT NULL,
			tz_offset INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			recurrence TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			claimed INTEGER NOT NULL DEFAULT 0,
			sent_at INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, due_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type sqliteUserStore struct {
	db *sql.DB
}

func (s *sqliteUserStore) FindOrCreate(ctx context.Context, address string) (*models.User, error) {
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	now := time.Now().UTC()
	// Upsert instead of check-then-insert: the unique constraint on
	// address resolves concurrent first-contact races.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, address, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET updated_at = excluded.updated_at`,
		uuid.NewString(), address, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, address, created_at, updated_at FROM users WHERE address = ?`, address)
	return scanUser(row)
}

func (s *sqliteUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, address, created_at, updated_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var created, updated int64
	if err := row.Scan(&u.ID, &u.Address, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	u.UpdatedAt = time.Unix(0, updated).UTC()
	return &u, nil
}

type sqliteInteractionStore struct {
	db *sql.DB
}

func (s *sqliteInteractionStore) Create(ctx context.Context, interaction *models.Interaction) error {
	if interaction == nil || interaction.ExternalID == "" {
		return fmt.Errorf("interaction with external id is required")
	}
	if interaction.ID == "" {
		interaction.ID = uuid.NewString()
	}
	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMetadata(interaction.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, external_id, user_id, type, content, media_id, transcript, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		interaction.ID, interaction.ExternalID, interaction.UserID, string(interaction.Type),
		interaction.Content, nullString(interaction.MediaID), interaction.Transcript,
		meta, interaction.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

const interactionColumns = `id, external_id, user_id, type, content, media_id, transcript, metadata, created_at`

func (s *sqliteInteractionStore) Get(ctx context.Context, id string) (*models.Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	return scanInteraction(row)
}

func (s *sqliteInteractionStore) GetByExternalID(ctx context.Context, externalID string) (*models.Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE external_id = ?`, externalID)
	return scanInteraction(row)
}

func (s *sqliteInteractionStore) AttachMetadata(ctx context.Context, id string, meta models.InteractionMetadata) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := mergeMetadata(existing.Metadata, meta)
	data, err := marshalMetadata(merged)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET metadata = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("attach metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteInteractionStore) ListRecent(ctx context.Context, userID string, limit int) ([]*models.Interaction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Interaction
	for rows.Next() {
		i, err := scanInteractionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteractionFrom(sc rowScanner) (*models.Interaction, error) {
	var i models.Interaction
	var mediaID sql.NullString
	var meta sql.NullString
	var created int64
	var typ string
	err := sc.Scan(&i.ID, &i.ExternalID, &i.UserID, &typ, &i.Content, &mediaID, &i.Transcript, &meta, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	i.Type = models.InteractionType(typ)
	i.MediaID = mediaID.String
	i.CreatedAt = time.Unix(0, created).UTC()
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &i.Metadata); err != nil {
			return nil, fmt.Errorf("decode interaction metadata: %w", err)
		}
	}
	return &i, nil
}

func scanInteraction(row *sql.Row) (*models.Interaction, error) {
	return scanInteractionFrom(row)
}

func scanInteractionRows(rows *sql.Rows) (*models.Interaction, error) {
	return scanInteractionFrom(rows)
}

func marshalMetadata(meta models.InteractionMetadata) (string, error) {
	if meta.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode interaction metadata: %w", err)
	}
	return string(data), nil
}

// mergeMetadata overlays the set variants of next onto prev so that
// attaching one variant never clobbers another.
func mergeMetadata(prev, next models.InteractionMetadata) models.InteractionMetadata {
	if next.Classification != nil {
		prev.Classification = next.Classification
	}
	if next.Search != nil {
		prev.Search = next.Search
	}
	if next.Media != nil {
		prev.Media = next.Media
	}
	if next.TranscriptionError != "" {
		prev.TranscriptionError = next.TranscriptionError
	}
	return prev
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type sqliteMediaStore struct {
	db *sql.DB
}

func (s *sqliteMediaStore) Create(ctx context.Context, media *models.Media) error {
	if media == nil || media.Fingerprint == "" {
		return fmt.Errorf("media with fingerprint is required")
	}
	if media.ID == "" {
		media.ID = uuid.NewString()
	}
	if media.CreatedAt.IsZero() {
		media.CreatedAt = time.Now().UTC()
	}
	var meta string
	if media.Meta != nil {
		data, err := json.Marshal(media.Meta)
		if err != nil {
			return fmt.Errorf("encode media meta: %w", err)
		}
		meta = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media (id, fingerprint, kind, path, size, mime_type, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		media.ID, media.Fingerprint, string(media.Kind), media.Path, media.Size,
		media.MimeType, meta, media.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

const mediaColumns = `id, fingerprint, kind, path, size, mime_type, meta, created_at`

func (s *sqliteMediaStore) Get(ctx context.Context, id string) (*models.Media, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
	return scanMedia(row)
}

func (s *sqliteMediaStore) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Media, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE fingerprint = ?`, fingerprint)
	return scanMedia(row)
}

func scanMedia(row *sql.Row) (*models.Media, error) {
	var m models.Media
	var kind string
	var meta sql.NullString
	var created int64
	err := row.Scan(&m.ID, &m.Fingerprint, &kind, &m.Path, &m.Size, &m.MimeType, &meta, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Kind = models.MediaKind(kind)
	m.CreatedAt = time.Unix(0, created).UTC()
	if meta.Valid && meta.String != "" {
		m.Meta = &models.MediaDescriptor{}
		if err := json.Unmarshal([]byte(meta.String), m.Meta); err != nil {
			return nil, fmt.Errorf("decode media meta: %w", err)
		}
	}
	return &m, nil
}

type sqliteMemoryStore struct {
	db *sql.DB
}

func (s *sqliteMemoryStore) Create(ctx context.Context, memory *models.Memory) error {
	if memory == nil || memory.Content == "" {
		return fmt.Errorf("memory with content is required")
	}
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}
	tags, err := json.Marshal(memory.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, remote_id, user_id, interaction_id, content, kind, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		memory.ID, memory.RemoteID, memory.UserID, nullString(memory.InteractionID),
		memory.Content, memory.Kind, string(tags), memory.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

const memoryColumns = `id, remote_id, user_id, interaction_id, content, kind, tags, created_at`

func (s *sqliteMemoryStore) Get(ctx context.Context, id string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	return scanMemory(row)
}

func (s *sqliteMemoryStore) GetByRemoteID(ctx context.Context, remoteID string) (*models.Memory, error) {
	if remoteID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE remote_id = ?`, remoteID)
	return scanMemory(row)
}

func (s *sqliteMemoryStore) UpdateContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteMemoryStore) List(ctx context.Context, userID string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		var m models.Memory
		var interactionID sql.NullString
		var tags sql.NullString
		var created int64
		if err := rows.Scan(&m.ID, &m.RemoteID, &m.UserID, &interactionID, &m.Content, &m.Kind, &tags, &created); err != nil {
			return nil, err
		}
		m.InteractionID = interactionID.String
		m.CreatedAt = time.Unix(0, created).UTC()
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
				return nil, fmt.Errorf("decode tags: %w", err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func scanMemory(row *sql.Row) (*models.Memory, error) {
	var m models.Memory
	var interactionID sql.NullString
	var tags sql.NullString
	var created int64
	err := row.Scan(&m.ID, &m.RemoteID, &m.UserID, &interactionID, &m.Content, &m.Kind, &tags, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.InteractionID = interactionID.String
	m.CreatedAt = time.Unix(0, created).UTC()
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &m, nil
}

type sqliteReminderStore struct {
	db *sql.DB
}

func (s *sqliteReminderStore) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder == nil || reminder.Message == "" {
		return fmt.Errorf("reminder with message is required")
	}
	if reminder.ID == "" {
		reminder.ID = uuid.NewString()
	}
	if reminder.Status == "" {
		reminder.Status = models.ReminderPending
	}
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user_id, interaction_id, message, due_at, tz_offset, status, recurrence, attempts, last_error, claimed, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		reminder.ID, reminder.UserID, nullString(reminder.InteractionID), reminder.Message,
		reminder.DueAt.UnixNano(), reminder.TZOffset, string(reminder.Status),
		reminder.Recurrence, reminder.Attempts, reminder.LastError,
		reminder.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

const reminderColumns = `id, user_id, interaction_id, message, due_at, tz_offset, status, recurrence, attempts, last_error, sent_at, created_at`

func (s *sqliteReminderStore) Get(ctx context.Context, id string) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	return scanReminderFrom(row)
}

func (s *sqliteReminderStore) DueBefore(ctx context.Context, t time.Time, limit int) ([]*models.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE status = 'pending' AND claimed = 0 AND due_at <= ?
		 ORDER BY due_at ASC LIMIT ?`, t.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r, err := scanReminderFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteReminderStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET claimed = 1 WHERE id = ? AND status = 'pending' AND claimed = 0`, id)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteReminderStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id,
		`UPDATE reminders SET status = 'sent', sent_at = ?, claimed = 0 WHERE id = ? AND status = 'pending'`,
		at.UnixNano(), id)
}

func (s *sqliteReminderStore) RecordFailure(ctx context.Context, id string, deliveryErr string) error {
	return s.transition(ctx, id,
		`UPDATE reminders SET attempts = attempts + 1, last_error = ?, claimed = 0 WHERE id = ? AND status = 'pending'`,
		deliveryErr, id)
}

func (s *sqliteReminderStore) MarkFailed(ctx context.Context, id string, deliveryErr string) error {
	return s.transition(ctx, id,
		`UPDATE reminders SET status = 'failed', attempts = attempts + 1, last_error = ?, claimed = 0 WHERE id = ? AND status = 'pending'`,
		deliveryErr, id)
}

func (s *sqliteReminderStore) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		`UPDATE reminders SET status = 'cancelled', claimed = 0 WHERE id = ? AND status = 'pending'`,
		id)
}

// transition runs a conditional update guarded on status = 'pending'
// and maps a zero row count to ErrNotFound or ErrNotPending.
func (s *sqliteReminderStore) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reminder transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM reminders WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrNotPending
}

func (s *sqliteReminderStore) ResetClaims(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reminders SET claimed = 0 WHERE claimed = 1`)
	return err
}

func (s *sqliteReminderStore) List(ctx context.Context, userID string, limit int) ([]*models.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE user_id = ? ORDER BY due_at ASC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r, err := scanReminderFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReminderFrom(sc rowScanner) (*models.Reminder, error) {
	var r models.Reminder
	var interactionID sql.NullString
	var status string
	var due int64
	var sentAt sql.NullInt64
	var created int64
	err := sc.Scan(&r.ID, &r.UserID, &interactionID, &r.Message, &due, &r.TZOffset,
		&status, &r.Recurrence, &r.Attempts, &r.LastError, &sentAt, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.InteractionID = interactionID.String
	r.Status = models.ReminderStatus(status)
	r.DueAt = time.Unix(0, due).UTC()
	if sentAt.Valid {
		r.SentAt = time.Unix(0, sentAt.Int64).UTC()
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	return &r, nil
}

type sqliteAnalyticsStore struct {
	db *sql.DB
}

func (s *sqliteAnalyticsStore) Summary(ctx context.Context, userID string) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{
		MemoryKinds:      map[string]int{},
		InteractionTypes: map[string]int{},
		TopTags:          map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM memories WHERE user_id = ? GROUP BY kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		summary.MemoryKinds[kind] = count
		summary.TotalMemories += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM interactions WHERE user_id = ? GROUP BY type`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		summary.InteractionTypes[typ] = count
		summary.TotalInteraction += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM interactions WHERE user_id = ?`, userID).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		summary.LastIngestAt = time.Unix(0, last.Int64).UTC()
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT tags FROM memories WHERE user_id = ? AND tags IS NOT NULL AND tags <> ''`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			continue
		}
		for _, tag := range tags {
			counts[tag]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	summary.TopTags = topN(counts, 5)

	return summary, nil
}

// topN keeps the n highest-count tags.
func topN(counts map[string]int, n int) map[string]int {
	if len(counts) <= n {
		return counts
	}
	type kv struct {
		tag   string
		count int
	}
	all := make([]kv, 0, len(counts))
	for tag, count := range counts {
		all = append(all, kv{tag, count})
	}
	for i := 0; i < n; i++ {
		max := i
		for j := i + 1; j < len(all); j++ {
			if all[j].count > all[max].count {
				max = j
			}
		}
		all[i], all[max] = all[max], all[i]
	}
	out := make(map[string]int, n)
	for _, e := range all[:n] {
		out[e.tag] = e.count
	}
	return out
}
