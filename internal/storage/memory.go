package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recallhq/recall/pkg/models"
)

// NewMemoryStoreSet creates an in-memory StoreSet for tests and
// ephemeral runs.
func NewMemoryStoreSet() StoreSet {
	interactions := NewMemoryInteractionStore()
	memories := NewMemoryMemoryStore()
	return StoreSet{
		Users:        NewMemoryUserStore(),
		Interactions: interactions,
		Media:        NewMemoryMediaStore(),
		Memories:     memories,
		Reminders:    NewMemoryReminderStore(),
		Analytics:    &memoryAnalyticsStore{interactions: interactions, memories: memories},
	}
}

// MemoryUserStore provides an in-memory UserStore.
type MemoryUserStore struct {
	mu      sync.Mutex
	byAddr  map[string]*models.User
	byID    map[string]*models.User
}

// NewMemoryUserStore creates an in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byAddr: make(map[string]*models.User),
		byID:   make(map[string]*models.User),
	}
}

func (s *MemoryUserStore) FindOrCreate(ctx context.Context, address string) (*models.User, error) {
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.byAddr[address]; ok {
		user.UpdatedAt = time.Now().UTC()
		return cloneUser(user), nil
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.NewString(),
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byAddr[address] = user
	s.byID[user.ID] = user
	return cloneUser(user), nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(user), nil
}

func cloneUser(u *models.User) *models.User {
	clone := *u
	return &clone
}

// MemoryInteractionStore provides an in-memory InteractionStore.
type MemoryInteractionStore struct {
	mu         sync.Mutex
	byID       map[string]*models.Interaction
	byExternal map[string]*models.Interaction
}

// NewMemoryInteractionStore creates an in-memory interaction store.
func NewMemoryInteractionStore() *MemoryInteractionStore {
	return &MemoryInteractionStore{
		byID:       make(map[string]*models.Interaction),
		byExternal: make(map[string]*models.Interaction),
	}
}

func (s *MemoryInteractionStore) Create(ctx context.Context, interaction *models.Interaction) error {
	if interaction == nil || interaction.ExternalID == "" {
		return fmt.Errorf("interaction with external id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byExternal[interaction.ExternalID]; exists {
		return ErrAlreadyExists
	}
	if interaction.ID == "" {
		interaction.ID = uuid.NewString()
	}
	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = time.Now().UTC()
	}
	stored := cloneInteraction(interaction)
	s.byID[stored.ID] = stored
	s.byExternal[stored.ExternalID] = stored
	return nil
}

func (s *MemoryInteractionStore) Get(ctx context.Context, id string) (*models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInteraction(i), nil
}

func (s *MemoryInteractionStore) GetByExternalID(ctx context.Context, externalID string) (*models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byExternal[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInteraction(i), nil
}

func (s *MemoryInteractionStore) AttachMetadata(ctx context.Context, id string, meta models.InteractionMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	i.Metadata = mergeMetadata(i.Metadata, meta)
	return nil
}

func (s *MemoryInteractionStore) ListRecent(ctx context.Context, userID string, limit int) ([]*models.Interaction, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Interaction
	for _, i := range s.byID {
		if i.UserID == userID {
			out = append(out, cloneInteraction(i))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneInteraction(i *models.Interaction) *models.Interaction {
	clone := *i
	return &clone
}

// MemoryMediaStore provides an in-memory MediaStore.
type MemoryMediaStore struct {
	mu            sync.Mutex
	byID          map[string]*models.Media
	byFingerprint map[string]*models.Media
}

// NewMemoryMediaStore creates an in-memory media store.
func NewMemoryMediaStore() *MemoryMediaStore {
	return &MemoryMediaStore{
		byID:          make(map[string]*models.Media),
		byFingerprint: make(map[string]*models.Media),
	}
}

func (s *MemoryMediaStore) Create(ctx context.Context, media *models.Media) error {
	if media == nil || media.Fingerprint == "" {
		return fmt.Errorf("media with fingerprint is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byFingerprint[media.Fingerprint]; exists {
		return ErrAlreadyExists
	}
	if media.ID == "" {
		media.ID = uuid.NewString()
	}
	if media.CreatedAt.IsZero() {
		media.CreatedAt = time.Now().UTC()
	}
	stored := cloneMedia(media)
	s.byID[stored.ID] = stored
	s.byFingerprint[stored.Fingerprint] = stored
	return nil
}

func (s *MemoryMediaStore) Get(ctx context.Context, id string) (*models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMedia(m), nil
}

func (s *MemoryMediaStore) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byFingerprint[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMedia(m), nil
}

func cloneMedia(m *models.Media) *models.Media {
	clone := *m
	if m.Meta != nil {
		meta := *m.Meta
		clone.Meta = &meta
	}
	return &clone
}

// MemoryMemoryStore provides an in-memory MemoryStore.
type MemoryMemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*models.Memory
	byRemote map[string]*models.Memory
}

// NewMemoryMemoryStore creates an in-memory memory store.
func NewMemoryMemoryStore() *MemoryMemoryStore {
	return &MemoryMemoryStore{
		byID:     make(map[string]*models.Memory),
		byRemote: make(map[string]*models.Memory),
	}
}

func (s *MemoryMemoryStore) Create(ctx context.Context, memory *models.Memory) error {
	if memory == nil || memory.Content == "" {
		return fmt.Errorf("memory with content is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if memory.RemoteID != "" {
		if _, exists := s.byRemote[memory.RemoteID]; exists {
			return ErrAlreadyExists
		}
	}
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}
	stored := cloneMemory(memory)
	s.byID[stored.ID] = stored
	if stored.RemoteID != "" {
		s.byRemote[stored.RemoteID] = stored
	}
	return nil
}

func (s *MemoryMemoryStore) Get(ctx context.Context, id string) (*models.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMemory(m), nil
}

func (s *MemoryMemoryStore) GetByRemoteID(ctx context.Context, remoteID string) (*models.Memory, error) {
	if remoteID == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byRemote[remoteID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMemory(m), nil
}

func (s *MemoryMemoryStore) UpdateContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	m.Content = content
	return nil
}

func (s *MemoryMemoryStore) List(ctx context.Context, userID string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Memory
	for _, m := range s.byID {
		if m.UserID == userID {
			out = append(out, cloneMemory(m))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneMemory(m *models.Memory) *models.Memory {
	clone := *m
	if m.Tags != nil {
		clone.Tags = append([]string(nil), m.Tags...)
	}
	return &clone
}

// MemoryReminderStore provides an in-memory ReminderStore.
type MemoryReminderStore struct {
	mu        sync.Mutex
	reminders map[string]*models.Reminder
	claimed   map[string]bool
}

// NewMemoryReminderStore creates an in-memory reminder store.
func NewMemoryReminderStore() *MemoryReminderStore {
	return &MemoryReminderStore{
		reminders: make(map[string]*models.Reminder),
		claimed:   make(map[string]bool),
	}
}

func (s *MemoryReminderStore) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder == nil || reminder.Message == "" {
		return fmt.Errorf("reminder with message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if reminder.ID == "" {
		reminder.ID = uuid.NewString()
	}
	if reminder.Status == "" {
		reminder.Status = models.ReminderPending
	}
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.reminders[reminder.ID]; exists {
		return ErrAlreadyExists
	}
	s.reminders[reminder.ID] = cloneReminder(reminder)
	return nil
}

func (s *MemoryReminderStore) Get(ctx context.Context, id string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReminder(r), nil
}

func (s *MemoryReminderStore) DueBefore(ctx context.Context, t time.Time, limit int) ([]*models.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, r := range s.reminders {
		if r.Status == models.ReminderPending && !s.claimed[r.ID] && !r.DueAt.After(t) {
			out = append(out, cloneReminder(r))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].DueAt.Before(out[b].DueAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryReminderStore) Claim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok || r.Status != models.ReminderPending || s.claimed[id] {
		return false, nil
	}
	s.claimed[id] = true
	return true, nil
}

func (s *MemoryReminderStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.ReminderPending {
		return ErrNotPending
	}
	r.Status = models.ReminderSent
	r.SentAt = at
	delete(s.claimed, id)
	return nil
}

func (s *MemoryReminderStore) RecordFailure(ctx context.Context, id string, deliveryErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.ReminderPending {
		return ErrNotPending
	}
	r.Attempts++
	r.LastError = deliveryErr
	delete(s.claimed, id)
	return nil
}

func (s *MemoryReminderStore) MarkFailed(ctx context.Context, id string, deliveryErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.ReminderPending {
		return ErrNotPending
	}
	r.Status = models.ReminderFailed
	r.Attempts++
	r.LastError = deliveryErr
	delete(s.claimed, id)
	return nil
}

func (s *MemoryReminderStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.ReminderPending {
		return ErrNotPending
	}
	r.Status = models.ReminderCancelled
	delete(s.claimed, id)
	return nil
}

func (s *MemoryReminderStore) ResetClaims(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed = make(map[string]bool)
	return nil
}

func (s *MemoryReminderStore) List(ctx context.Context, userID string, limit int) ([]*models.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, r := range s.reminders {
		if r.UserID == userID {
			out = append(out, cloneReminder(r))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].DueAt.Before(out[b].DueAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneReminder(r *models.Reminder) *models.Reminder {
	clone := *r
	return &clone
}

type memoryAnalyticsStore struct {
	interactions *MemoryInteractionStore
	memories     *MemoryMemoryStore
}

func (s *memoryAnalyticsStore) Summary(ctx context.Context, userID string) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{
		MemoryKinds:      map[string]int{},
		InteractionTypes: map[string]int{},
		TopTags:          map[string]int{},
	}

	s.interactions.mu.Lock()
	for _, i := range s.interactions.byID {
		if i.UserID != userID {
			continue
		}
		summary.InteractionTypes[string(i.Type)]++
		summary.TotalInteraction++
		if i.CreatedAt.After(summary.LastIngestAt) {
			summary.LastIngestAt = i.CreatedAt
		}
	}
	s.interactions.mu.Unlock()

	counts := map[string]int{}
	s.memories.mu.Lock()
	for _, m := range s.memories.byID {
		if m.UserID != userID {
			continue
		}
		summary.MemoryKinds[m.Kind]++
		summary.TotalMemories++
		for _, tag := range m.Tags {
			counts[tag]++
		}
	}
	s.memories.mu.Unlock()
	summary.TopTags = topN(counts, 5)

	return summary, nil
}
