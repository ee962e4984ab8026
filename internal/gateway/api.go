package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/pkg/models"
)

const defaultAPILimit = 20

// userFromQuery resolves the caller's channel address. Every API
// route is scoped to one user, matching the single-tenant-per-address
// model of the channel itself.
func (s *Server) userFromQuery(r *http.Request) (*models.User, error) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		return nil, errs.Validation("address query parameter is required", nil)
	}
	return s.deps.Stores.Users.FindOrCreate(r.Context(), address)
}

func limitFromQuery(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 200 {
		return defaultAPILimit
	}
	return limit
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, errs.Validation("malformed request body", err))
		return
	}
	payload.Content = strings.TrimSpace(payload.Content)
	if payload.Address == "" || payload.Content == "" {
		s.writeError(w, errs.Validation("address and content are required", nil))
		return
	}

	ctx := r.Context()
	user, err := s.deps.Stores.Users.FindOrCreate(ctx, payload.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Direct API writes still get an interaction row so analytics and
	// history see them.
	interaction := &models.Interaction{
		ExternalID: "api-" + uuid.NewString(),
		UserID:     user.ID,
		Type:       models.InteractionText,
		Content:    payload.Content,
	}
	if err := s.deps.Stores.Interactions.Create(ctx, interaction); err != nil {
		s.writeError(w, err)
		return
	}

	memory, err := s.deps.Router.CreateMemory(ctx, user, interaction, payload.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, memory)
}

type searchHitResponse struct {
	RemoteID string         `json:"remote_id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Local    *models.Memory `json:"local,omitempty"`
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		s.writeError(w, errs.Validation("query parameter is required", nil))
		return
	}
	user, err := s.userFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	hits, err := s.deps.Router.Search(r.Context(), user, query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results := make([]searchHitResponse, 0, len(hits))
	for _, hit := range hits {
		results = append(results, searchHitResponse{
			RemoteID: hit.RemoteID,
			Content:  hit.Content,
			Score:    hit.Score,
			Local:    hit.Local,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	user, err := s.userFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	memories, err := s.deps.Stores.Memories.List(r.Context(), user.ID, limitFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (s *Server) handleRecentInteractions(w http.ResponseWriter, r *http.Request) {
	user, err := s.userFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	interactions, err := s.deps.Stores.Interactions.ListRecent(r.Context(), user.ID, limitFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"interactions": interactions})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	user, err := s.userFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	summary, err := s.deps.Stores.Analytics.Summary(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCancelReminder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, errs.Validation("reminder id is required", nil))
		return
	}
	if err := s.deps.Scheduler.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.ReminderCancelled)})
}
