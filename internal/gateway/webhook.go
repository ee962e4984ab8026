package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/intent"
	"github.com/recallhq/recall/pkg/models"
)

const replySomethingWrong = "Sorry, something went wrong on my end. Please try again."

// handleWebhook receives one inbound message from the channel
// provider and replies with the message to send back.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form payload", http.StatusBadRequest)
		return
	}

	event := &models.InboundEvent{
		ExternalID:  r.PostForm.Get("MessageSid"),
		UserAddress: r.PostForm.Get("From"),
		Text:        strings.TrimSpace(r.PostForm.Get("Body")),
	}
	if r.PostForm.Get("NumMedia") != "" && r.PostForm.Get("NumMedia") != "0" {
		event.MediaURL = r.PostForm.Get("MediaUrl0")
		event.MediaMimeType = r.PostForm.Get("MediaContentType0")
	}
	if event.ExternalID == "" || event.UserAddress == "" {
		http.Error(w, "missing MessageSid or From", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	result, err := s.deps.Ingestor.Ingest(ctx, event)
	if err != nil {
		s.recordIngest(event, "error")
		s.logger.Error("ingestion failed", "external_id", event.ExternalID, "error", err)
		writeTwiML(w, replySomethingWrong)
		return
	}
	if result.Duplicate {
		// A provider retry of a message already handled. Acknowledge
		// without re-processing.
		s.recordIngest(event, "duplicate")
		writeTwiML(w, "Got it.")
		return
	}
	s.recordIngest(event, "ok")

	if result.Interaction.Type == models.InteractionCommand {
		writeTwiML(w, s.runCommand(ctx, result))
		return
	}

	outcome, err := s.deps.Router.Route(ctx, result.User, result.Interaction)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeValidation {
			writeTwiML(w, "I can't set a reminder for a time that has already passed.")
			return
		}
		s.logger.Error("routing failed", "interaction_id", result.Interaction.ID, "error", err)
		writeTwiML(w, replySomethingWrong)
		return
	}

	s.recordOutcome(outcome)
	writeTwiML(w, s.replyFor(result.Interaction, outcome))
}

func (s *Server) replyFor(interaction *models.Interaction, outcome *intent.Outcome) string {
	switch outcome.Kind {
	case intent.OutcomeSearch:
		return formatSearchReply(outcome.Results)
	case intent.OutcomeReminder:
		zone := time.FixedZone("", outcome.Reminder.TZOffset*60)
		due := outcome.Reminder.DueAt.In(zone).Format("Mon, 02 Jan 2006 15:04 MST")
		if outcome.Reminder.Recurrence != "" {
			return fmt.Sprintf("Recurring reminder set. First one: %s.", due)
		}
		return fmt.Sprintf("Reminder set for %s.", due)
	default:
		switch interaction.Type {
		case models.InteractionImage:
			return "Photo saved. I'll remember it."
		case models.InteractionAudio:
			if interaction.Transcript != "" {
				return fmt.Sprintf("Noted: %q", interaction.Transcript)
			}
			return "Voice note saved. I couldn't transcribe it, but I kept the audio."
		default:
			return "Got it, I'll remember that."
		}
	}
}

func formatSearchReply(hits []intent.SearchHit) string {
	if len(hits) == 0 {
		return "I couldn't find anything matching that."
	}
	var b strings.Builder
	b.WriteString("Here's what I found:\n")
	for i, hit := range hits {
		fmt.Fprintf(&b, "%d. %s\n", i+1, hit.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

const commandListShown = 5

// runCommand answers slash commands. Only /list exists today.
func (s *Server) runCommand(ctx context.Context, result *ingest.Result) string {
	command := strings.Fields(result.Interaction.Content)
	if len(command) == 0 || command[0] != "/list" {
		return "I know these commands:\n/list - show your recent memories"
	}

	memories, err := s.deps.Stores.Memories.List(ctx, result.User.ID, commandListShown+50)
	if err != nil {
		s.logger.Error("memory list failed", "user_id", result.User.ID, "error", err)
		return replySomethingWrong
	}
	if len(memories) == 0 {
		return "You have no memories yet. Send me anything and I'll remember it."
	}

	var b strings.Builder
	b.WriteString("Your recent memories:\n")
	shown := memories
	if len(shown) > commandListShown {
		shown = shown[:commandListShown]
	}
	for i, memory := range shown {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, memory.Content, memory.CreatedAt.UTC().Format("Jan 2"))
	}
	if rest := len(memories) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "...and %d more", rest)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Server) recordIngest(event *models.InboundEvent, result string) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.EventsIngested.WithLabelValues(string(event.Type()), result).Inc()
}

func (s *Server) recordOutcome(outcome *intent.Outcome) {
	if s.deps.Metrics == nil {
		return
	}
	intentLabel := map[intent.OutcomeKind]string{
		intent.OutcomeMemory:   string(models.IntentMemory),
		intent.OutcomeSearch:   string(models.IntentSearch),
		intent.OutcomeReminder: string(models.IntentReminder),
	}[outcome.Kind]
	s.deps.Metrics.Classifications.WithLabelValues(intentLabel, fmt.Sprintf("%t", outcome.Degraded)).Inc()
	if outcome.Kind == intent.OutcomeReminder {
		s.deps.Metrics.RemindersScheduled.Inc()
	}
}
