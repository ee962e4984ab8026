package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/recallhq/recall/internal/blob"
	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/intent"
	"github.com/recallhq/recall/internal/memsvc"
	"github.com/recallhq/recall/internal/reminder"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/pkg/models"
)

type scriptedClassifier struct {
	fn func(message string) (*intent.Classification, error)
}

func (c *scriptedClassifier) Classify(_ context.Context, message string) (*intent.Classification, error) {
	return c.fn(message)
}

type stubRemote struct {
	nextID  int
	results []memsvc.SearchResult
}

func (r *stubRemote) Add(context.Context, string, string, string, []string) (string, error) {
	r.nextID++
	return "remote-" + string(rune('a'+r.nextID-1)), nil
}

func (r *stubRemote) Update(context.Context, string, string) error { return nil }

func (r *stubRemote) Search(context.Context, string, string, int) ([]memsvc.SearchResult, error) {
	return r.results, nil
}

type nullSender struct{}

func (nullSender) Send(context.Context, string, string) error { return nil }

type serverFixture struct {
	server *httptest.Server
	set    storage.StoreSet
	remote *stubRemote
	now    time.Time
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	set := storage.NewMemoryStoreSet()
	blobs, err := blob.NewStore(t.TempDir(), set.Media)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	classifier := &scriptedClassifier{fn: func(message string) (*intent.Classification, error) {
		switch {
		case strings.HasPrefix(message, "remind me past"):
			return &intent.Classification{
				Intent: models.IntentReminder, Confidence: 0.95,
				Message: "too late", DueAt: now.Add(-time.Hour),
			}, nil
		case strings.HasPrefix(message, "remind me"):
			return &intent.Classification{
				Intent: models.IntentReminder, Confidence: 0.95,
				Message: "call mom", DueAt: now.Add(2 * time.Hour),
			}, nil
		case strings.HasSuffix(message, "?"):
			return &intent.Classification{Intent: models.IntentSearch, Confidence: 0.9, Query: message}, nil
		default:
			return &intent.Classification{Intent: models.IntentMemory, Confidence: 0.9}, nil
		}
	}}

	remote := &stubRemote{}
	scheduler := reminder.NewScheduler(set.Reminders, set.Users, nullSender{},
		reminder.WithNow(func() time.Time { return now }))
	router := intent.NewRouter(classifier, set.Memories, set.Interactions, set.Media, remote, scheduler,
		intent.WithNow(func() time.Time { return now }))
	coordinator := ingest.NewCoordinator(set.Users, set.Interactions, blobs,
		ingest.NewHTTPFetcher(ingest.HTTPFetcherConfig{}))

	server := New(Config{}, Deps{
		Stores:    set,
		Ingestor:  coordinator,
		Router:    router,
		Scheduler: scheduler,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &serverFixture{server: ts, set: set, remote: remote, now: now}
}

func (f *serverFixture) postWebhook(t *testing.T, sid, from, body string) string {
	t.Helper()
	form := url.Values{}
	form.Set("MessageSid", sid)
	form.Set("From", from)
	form.Set("Body", body)
	form.Set("NumMedia", "0")
	resp, err := http.PostForm(f.server.URL+"/webhook", form)
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/xml" {
		t.Fatalf("webhook content type = %q", got)
	}
	payload, _ := io.ReadAll(resp.Body)
	return string(payload)
}

func TestWebhookMemory(t *testing.T) {
	fix := newServerFixture(t)
	reply := fix.postWebhook(t, "SM1", "whatsapp:+15551230000", "I bought groceries")
	if !strings.Contains(reply, "Got it, I'll remember that.") {
		t.Fatalf("reply = %s", reply)
	}

	user, _ := fix.set.Users.FindOrCreate(context.Background(), "whatsapp:+15551230000")
	memories, _ := fix.set.Memories.List(context.Background(), user.ID, 10)
	if len(memories) != 1 || memories[0].Content != "I bought groceries" {
		t.Fatalf("memories = %+v", memories)
	}
}

func TestWebhookDuplicateAcknowledged(t *testing.T) {
	fix := newServerFixture(t)
	fix.postWebhook(t, "SM2", "whatsapp:+15551230000", "first delivery")
	reply := fix.postWebhook(t, "SM2", "whatsapp:+15551230000", "first delivery")
	if !strings.Contains(reply, "Got it.") {
		t.Fatalf("duplicate reply = %s", reply)
	}

	user, _ := fix.set.Users.FindOrCreate(context.Background(), "whatsapp:+15551230000")
	memories, _ := fix.set.Memories.List(context.Background(), user.ID, 10)
	if len(memories) != 1 {
		t.Fatalf("duplicate delivery stored %d memories", len(memories))
	}
}

func TestWebhookSearch(t *testing.T) {
	fix := newServerFixture(t)
	fix.remote.results = []memsvc.SearchResult{
		{ID: "m1", Content: "bought milk", Score: 0.9},
		{ID: "m2", Content: "bought bread", Score: 0.8},
	}
	reply := fix.postWebhook(t, "SM3", "whatsapp:+15551230000", "what did I buy?")
	if !strings.Contains(reply, "1. bought milk") || !strings.Contains(reply, "2. bought bread") {
		t.Fatalf("reply = %s", reply)
	}
}

func TestWebhookSearchNoResults(t *testing.T) {
	fix := newServerFixture(t)
	reply := fix.postWebhook(t, "SM4", "whatsapp:+15551230000", "anything about dragons?")
	if !strings.Contains(reply, "couldn't find anything") {
		t.Fatalf("reply = %s", reply)
	}
}

func TestWebhookReminder(t *testing.T) {
	fix := newServerFixture(t)
	reply := fix.postWebhook(t, "SM5", "whatsapp:+15551230000", "remind me to call mom at 2pm")
	if !strings.Contains(reply, "Reminder set for") {
		t.Fatalf("reply = %s", reply)
	}

	user, _ := fix.set.Users.FindOrCreate(context.Background(), "whatsapp:+15551230000")
	reminders, _ := fix.set.Reminders.List(context.Background(), user.ID, 10)
	if len(reminders) != 1 || reminders[0].Status != models.ReminderPending {
		t.Fatalf("reminders = %+v", reminders)
	}
	if reminders[0].Message != "call mom" {
		t.Fatalf("reminder message = %q", reminders[0].Message)
	}
}

func TestWebhookReminderInPast(t *testing.T) {
	fix := newServerFixture(t)
	reply := fix.postWebhook(t, "SM6", "whatsapp:+15551230000", "remind me past lunch")
	if !strings.Contains(reply, "already passed") {
		t.Fatalf("reply = %s", reply)
	}
}

func TestWebhookListCommand(t *testing.T) {
	fix := newServerFixture(t)
	fix.postWebhook(t, "SM7", "whatsapp:+15551230000", "note one")
	fix.postWebhook(t, "SM8", "whatsapp:+15551230000", "note two")

	reply := fix.postWebhook(t, "SM9", "whatsapp:+15551230000", "/list")
	if !strings.Contains(reply, "Your recent memories:") {
		t.Fatalf("reply = %s", reply)
	}
	if !strings.Contains(reply, "note one") || !strings.Contains(reply, "note two") {
		t.Fatalf("reply = %s", reply)
	}
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	fix := newServerFixture(t)
	resp, err := http.PostForm(fix.server.URL+"/webhook", url.Values{"Body": {"hello"}})
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAPICreateAndListMemories(t *testing.T) {
	fix := newServerFixture(t)

	payload, _ := json.Marshal(map[string]string{
		"address": "whatsapp:+15559990000",
		"content": "likes jazz",
	})
	resp, err := http.Post(fix.server.URL+"/memories", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var memory models.Memory
	if err := json.NewDecoder(resp.Body).Decode(&memory); err != nil {
		t.Fatalf("decode memory: %v", err)
	}
	if memory.Content != "likes jazz" || memory.RemoteID == "" {
		t.Fatalf("memory = %+v", memory)
	}

	listResp, err := http.Get(fix.server.URL + "/memories/list?address=" + url.QueryEscape("whatsapp:+15559990000"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer listResp.Body.Close()
	var listing struct {
		Memories []*models.Memory `json:"memories"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Memories) != 1 {
		t.Fatalf("listing = %+v", listing)
	}
}

func TestAPISearch(t *testing.T) {
	fix := newServerFixture(t)
	fix.remote.results = []memsvc.SearchResult{{ID: "m1", Content: "saw a jazz trio", Score: 0.88}}

	resp, err := http.Get(fix.server.URL + "/memories?address=" + url.QueryEscape("whatsapp:+15551230000") + "&query=jazz")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Query   string              `json:"query"`
		Results []searchHitResponse `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Query != "jazz" || len(body.Results) != 1 || body.Results[0].Content != "saw a jazz trio" {
		t.Fatalf("body = %+v", body)
	}

	missing, err := http.Get(fix.server.URL + "/memories?address=x")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing query status = %d", missing.StatusCode)
	}
}

func TestAPIAnalyticsSummary(t *testing.T) {
	fix := newServerFixture(t)
	fix.postWebhook(t, "SM10", "whatsapp:+15551230000", "note for analytics")

	resp, err := http.Get(fix.server.URL + "/analytics/summary?address=" + url.QueryEscape("whatsapp:+15551230000"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	var summary storage.AnalyticsSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.TotalInteraction != 1 || summary.TotalMemories != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestAPICancelReminder(t *testing.T) {
	fix := newServerFixture(t)
	fix.postWebhook(t, "SM11", "whatsapp:+15551230000", "remind me to call mom")

	user, _ := fix.set.Users.FindOrCreate(context.Background(), "whatsapp:+15551230000")
	reminders, _ := fix.set.Reminders.List(context.Background(), user.ID, 10)
	if len(reminders) != 1 {
		t.Fatalf("reminders = %+v", reminders)
	}
	id := reminders[0].ID

	resp, err := http.Post(fix.server.URL+"/reminders/"+id+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	again, err := http.Post(fix.server.URL+"/reminders/"+id+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel status = %d", again.StatusCode)
	}

	missing, err := http.Post(fix.server.URL+"/reminders/nope/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing cancel status = %d", missing.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	fix := newServerFixture(t)
	resp, err := http.Get(fix.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}
