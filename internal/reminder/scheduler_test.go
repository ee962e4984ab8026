package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/internal/observability"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/pkg/models"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	errs []error
}

func (f *fakeSender) Send(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, to+": "+body)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	scheduler *Scheduler
	set       storage.StoreSet
	sender    *fakeSender
	user      *models.User
	now       time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	set := storage.NewMemoryStoreSet()
	sender := &fakeSender{}
	user, err := set.Users.FindOrCreate(context.Background(), "+15551230000")
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	base := []Option{WithNow(func() time.Time { return now })}
	return &fixture{
		scheduler: NewScheduler(set.Reminders, set.Users, sender, append(base, opts...)...),
		set:       set,
		sender:    sender,
		user:      user,
		now:       now,
	}
}

func TestScheduleRejectsPastTime(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	_, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "call mom", fix.now.Add(-time.Hour), "")
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("Schedule(past) error = %v", err)
	}

	// Inside the tolerance window is fine.
	r, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "call mom", fix.now.Add(-time.Minute), "")
	if err != nil {
		t.Fatalf("Schedule(within tolerance) error = %v", err)
	}
	if r.Status != models.ReminderPending {
		t.Fatalf("Schedule() status = %s", r.Status)
	}
}

func TestScheduleValidation(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	if _, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "  ", fix.now.Add(time.Hour), ""); err == nil {
		t.Fatal("Schedule() accepted empty message")
	}
	if _, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "x", time.Time{}, ""); err == nil {
		t.Fatal("Schedule() accepted zero time without recurrence")
	}
	if _, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "x", fix.now.Add(time.Hour), "not a cron line"); err == nil {
		t.Fatal("Schedule() accepted malformed recurrence")
	}
}

func TestScheduleRecurrenceDerivesDueTime(t *testing.T) {
	fix := newFixture(t)
	r, err := fix.scheduler.Schedule(context.Background(), fix.user.ID, "", "standup", time.Time{}, "0 9 * * 1-5")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if r.DueAt.IsZero() || !r.DueAt.After(fix.now) {
		t.Fatalf("Schedule() due = %v", r.DueAt)
	}
	if r.DueAt.Hour() != 9 {
		t.Fatalf("Schedule() due hour = %d", r.DueAt.Hour())
	}
}

func TestRunOnceDispatchesEarliestFirst(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	// Backdated rows created directly against the store; Schedule
	// would reject them.
	for _, r := range []*models.Reminder{
		{UserID: fix.user.ID, Message: "second", DueAt: fix.now.Add(-time.Minute)},
		{UserID: fix.user.ID, Message: "first", DueAt: fix.now.Add(-time.Hour)},
		{UserID: fix.user.ID, Message: "not yet", DueAt: fix.now.Add(time.Hour)},
	} {
		if err := fix.set.Reminders.Create(ctx, r); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if got := fix.scheduler.RunOnce(ctx); got != 2 {
		t.Fatalf("RunOnce() = %d, want 2", got)
	}
	if fix.sender.sentCount() != 2 {
		t.Fatalf("sent %d messages, want 2", fix.sender.sentCount())
	}
	if fix.sender.sent[0] != "+15551230000: Reminder: first" {
		t.Fatalf("first delivery = %q", fix.sender.sent[0])
	}
	if fix.sender.sent[1] != "+15551230000: Reminder: second" {
		t.Fatalf("second delivery = %q", fix.sender.sent[1])
	}

	// A second pass finds nothing left.
	if got := fix.scheduler.RunOnce(ctx); got != 0 {
		t.Fatalf("RunOnce() second = %d, want 0", got)
	}
}

func TestRunOnceMarksSent(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	r := &models.Reminder{UserID: fix.user.ID, Message: "stretch", DueAt: fix.now.Add(-time.Second)}
	if err := fix.set.Reminders.Create(ctx, r); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	fix.scheduler.RunOnce(ctx)

	got, err := fix.set.Reminders.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.ReminderSent {
		t.Fatalf("status = %s", got.Status)
	}
	if !got.SentAt.Equal(fix.now) {
		t.Fatalf("sent_at = %v", got.SentAt)
	}
}

func TestDeliveryFailureRetriesThenFails(t *testing.T) {
	fix := newFixture(t, WithMaxAttempts(3))
	ctx := context.Background()
	fix.sender.errs = []error{
		errors.New("boom 1"),
		errors.New("boom 2"),
		errors.New("boom 3"),
	}

	r := &models.Reminder{UserID: fix.user.ID, Message: "doomed", DueAt: fix.now.Add(-time.Second)}
	if err := fix.set.Reminders.Create(ctx, r); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		fix.scheduler.RunOnce(ctx)
		got, _ := fix.set.Reminders.Get(ctx, r.ID)
		if got.Status != models.ReminderPending || got.Attempts != attempt {
			t.Fatalf("after attempt %d: status=%s attempts=%d", attempt, got.Status, got.Attempts)
		}
	}

	fix.scheduler.RunOnce(ctx)
	got, _ := fix.set.Reminders.Get(ctx, r.ID)
	if got.Status != models.ReminderFailed {
		t.Fatalf("final status = %s", got.Status)
	}
	if got.Attempts != 3 || got.LastError != "boom 3" {
		t.Fatalf("final record: attempts=%d last_error=%q", got.Attempts, got.LastError)
	}
	if fix.sender.sentCount() != 0 {
		t.Fatalf("sent %d messages, want 0", fix.sender.sentCount())
	}

	// Failed is terminal; further ticks leave it alone.
	if got := fix.scheduler.RunOnce(ctx); got != 0 {
		t.Fatalf("RunOnce() after failure = %d, want 0", got)
	}
}

func TestCancel(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	r, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "call mom", fix.now.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := fix.scheduler.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	got, _ := fix.set.Reminders.Get(ctx, r.ID)
	if got.Status != models.ReminderCancelled {
		t.Fatalf("status = %s", got.Status)
	}

	// Cancelled is terminal.
	if err := fix.scheduler.Cancel(ctx, r.ID); errs.CodeOf(err) != errs.CodeInvalidState {
		t.Fatalf("Cancel() second error = %v", err)
	}
	if err := fix.scheduler.Cancel(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Cancel(missing) error = %v", err)
	}
}

func TestCancelledReminderNeverDispatches(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	r := &models.Reminder{UserID: fix.user.ID, Message: "skip me", DueAt: fix.now.Add(-time.Second)}
	if err := fix.set.Reminders.Create(ctx, r); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := fix.scheduler.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if got := fix.scheduler.RunOnce(ctx); got != 0 {
		t.Fatalf("RunOnce() = %d, want 0", got)
	}
	if fix.sender.sentCount() != 0 {
		t.Fatalf("sent %d messages, want 0", fix.sender.sentCount())
	}
}

func TestRecurringReminderReenrolls(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	r := &models.Reminder{
		UserID:     fix.user.ID,
		Message:    "water plants",
		DueAt:      fix.now.Add(-time.Minute),
		Recurrence: "0 9 * * *",
	}
	if err := fix.set.Reminders.Create(ctx, r); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	fix.scheduler.RunOnce(ctx)

	got, _ := fix.set.Reminders.Get(ctx, r.ID)
	if got.Status != models.ReminderSent {
		t.Fatalf("original status = %s", got.Status)
	}

	all, err := fix.set.Reminders.List(ctx, fix.user.ID, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List() = %d rows, want original + re-enrollment", len(all))
	}
	var next *models.Reminder
	for _, candidate := range all {
		if candidate.ID != r.ID {
			next = candidate
		}
	}
	if next == nil || next.Status != models.ReminderPending {
		t.Fatalf("re-enrolled row = %+v", next)
	}
	want := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	if !next.DueAt.Equal(want) {
		t.Fatalf("re-enrolled due = %v, want %v", next.DueAt, want)
	}
}

func TestStartAndStop(t *testing.T) {
	fix := newFixture(t, WithTickInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	r := &models.Reminder{UserID: fix.user.ID, Message: "tick", DueAt: fix.now.Add(-time.Second)}
	if err := fix.set.Reminders.Create(ctx, r); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := fix.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.After(2 * time.Second)
	for fix.sender.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("reminder not dispatched by ticker")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := fix.scheduler.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if fix.sender.sentCount() != 1 {
		t.Fatalf("sent %d messages, want exactly 1", fix.sender.sentCount())
	}
}

func TestScheduleCapturesSenderOffset(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	zone := time.FixedZone("IST", 5*3600+1800)
	due := fix.now.Add(2 * time.Hour).In(zone)
	r, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "call mom", due, "")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if r.TZOffset != 330 {
		t.Fatalf("TZOffset = %d, want 330", r.TZOffset)
	}
	if !r.DueAt.Equal(due) || r.DueAt.Location() != time.UTC {
		t.Fatalf("DueAt = %v, want %v normalized to UTC", r.DueAt, due)
	}

	stored, err := fix.set.Reminders.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.TZOffset != 330 {
		t.Fatalf("stored TZOffset = %d, want 330", stored.TZOffset)
	}
}

func TestRecurrenceKeepsSenderOffset(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	zone := time.FixedZone("", 5*3600+1800)
	if _, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "stand up", fix.now.In(zone), "0 9 * * *"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if got := fix.scheduler.RunOnce(ctx); got != 1 {
		t.Fatalf("RunOnce() = %d, want 1", got)
	}

	reminders, err := fix.set.Reminders.List(ctx, fix.user.ID, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(reminders) != 2 {
		t.Fatalf("got %d reminders, want sent row plus re-enrollment", len(reminders))
	}
	for _, r := range reminders {
		if r.TZOffset != 330 {
			t.Fatalf("reminder %s TZOffset = %d, want 330", r.ID, r.TZOffset)
		}
	}
}

func TestConcurrentTicksNeverDoubleSend(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	const reminders = 8
	for i := 0; i < reminders; i++ {
		due := fix.now.Add(-time.Duration(i) * time.Second)
		if _, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", fmt.Sprintf("task %d", i), due, ""); err != nil {
			t.Fatalf("Schedule(%d) error = %v", i, err)
		}
	}

	var wg sync.WaitGroup
	var claimed int64
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			atomic.AddInt64(&claimed, int64(fix.scheduler.RunOnce(ctx)))
		}()
	}
	wg.Wait()

	if claimed != reminders {
		t.Fatalf("claimed %d dispatches across ticks, want %d", claimed, reminders)
	}
	if got := fix.sender.sentCount(); got != reminders {
		t.Fatalf("sent %d messages, want %d", got, reminders)
	}
	rows, err := fix.set.Reminders.List(ctx, fix.user.ID, 50)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for _, r := range rows {
		if r.Status != models.ReminderSent {
			t.Fatalf("reminder %s status = %s, want sent", r.ID, r.Status)
		}
	}
}

func TestDispatchOutcomeMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	fix := newFixture(t, WithMetrics(metrics), WithMaxAttempts(2))
	ctx := context.Background()

	// Two failing deliveries exhaust the attempt budget: first tick
	// records a retry, second tick a terminal failure.
	fix.sender.errs = []error{errors.New("carrier down"), errors.New("carrier down")}
	if _, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "doomed task", fix.now, ""); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	fix.scheduler.RunOnce(ctx)
	fix.scheduler.RunOnce(ctx)

	if _, err := fix.scheduler.Schedule(ctx, fix.user.ID, "", "easy task", fix.now, ""); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	fix.scheduler.RunOnce(ctx)

	if got := testutil.ToFloat64(metrics.ReminderDispatches.WithLabelValues("retry")); got != 1 {
		t.Fatalf("retry dispatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ReminderDispatches.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed dispatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ReminderDispatches.WithLabelValues("sent")); got != 1 {
		t.Fatalf("sent dispatches = %v, want 1", got)
	}
}
