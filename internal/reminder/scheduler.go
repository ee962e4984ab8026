// Package reminder enrolls reminders and dispatches them when due.
//
// A reminder's lifecycle is monotonic: pending is the only live state,
// and the first transition out of it (sent, cancelled, failed) is
// final. The dispatch loop claims each due reminder with a conditional
// update before delivering, so overlapping ticks and restarted
// processes never double-send.
package reminder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/recallhq/recall/internal/errs"
	"github.com/recallhq/recall/internal/observability"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/pkg/models"
)

const (
	defaultTickInterval  = time.Minute
	defaultPastTolerance = 2 * time.Minute
	defaultMaxAttempts   = 3
	defaultBatchSize     = 50
)

// Sender delivers a reminder message to a user's channel address.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Scheduler owns reminder enrollment and the dispatch loop.
type Scheduler struct {
	reminders     storage.ReminderStore
	users         storage.UserStore
	sender        Sender
	logger        *slog.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	tickInterval  time.Duration
	pastTolerance time.Duration
	maxAttempts   int
	batchSize     int

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "reminder")
		}
	}
}

// WithMetrics enables dispatch outcome counters.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the dispatch tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithPastTolerance sets how far in the past a due time may lie and
// still be accepted at enrollment.
func WithPastTolerance(tolerance time.Duration) Option {
	return func(s *Scheduler) {
		if tolerance >= 0 {
			s.pastTolerance = tolerance
		}
	}
}

// WithMaxAttempts sets the delivery attempt budget per reminder.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBatchSize caps how many due reminders one tick dispatches.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(reminders storage.ReminderStore, users storage.UserStore, sender Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		reminders:     reminders,
		users:         users,
		sender:        sender,
		logger:        slog.Default().With("component", "reminder"),
		now:           time.Now,
		tickInterval:  defaultTickInterval,
		pastTolerance: defaultPastTolerance,
		maxAttempts:   defaultMaxAttempts,
		batchSize:     defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule enrolls a pending reminder. A due time further in the past
// than the tolerance is rejected; a recurring reminder with a zero due
// time starts at the expression's next activation.
func (s *Scheduler) Schedule(ctx context.Context, userID, interactionID, message string, dueAt time.Time, recurrence string) (*models.Reminder, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errs.Validation("reminder message is required", nil)
	}
	if userID == "" {
		return nil, errs.Validation("reminder user is required", nil)
	}

	now := s.now().UTC()
	recurrence = strings.TrimSpace(recurrence)
	if recurrence != "" {
		schedule, err := cron.ParseStandard(recurrence)
		if err != nil {
			return nil, errs.Validation("invalid recurrence expression", err)
		}
		if dueAt.IsZero() {
			dueAt = schedule.Next(now)
		}
	}
	if dueAt.IsZero() {
		return nil, errs.Validation("reminder time is required", nil)
	}
	if dueAt.Before(now.Add(-s.pastTolerance)) {
		return nil, errs.Validation("reminder time is in the past", nil)
	}

	// The due time is normalized to UTC for dispatch ordering, but the
	// sender's offset at enrollment is kept for rendering.
	_, offsetSeconds := dueAt.Zone()
	reminder := &models.Reminder{
		UserID:        userID,
		InteractionID: interactionID,
		Message:       message,
		DueAt:         dueAt.UTC(),
		TZOffset:      offsetSeconds / 60,
		Status:        models.ReminderPending,
		Recurrence:    recurrence,
	}
	if err := s.reminders.Create(ctx, reminder); err != nil {
		return nil, err
	}
	s.logger.Info("reminder scheduled",
		"reminder_id", reminder.ID,
		"user_id", userID,
		"due_at", reminder.DueAt,
		"recurring", recurrence != "")
	return reminder, nil
}

// Cancel cancels a pending reminder. Cancelling a reminder that has
// already left pending is an InvalidStateError.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	err := s.reminders.Cancel(ctx, id)
	if errors.Is(err, storage.ErrNotPending) {
		return errs.InvalidState("reminder is no longer pending", err)
	}
	return err
}

// Start releases stale claims from a previous run and begins the
// dispatch loop, which runs until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.reminders.ResetClaims(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.dispatchDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the dispatch loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce dispatches currently due reminders immediately (primarily
// for tests) and returns how many were claimed.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.dispatchDue(ctx)
}

func (s *Scheduler) dispatchDue(ctx context.Context) int {
	now := s.now().UTC()
	due, err := s.reminders.DueBefore(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("due reminder query failed", "error", err)
		return 0
	}

	count := 0
	for _, reminder := range due {
		claimed, err := s.reminders.Claim(ctx, reminder.ID)
		if err != nil {
			s.logger.Error("reminder claim failed", "reminder_id", reminder.ID, "error", err)
			continue
		}
		if !claimed {
			// Another dispatcher got there first.
			continue
		}
		count++
		s.dispatch(ctx, reminder, now)
	}
	return count
}

func (s *Scheduler) dispatch(ctx context.Context, reminder *models.Reminder, now time.Time) {
	err := s.deliver(ctx, reminder)
	if err == nil {
		if err := s.reminders.MarkSent(ctx, reminder.ID, now); err != nil {
			s.logger.Error("mark sent failed", "reminder_id", reminder.ID, "error", err)
			return
		}
		s.logger.Info("reminder sent", "reminder_id", reminder.ID, "user_id", reminder.UserID)
		s.recordDispatch("sent")
		if reminder.Recurrence != "" {
			s.enrollNext(ctx, reminder, now)
		}
		return
	}

	s.logger.Warn("reminder delivery failed",
		"reminder_id", reminder.ID,
		"attempt", reminder.Attempts+1,
		"error", err)

	if reminder.Attempts+1 >= s.maxAttempts {
		s.recordDispatch("failed")
		if err := s.reminders.MarkFailed(ctx, reminder.ID, err.Error()); err != nil {
			s.logger.Error("mark failed failed", "reminder_id", reminder.ID, "error", err)
		}
		return
	}
	s.recordDispatch("retry")
	if err := s.reminders.RecordFailure(ctx, reminder.ID, err.Error()); err != nil {
		s.logger.Error("record failure failed", "reminder_id", reminder.ID, "error", err)
	}
}

func (s *Scheduler) recordDispatch(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReminderDispatches.WithLabelValues(outcome).Inc()
}

func (s *Scheduler) deliver(ctx context.Context, reminder *models.Reminder) error {
	user, err := s.users.Get(ctx, reminder.UserID)
	if err != nil {
		return errs.Delivery("resolve reminder recipient", err)
	}
	return s.sender.Send(ctx, user.Address, "Reminder: "+reminder.Message)
}

// enrollNext creates the next pending occurrence of a recurring
// reminder. The sent row stays sent; each occurrence is its own row
// with its own attempt budget.
func (s *Scheduler) enrollNext(ctx context.Context, reminder *models.Reminder, now time.Time) {
	schedule, err := cron.ParseStandard(reminder.Recurrence)
	if err != nil {
		s.logger.Error("stored recurrence no longer parses",
			"reminder_id", reminder.ID,
			"recurrence", reminder.Recurrence,
			"error", err)
		return
	}
	next := &models.Reminder{
		UserID:        reminder.UserID,
		InteractionID: reminder.InteractionID,
		Message:       reminder.Message,
		DueAt:         schedule.Next(now).UTC(),
		TZOffset:      reminder.TZOffset,
		Status:        models.ReminderPending,
		Recurrence:    reminder.Recurrence,
	}
	if err := s.reminders.Create(ctx, next); err != nil {
		s.logger.Error("recurrence re-enrollment failed", "reminder_id", reminder.ID, "error", err)
		return
	}
	s.logger.Debug("recurring reminder re-enrolled",
		"reminder_id", next.ID,
		"due_at", next.DueAt)
}
