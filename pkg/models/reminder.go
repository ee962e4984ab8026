package models

import "time"

// ReminderStatus is the lifecycle state of a reminder. Transitions are
// monotonic along pending -> {sent, cancelled, failed}; a reminder
// whose status has left pending is never delivered again.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderFailed    ReminderStatus = "failed"
)

// Terminal reports whether no further delivery can occur from this status.
func (s ReminderStatus) Terminal() bool {
	return s == ReminderSent || s == ReminderCancelled || s == ReminderFailed
}

// CanTransitionTo reports whether the status machine permits moving to next.
func (s ReminderStatus) CanTransitionTo(next ReminderStatus) bool {
	return s == ReminderPending && next.Terminal()
}

// Reminder is one scheduled delivery. Rows are mutated only by the
// scheduler (pending -> sent/failed) or by cancellation requests
// (pending -> cancelled), and never physically deleted; the status is
// the tombstone.
type Reminder struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	InteractionID string         `json:"interaction_id"`
	Message       string         `json:"message"`
	DueAt         time.Time      `json:"due_at"`
	TZOffset      int            `json:"tz_offset"` // Minutes east of UTC at enrollment
	Status        ReminderStatus `json:"status"`

	// Recurrence is an optional cron expression. After a recurring
	// reminder is sent, the scheduler enrolls a fresh pending row at
	// the next activation; this row's own status stays monotonic.
	Recurrence string `json:"recurrence,omitempty"`

	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	SentAt    time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
