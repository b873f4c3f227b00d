package domain

import (
	"fmt"
	"time"

	apperrors "github.com/utafrali/notifier/pkg/errors"
	"github.com/utafrali/notifier/pkg/validator"
)

// Priority orders notifications in the dispatch queue.
type Priority string

// Notification priorities.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns a sort weight where higher values are dispatched first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Priorities returns all priorities from lowest to highest.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
}

// Status is the delivery lifecycle state of a notification.
type Status string

// Notification statuses.
const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusQueued, StatusCancelled},
	StatusQueued:  {StatusSent, StatusFailed, StatusCancelled},
	StatusFailed:  {StatusQueued, StatusCancelled},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Notification is a single message addressed to a user over one or more channels.
type Notification struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Type             string         `json:"type"`
	Priority         Priority       `json:"priority"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	Data             map[string]any `json:"data,omitempty"`
	Channels         []Channel      `json:"channels"`
	Status           Status         `json:"status"`
	DeliveryAttempts int            `json:"delivery_attempts"`
	ScheduledFor     *time.Time     `json:"scheduled_for,omitempty"`
	DedupKey         string         `json:"dedup_key,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsCritical reports whether the notification bypasses quiet hours.
func (n *Notification) IsCritical() bool {
	return n.Priority == PriorityCritical
}

// DataString returns a string value from Data, or "" when absent or not a string.
func (n *Notification) DataString(key string) string {
	if n.Data == nil {
		return ""
	}
	v, ok := n.Data[key].(string)
	if !ok {
		return ""
	}
	return v
}

// TransitionTo moves the notification to the given status. Illegal transitions leave
// the notification untouched.
func (n *Notification) TransitionTo(next Status, now time.Time) error {
	if !n.Status.CanTransitionTo(next) {
		return apperrors.InvalidTransition(string(n.Status), string(next))
	}

	n.Status = next
	n.UpdatedAt = now

	switch next {
	case StatusSent:
		sentAt := now
		n.SentAt = &sentAt
		n.ErrorMessage = ""
	case StatusFailed:
		n.DeliveryAttempts++
	}

	return nil
}

// CreateNotificationInput holds the caller supplied fields of a new notification.
type CreateNotificationInput struct {
	UserID       string         `json:"user_id" validate:"required,uuid"`
	Type         string         `json:"type" validate:"required,max=100"`
	Priority     Priority       `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Title        string         `json:"title" validate:"required,max=200"`
	Message      string         `json:"message" validate:"required,max=2000"`
	Data         map[string]any `json:"data"`
	Channels     []Channel      `json:"channels" validate:"required,min=1,dive,oneof=email sms push in_app"`
	ScheduledFor *time.Time     `json:"scheduled_for"`
	DedupKey     string         `json:"dedup_key" validate:"omitempty,max=255"`
}

// Validate checks the input without side effects.
func (in *CreateNotificationInput) Validate(now time.Time) error {
	if err := validator.Validate(in); err != nil {
		return err
	}
	if in.ScheduledFor != nil && !in.ScheduledFor.After(now) {
		return apperrors.InvalidInput("scheduled_for must be in the future")
	}
	return nil
}

// NewNotification validates the input and builds a PENDING notification.
func NewNotification(in *CreateNotificationInput, id string, now time.Time) (*Notification, error) {
	if err := in.Validate(now); err != nil {
		return nil, err
	}

	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	data := in.Data
	if data == nil {
		data = make(map[string]any)
	}

	n := &Notification{
		ID:           id,
		UserID:       in.UserID,
		Type:         in.Type,
		Priority:     priority,
		Title:        in.Title,
		Message:      in.Message,
		Data:         data,
		Channels:     NormalizeChannels(in.Channels),
		Status:       StatusPending,
		ScheduledFor: in.ScheduledFor,
		DedupKey:     in.DedupKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	return n, nil
}

// String implements fmt.Stringer for log output.
func (n *Notification) String() string {
	return fmt.Sprintf("notification %s (%s, %s)", n.ID, n.Type, n.Priority)
}
