package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/notifier/pkg/errors"
	"github.com/utafrali/notifier/pkg/validator"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func validInput() *CreateNotificationInput {
	return &CreateNotificationInput{
		UserID:   "0b4c6a4e-8f0e-4a5c-9a43-6f1d2b3c4d5e",
		Type:     TypeAccountUpdate,
		Title:    "Profile updated",
		Message:  "Your profile was updated",
		Channels: []Channel{ChannelEmail, ChannelPush},
	}
}

// ============================================================================
// Channel Tests
// ============================================================================

func TestChannels_Order(t *testing.T) {
	assert.Equal(t, []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}, Channels())
	assert.Equal(t, 0, ChannelEmail.Order())
	assert.Equal(t, 3, ChannelInApp.Order())
	assert.Equal(t, -1, Channel("fax").Order())
}

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel("in_app")
	require.NoError(t, err)
	assert.Equal(t, ChannelInApp, c)

	_, err = ParseChannel("EMAIL")
	assert.Error(t, err)
	_, err = ParseChannel("")
	assert.Error(t, err)
}

func TestNormalizeChannels_DedupesPreservingOrder(t *testing.T) {
	got := NormalizeChannels([]Channel{ChannelPush, ChannelEmail, ChannelPush, ChannelSMS, ChannelEmail})
	assert.Equal(t, []Channel{ChannelPush, ChannelEmail, ChannelSMS}, got)
}

func TestRateLimit_MarshalJSON(t *testing.T) {
	b, err := RateLimit{Requests: 30, Window: time.Minute}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"requests":30,"window":"1m0s"}`, string(b))
}

// ============================================================================
// Priority and Status Tests
// ============================================================================

func TestPriority_Rank(t *testing.T) {
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.False(t, Priority("urgent").IsValid())
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusSent, false},
		{StatusQueued, StatusSent, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusPending, false},
		{StatusFailed, StatusQueued, true},
		{StatusFailed, StatusCancelled, true},
		{StatusFailed, StatusSent, false},
		{StatusSent, StatusQueued, false},
		{StatusSent, StatusFailed, false},
		{StatusCancelled, StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusSent.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
}

// ============================================================================
// Notification Tests
// ============================================================================

func TestNewNotification_Defaults(t *testing.T) {
	in := validInput()
	in.Channels = []Channel{ChannelEmail, ChannelEmail, ChannelInApp}

	n, err := NewNotification(in, "n-1", testNow)
	require.NoError(t, err)

	assert.Equal(t, "n-1", n.ID)
	assert.Equal(t, PriorityMedium, n.Priority)
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, []Channel{ChannelEmail, ChannelInApp}, n.Channels)
	assert.NotNil(t, n.Data)
	assert.Equal(t, testNow, n.CreatedAt)
	assert.Equal(t, 0, n.DeliveryAttempts)
}

func TestNewNotification_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *CreateNotificationInput)
	}{
		{"missing user", func(in *CreateNotificationInput) { in.UserID = "" }},
		{"user not uuid", func(in *CreateNotificationInput) { in.UserID = "user-1" }},
		{"missing type", func(in *CreateNotificationInput) { in.Type = "" }},
		{"empty title", func(in *CreateNotificationInput) { in.Title = "" }},
		{"long title", func(in *CreateNotificationInput) { in.Title = string(make([]byte, 201)) }},
		{"empty channels", func(in *CreateNotificationInput) { in.Channels = []Channel{} }},
		{"unknown channel", func(in *CreateNotificationInput) { in.Channels = []Channel{"fax"} }},
		{"bad priority", func(in *CreateNotificationInput) { in.Priority = "urgent" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(in)

			_, err := NewNotification(in, "n-1", testNow)
			require.Error(t, err)

			var ve *validator.ValidationError
			assert.True(t, errors.As(err, &ve))
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}
}

func TestNewNotification_ScheduledInPastRejected(t *testing.T) {
	in := validInput()
	past := testNow.Add(-time.Minute)
	in.ScheduledFor = &past

	_, err := NewNotification(in, "n-1", testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	now := testNow
	in.ScheduledFor = &now
	_, err = NewNotification(in, "n-1", testNow)
	assert.Error(t, err, "scheduled_for equal to now is not in the future")
}

func TestNotification_TransitionTo(t *testing.T) {
	n, err := NewNotification(validInput(), "n-1", testNow)
	require.NoError(t, err)

	later := testNow.Add(time.Second)
	require.NoError(t, n.TransitionTo(StatusQueued, later))
	require.NoError(t, n.TransitionTo(StatusFailed, later))
	assert.Equal(t, 1, n.DeliveryAttempts)
	assert.Nil(t, n.SentAt)

	require.NoError(t, n.TransitionTo(StatusQueued, later))
	assert.Equal(t, 1, n.DeliveryAttempts, "only transitions into failed count")

	require.NoError(t, n.TransitionTo(StatusSent, later))
	require.NotNil(t, n.SentAt)
	assert.Equal(t, later, *n.SentAt)
	assert.Equal(t, later, n.UpdatedAt)
}

func TestNotification_IllegalTransitionLeavesEntityUntouched(t *testing.T) {
	n, err := NewNotification(validInput(), "n-1", testNow)
	require.NoError(t, err)

	err = n.TransitionTo(StatusSent, testNow.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, testNow, n.UpdatedAt)
	assert.Nil(t, n.SentAt)
}

func TestNotification_DataString(t *testing.T) {
	n := &Notification{Data: map[string]any{"email": "a@example.com", "count": 3}}
	assert.Equal(t, "a@example.com", n.DataString("email"))
	assert.Equal(t, "", n.DataString("count"))
	assert.Equal(t, "", n.DataString("missing"))
	assert.Equal(t, "", (&Notification{}).DataString("email"))
}

// ============================================================================
// Batch Result Tests
// ============================================================================

func TestBatchDispatchResult_Add(t *testing.T) {
	var b BatchDispatchResult
	b.Add(DispatchResult{OverallSuccess: true})
	b.Add(DispatchResult{OverallSuccess: false})
	b.Add(DispatchResult{OverallSuccess: true, Suppressed: true})

	assert.Equal(t, 3, b.Total)
	assert.Equal(t, 2, b.Successful)
	assert.Equal(t, 1, b.Failed)
	assert.Len(t, b.Results, 3)
}
