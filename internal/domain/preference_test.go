package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/notifier/pkg/errors"
)

func prefWithQuietHours(start, end, tz string) *Preference {
	p := DefaultPreference("user-1", TypeAccountUpdate, testNow)
	p.QuietHours = &QuietHours{Start: start, End: end, Timezone: tz}
	return p
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

// ============================================================================
// Defaults
// ============================================================================

func TestDefaultPreference_KnownTypes(t *testing.T) {
	tests := []struct {
		typ       string
		enabled   bool
		channels  []Channel
		frequency Frequency
	}{
		{TypeSystemAlert, true, []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}, FrequencyInstant},
		{TypeSecurityAlert, true, []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}, FrequencyInstant},
		{TypeAccountUpdate, true, []Channel{ChannelEmail, ChannelPush, ChannelInApp}, FrequencyInstant},
		{TypePasswordReset, true, []Channel{ChannelEmail, ChannelSMS}, FrequencyInstant},
		{TypeComparisonShared, true, []Channel{ChannelEmail, ChannelInApp}, FrequencyBatched5Min},
		{TypeFeatureAnnouncement, true, []Channel{ChannelEmail, ChannelInApp}, FrequencyDailyDigest},
		{TypeNewsletter, false, []Channel{}, FrequencyDailyDigest},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			p := DefaultPreference("user-1", tt.typ, testNow)
			assert.Equal(t, tt.enabled, p.Enabled)
			assert.Equal(t, tt.channels, p.EnabledChannels())
			assert.Equal(t, tt.frequency, p.Frequency)
			assert.Empty(t, p.ID)
		})
	}
}

func TestDefaultPreference_UnknownTypeUsesGlobalDefaults(t *testing.T) {
	p := DefaultPreference("user-1", "order_shipped", testNow)
	assert.True(t, p.Enabled)
	assert.Equal(t, DefaultChannels(), p.Channels)
	assert.Equal(t, FrequencyInstant, p.Frequency)
}

func TestDefaultPreference_ChannelMapIsCopied(t *testing.T) {
	a := DefaultPreference("user-1", TypeSystemAlert, testNow)
	a.Channels[ChannelSMS] = false

	b := DefaultPreference("user-2", TypeSystemAlert, testNow)
	assert.True(t, b.Channels[ChannelSMS])
}

// ============================================================================
// Enabled Channels
// ============================================================================

func TestEnabledChannels_EmptyIffDisabled(t *testing.T) {
	p := DefaultPreference("user-1", TypeAccountUpdate, testNow)
	assert.NotEmpty(t, p.EnabledChannels())

	p.Enabled = false
	assert.Empty(t, p.EnabledChannels())
}

func TestEnabledChannels_EnumerationOrder(t *testing.T) {
	p := &Preference{Enabled: true, Channels: map[Channel]bool{
		ChannelInApp: true, ChannelSMS: true, ChannelEmail: true,
	}}
	assert.Equal(t, []Channel{ChannelEmail, ChannelSMS, ChannelInApp}, p.EnabledChannels())
}

// ============================================================================
// Quiet Hours
// ============================================================================

func TestIsInQuietHours_SpanningMidnight(t *testing.T) {
	p := prefWithQuietHours("22:00", "08:00", "UTC")

	assert.True(t, p.IsInQuietHours(at(23, 0)))
	assert.True(t, p.IsInQuietHours(at(22, 0)))
	assert.True(t, p.IsInQuietHours(at(3, 30)))
	assert.True(t, p.IsInQuietHours(at(8, 0)))
	assert.False(t, p.IsInQuietHours(at(8, 1)))
	assert.False(t, p.IsInQuietHours(at(12, 0)))
	assert.False(t, p.IsInQuietHours(at(21, 59)))
}

func TestIsInQuietHours_SameDayWindow(t *testing.T) {
	p := prefWithQuietHours("13:00", "14:30", "UTC")

	assert.True(t, p.IsInQuietHours(at(13, 0)))
	assert.True(t, p.IsInQuietHours(at(14, 30)))
	assert.False(t, p.IsInQuietHours(at(14, 31)))
	assert.False(t, p.IsInQuietHours(at(12, 59)))
}

func TestIsInQuietHours_UsesPreferenceTimezone(t *testing.T) {
	p := prefWithQuietHours("22:00", "08:00", "America/New_York")

	// 03:00 UTC on 10 March is 23:00 on 9 March in New York (EDT, UTC-4).
	assert.True(t, p.IsInQuietHours(at(3, 0)))
	// 16:00 UTC is midday in New York.
	assert.False(t, p.IsInQuietHours(at(16, 0)))
}

func TestIsInQuietHours_BadTimezoneNeverSuppresses(t *testing.T) {
	p := prefWithQuietHours("00:00", "23:59", "Mars/Olympus_Mons")
	assert.False(t, p.IsInQuietHours(at(12, 0)))
}

func TestIsInQuietHours_CriticalTypeNeverSuppressed(t *testing.T) {
	p := DefaultPreference("user-1", TypeSecurityAlert, testNow)
	p.QuietHours = &QuietHours{Start: "00:00", End: "23:59", Timezone: "UTC"}
	assert.False(t, p.IsInQuietHours(at(12, 0)))
}

func TestIsInQuietHours_NoQuietHours(t *testing.T) {
	p := DefaultPreference("user-1", TypeAccountUpdate, testNow)
	assert.False(t, p.IsInQuietHours(at(3, 0)))
}

// ============================================================================
// Dispatch Gate
// ============================================================================

func TestShouldDispatch(t *testing.T) {
	quiet := prefWithQuietHours("22:00", "08:00", "UTC")
	night := at(23, 0)
	later := night.Add(time.Hour)

	normal := &Notification{Type: TypeAccountUpdate, Priority: PriorityMedium}
	critical := &Notification{Type: TypeAccountUpdate, Priority: PriorityCritical}
	scheduled := &Notification{Type: TypeAccountUpdate, Priority: PriorityCritical, ScheduledFor: &later}

	assert.False(t, quiet.ShouldDispatch(normal, night))
	assert.Equal(t, "quiet hours", quiet.SuppressionReason(normal, night))

	assert.True(t, quiet.ShouldDispatch(critical, night), "critical priority bypasses quiet hours")

	assert.False(t, quiet.ShouldDispatch(scheduled, night))
	assert.Equal(t, "scheduled for later", quiet.SuppressionReason(scheduled, night))
	assert.True(t, quiet.ShouldDispatch(scheduled, later))

	disabled := DefaultPreference("user-1", TypeNewsletter, testNow)
	assert.False(t, disabled.ShouldDispatch(critical, at(12, 0)))
	assert.Equal(t, "preference disabled", disabled.SuppressionReason(critical, at(12, 0)))
}

// ============================================================================
// Validation and Updates
// ============================================================================

func TestPreference_Validate(t *testing.T) {
	ok := prefWithQuietHours("22:00", "08:00", "Europe/Istanbul")
	assert.NoError(t, ok.Validate())

	badClock := prefWithQuietHours("24:00", "08:00", "UTC")
	assert.True(t, errors.Is(badClock.Validate(), apperrors.ErrInvalidInput))

	badZone := prefWithQuietHours("22:00", "08:00", "Nowhere/City")
	assert.Error(t, badZone.Validate())

	critical := DefaultPreference("user-1", TypePasswordReset, testNow)
	critical.QuietHours = &QuietHours{Start: "22:00", End: "08:00", Timezone: "UTC"}
	assert.Error(t, critical.Validate())

	noChannels := DefaultPreference("user-1", TypeAccountUpdate, testNow)
	for c := range noChannels.Channels {
		noChannels.Channels[c] = false
	}
	assert.Error(t, noChannels.Validate())

	noChannels.Enabled = false
	assert.NoError(t, noChannels.Validate(), "a disabled preference may have no channels")

	badFreq := DefaultPreference("user-1", TypeAccountUpdate, testNow)
	badFreq.Frequency = "weekly"
	assert.Error(t, badFreq.Validate())
}

func TestPreferenceUpdate_ApplyMergesChannels(t *testing.T) {
	p := DefaultPreference("user-1", TypeAccountUpdate, testNow)
	later := testNow.Add(time.Minute)
	freq := FrequencyBatchedHourly

	u := PreferenceUpdate{
		Channels:   map[Channel]bool{ChannelSMS: true, ChannelPush: false},
		QuietHours: &QuietHours{Start: "22:00", End: "07:00", Timezone: "UTC"},
		Frequency:  &freq,
	}
	u.Apply(p, later)

	assert.True(t, p.Channels[ChannelEmail], "untouched channels keep their value")
	assert.True(t, p.Channels[ChannelSMS])
	assert.False(t, p.Channels[ChannelPush])
	require.NotNil(t, p.QuietHours)
	assert.Equal(t, "07:00", p.QuietHours.End)
	assert.Equal(t, FrequencyBatchedHourly, p.Frequency)
	assert.Equal(t, later, p.UpdatedAt)

	(&PreferenceUpdate{ClearQuietHours: true}).Apply(p, later)
	assert.Nil(t, p.QuietHours)
}

func TestIsCriticalType(t *testing.T) {
	assert.True(t, IsCriticalType(TypeSystemAlert))
	assert.True(t, IsCriticalType(TypeSecurityAlert))
	assert.True(t, IsCriticalType(TypePasswordReset))
	assert.False(t, IsCriticalType(TypeNewsletter))
}
