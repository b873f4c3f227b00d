package domain

import (
	"fmt"
	"time"

	apperrors "github.com/utafrali/notifier/pkg/errors"
	"github.com/utafrali/notifier/pkg/validator"
)

// Frequency controls how often a user wants to be notified about a type.
type Frequency string

// Delivery frequencies.
const (
	FrequencyInstant       Frequency = "instant"
	FrequencyBatched5Min   Frequency = "batched_5min"
	FrequencyBatchedHourly Frequency = "batched_hourly"
	FrequencyDailyDigest   Frequency = "daily_digest"
)

// Notification types with special handling.
const (
	TypeSystemAlert              = "system_alert"
	TypeSecurityAlert            = "security_alert"
	TypeAccountUpdate            = "account_update"
	TypePasswordReset            = "password_reset"
	TypeContractAnalysisComplete = "contract_analysis_complete"
	TypeComparisonShared         = "comparison_shared"
	TypeFeatureAnnouncement      = "feature_announcement"
	TypeNewsletter               = "newsletter"
	TypeTwoFactorAuth            = "two_factor_auth"
	TypeAccountVerification      = "account_verification"
	TypeCriticalUpdate           = "critical_update"
	TypeEmailVerification        = "email_verification"
)

// IsCriticalType reports whether notifications of this type ignore quiet hours.
func IsCriticalType(notificationType string) bool {
	switch notificationType {
	case TypeSystemAlert, TypeSecurityAlert, TypePasswordReset:
		return true
	}
	return false
}

// QuietHours is a daily window, in the user's timezone, during which
// non-critical notifications are held back.
type QuietHours struct {
	Start    string `json:"start" validate:"required,hhmm"`
	End      string `json:"end" validate:"required,hhmm"`
	Timezone string `json:"timezone" validate:"required,timezone"`
}

// Preference is a user's delivery settings for one notification type.
type Preference struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	NotificationType string           `json:"notification_type"`
	Enabled          bool             `json:"enabled"`
	Channels         map[Channel]bool `json:"channels"`
	QuietHours       *QuietHours      `json:"quiet_hours,omitempty"`
	Frequency        Frequency        `json:"frequency"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type typeDefault struct {
	enabled   bool
	channels  map[Channel]bool
	frequency Frequency
}

func channelSet(email, sms, push, inApp bool) map[Channel]bool {
	return map[Channel]bool{
		ChannelEmail: email,
		ChannelSMS:   sms,
		ChannelPush:  push,
		ChannelInApp: inApp,
	}
}

var typeDefaults = map[string]typeDefault{
	TypeSystemAlert:              {true, channelSet(true, true, true, true), FrequencyInstant},
	TypeSecurityAlert:            {true, channelSet(true, true, true, true), FrequencyInstant},
	TypeAccountUpdate:            {true, channelSet(true, false, true, true), FrequencyInstant},
	TypePasswordReset:            {true, channelSet(true, true, false, false), FrequencyInstant},
	TypeContractAnalysisComplete: {true, channelSet(true, false, true, true), FrequencyInstant},
	TypeComparisonShared:         {true, channelSet(true, false, false, true), FrequencyBatched5Min},
	TypeFeatureAnnouncement:      {true, channelSet(true, false, false, true), FrequencyDailyDigest},
	TypeNewsletter:               {false, channelSet(true, false, false, false), FrequencyDailyDigest},
}

// KnownTypes returns the notification types that have explicit defaults, in a stable order.
func KnownTypes() []string {
	return []string{
		TypeSystemAlert,
		TypeSecurityAlert,
		TypeAccountUpdate,
		TypePasswordReset,
		TypeContractAnalysisComplete,
		TypeComparisonShared,
		TypeFeatureAnnouncement,
		TypeNewsletter,
	}
}

// DefaultChannels returns the global channel defaults.
func DefaultChannels() map[Channel]bool {
	return channelSet(true, false, true, true)
}

// DefaultPreference builds the preference a user gets before changing anything.
// The ID is left empty until the preference is persisted.
func DefaultPreference(userID, notificationType string, now time.Time) *Preference {
	def, ok := typeDefaults[notificationType]
	if !ok {
		def = typeDefault{enabled: true, channels: DefaultChannels(), frequency: FrequencyInstant}
	}

	channels := make(map[Channel]bool, len(def.channels))
	for c, on := range def.channels {
		channels[c] = on
	}

	return &Preference{
		UserID:           userID,
		NotificationType: notificationType,
		Enabled:          def.enabled,
		Channels:         channels,
		Frequency:        def.frequency,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// EnabledChannels returns the channels switched on in the preference, in delivery order.
// A disabled preference has no enabled channels.
func (p *Preference) EnabledChannels() []Channel {
	out := make([]Channel, 0, len(p.Channels))
	if !p.Enabled {
		return out
	}
	for _, c := range Channels() {
		if p.Channels[c] {
			out = append(out, c)
		}
	}
	return out
}

// IsInQuietHours reports whether now falls inside the preference's quiet hours.
// Critical types are never in quiet hours, and an unloadable timezone never suppresses.
func (p *Preference) IsInQuietHours(now time.Time) bool {
	if p.QuietHours == nil || IsCriticalType(p.NotificationType) {
		return false
	}

	loc, err := time.LoadLocation(p.QuietHours.Timezone)
	if err != nil {
		return false
	}
	start, err := minuteOfDay(p.QuietHours.Start)
	if err != nil {
		return false
	}
	end, err := minuteOfDay(p.QuietHours.End)
	if err != nil {
		return false
	}

	local := now.In(loc)
	current := local.Hour()*60 + local.Minute()

	if start > end {
		return current >= start || current <= end
	}
	return current >= start && current <= end
}

// ShouldDispatch reports whether a notification may be delivered now under this preference.
func (p *Preference) ShouldDispatch(n *Notification, now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if !n.IsCritical() && p.IsInQuietHours(now) {
		return false
	}
	if n.ScheduledFor != nil && n.ScheduledFor.After(now) {
		return false
	}
	return true
}

// Reasons a notification is suppressed instead of delivered.
const (
	SuppressedDisabled   = "preference disabled"
	SuppressedQuietHours = "quiet hours"
	SuppressedScheduled  = "scheduled for later"
	SuppressedDuplicate  = "duplicate"
)

// SuppressionReason explains why ShouldDispatch returned false.
func (p *Preference) SuppressionReason(n *Notification, now time.Time) string {
	switch {
	case !p.Enabled:
		return SuppressedDisabled
	case !n.IsCritical() && p.IsInQuietHours(now):
		return SuppressedQuietHours
	case n.ScheduledFor != nil && n.ScheduledFor.After(now):
		return SuppressedScheduled
	default:
		return ""
	}
}

// Validate checks the preference invariants.
func (p *Preference) Validate() error {
	if p.QuietHours != nil {
		if IsCriticalType(p.NotificationType) {
			return apperrors.InvalidInput(fmt.Sprintf("quiet hours are not allowed for %s notifications", p.NotificationType))
		}
		if err := validator.Validate(p.QuietHours); err != nil {
			return err
		}
	}

	for c := range p.Channels {
		if !c.IsValid() {
			return apperrors.InvalidInput(fmt.Sprintf("unknown channel %q", c))
		}
	}

	if p.Enabled && len(p.EnabledChannels()) == 0 {
		return apperrors.InvalidInput("at least one channel must be enabled")
	}

	switch p.Frequency {
	case FrequencyInstant, FrequencyBatched5Min, FrequencyBatchedHourly, FrequencyDailyDigest:
	default:
		return apperrors.InvalidInput(fmt.Sprintf("unknown frequency %q", p.Frequency))
	}

	return nil
}

// PreferenceUpdate carries a partial change to a preference. Nil fields are left as they are.
type PreferenceUpdate struct {
	Enabled         *bool            `json:"enabled"`
	Channels        map[Channel]bool `json:"channels"`
	QuietHours      *QuietHours      `json:"quiet_hours"`
	ClearQuietHours bool             `json:"clear_quiet_hours"`
	Frequency       *Frequency       `json:"frequency"`
}

// Apply merges the update into p. Channels are merged, not replaced.
func (u *PreferenceUpdate) Apply(p *Preference, now time.Time) {
	if u.Enabled != nil {
		p.Enabled = *u.Enabled
	}
	if len(u.Channels) > 0 {
		if p.Channels == nil {
			p.Channels = make(map[Channel]bool, len(u.Channels))
		}
		for c, on := range u.Channels {
			p.Channels[c] = on
		}
	}
	if u.ClearQuietHours {
		p.QuietHours = nil
	} else if u.QuietHours != nil {
		qh := *u.QuietHours
		p.QuietHours = &qh
	}
	if u.Frequency != nil {
		p.Frequency = *u.Frequency
	}
	p.UpdatedAt = now
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("parse clock time %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
