package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/notifier/internal/domain"
)

func TestPreferences_ListIncludesDefaults(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/preferences/"+testUserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var prefs []domain.Preference
	decodeData(t, rec, &prefs)
	assert.Len(t, prefs, len(domain.KnownTypes()))
}

func TestPreferences_GetCreatesDefault(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/preferences/"+testUserID+"/"+domain.TypeNewsletter, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pref domain.Preference
	decodeData(t, rec, &pref)
	assert.NotEmpty(t, pref.ID)
	assert.False(t, pref.Enabled)
	assert.Equal(t, domain.FrequencyDailyDigest, pref.Frequency)
}

func TestPreferences_Update(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{
		"channels":    map[string]bool{"sms": true},
		"quiet_hours": map[string]string{"start": "22:00", "end": "07:00", "timezone": "Europe/Istanbul"},
		"frequency":   "batched_hourly",
	}

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/"+domain.TypeAccountUpdate, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var pref domain.Preference
	decodeData(t, rec, &pref)
	assert.True(t, pref.Channels[domain.ChannelSMS])
	assert.True(t, pref.Channels[domain.ChannelEmail], "channels are merged")
	require.NotNil(t, pref.QuietHours)
	assert.Equal(t, "22:00", pref.QuietHours.Start)
	assert.Equal(t, domain.FrequencyBatchedHourly, pref.Frequency)

	stored, err := s.preferences.Get(context.Background(), testUserID, domain.TypeAccountUpdate)
	require.NoError(t, err)
	assert.True(t, stored.Channels[domain.ChannelSMS])
}

func TestPreferences_UpdateRejectsQuietHoursOnCriticalType(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{
		"quiet_hours": map[string]string{"start": "22:00", "end": "07:00", "timezone": "UTC"},
	}

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/"+domain.TypeSecurityAlert, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec).Error.Message, "quiet hours are not allowed")
}

func TestPreferences_UpdateRejectsUnknownChannel(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{"channels": map[string]bool{"fax": true}}

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/"+domain.TypeAccountUpdate, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreferences_SetChannels(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/channels",
		map[string]any{"channels": map[string]bool{"push": false}})
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.BulkPreferenceResult
	decodeData(t, rec, &result)
	assert.Equal(t, len(domain.KnownTypes()), result.Total)

	pref, err := s.preferences.Get(context.Background(), testUserID, domain.TypeSystemAlert)
	require.NoError(t, err)
	assert.False(t, pref.Channels[domain.ChannelPush])
}

func TestPreferences_SetChannelsRequiresBody(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/channels", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Error.Code)
}

func TestPreferences_SetQuietHoursSkipsCriticalTypes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/quiet-hours", map[string]any{
		"quiet_hours": map[string]string{"start": "23:00", "end": "06:30", "timezone": "UTC"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.BulkPreferenceResult
	decodeData(t, rec, &result)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 0, result.Failed)

	critical, err := s.preferences.Get(context.Background(), testUserID, domain.TypePasswordReset)
	require.NoError(t, err)
	assert.Nil(t, critical.QuietHours)
}

func TestPreferences_SetQuietHoursValidatesWindow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/quiet-hours", map[string]any{
		"quiet_hours": map[string]string{"start": "25:00", "end": "06:30", "timezone": "Mars/Olympus"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Len(t, env.Error.Fields, 2)
}

func TestPreferences_SetEnabled(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/enabled", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.BulkPreferenceResult
	decodeData(t, rec, &result)
	assert.Equal(t, result.Total, result.Successful)

	pref, err := s.preferences.Get(context.Background(), testUserID, domain.TypeAccountUpdate)
	require.NoError(t, err)
	assert.False(t, pref.Enabled)
}

func TestPreferences_SetEnabledRequiresFlag(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/preferences/"+testUserID+"/enabled", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreferences_InvalidUserID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/preferences/nope", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeEnvelope(t, rec).Error.Code)
}
