package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/repository/memory"
	apperrors "github.com/utafrali/notifier/pkg/errors"
)

func setupTestCache(t *testing.T) (*PreferenceCache, *memory.PreferenceRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := memory.NewPreferenceRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPreferenceCache(store, client, time.Hour, logger), store, mr
}

func samplePreference() *domain.Preference {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	p := domain.DefaultPreference("user-001", domain.TypeAccountUpdate, now)
	p.ID = "pref-001"
	return p
}

func TestPreferenceCache_Get_MissPopulatesCache(t *testing.T) {
	cache, store, mr := setupTestCache(t)
	ctx := context.Background()
	p := samplePreference()
	require.NoError(t, store.Create(ctx, p))

	got, err := cache.Get(ctx, p.UserID, p.NotificationType)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	raw, err := mr.Get(cacheKey(p.UserID, p.NotificationType))
	require.NoError(t, err)
	var cached domain.Preference
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, p.ID, cached.ID)
	assert.Equal(t, p.Channels, cached.Channels)
	assert.Equal(t, time.Hour, mr.TTL(cacheKey(p.UserID, p.NotificationType)))
}

func TestPreferenceCache_Get_HitSkipsStore(t *testing.T) {
	cache, _, mr := setupTestCache(t)
	p := samplePreference()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey(p.UserID, p.NotificationType), string(data)))

	// The store is empty, so only the cache can answer.
	got, err := cache.Get(context.Background(), p.UserID, p.NotificationType)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestPreferenceCache_Get_CorruptEntryFallsBack(t *testing.T) {
	cache, store, mr := setupTestCache(t)
	ctx := context.Background()
	p := samplePreference()
	require.NoError(t, store.Create(ctx, p))
	require.NoError(t, mr.Set(cacheKey(p.UserID, p.NotificationType), "{not json"))

	got, err := cache.Get(ctx, p.UserID, p.NotificationType)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestPreferenceCache_Get_NotFound(t *testing.T) {
	cache, _, mr := setupTestCache(t)

	_, err := cache.Get(context.Background(), "user-001", domain.TypeNewsletter)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.False(t, mr.Exists(cacheKey("user-001", domain.TypeNewsletter)))
}

func TestPreferenceCache_Get_RedisDownFallsBack(t *testing.T) {
	down, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: down.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	down.Close()

	store := memory.NewPreferenceRepository()
	cache := NewPreferenceCache(store, client, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	p := samplePreference()
	require.NoError(t, store.Create(ctx, p))

	got, err := cache.Get(ctx, p.UserID, p.NotificationType)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestPreferenceCache_CreateAndUpdate(t *testing.T) {
	cache, _, mr := setupTestCache(t)
	ctx := context.Background()
	p := samplePreference()

	require.NoError(t, cache.Create(ctx, p))
	assert.True(t, mr.Exists(cacheKey(p.UserID, p.NotificationType)))

	p.Enabled = false
	require.NoError(t, cache.Update(ctx, p))
	assert.False(t, mr.Exists(cacheKey(p.UserID, p.NotificationType)))

	got, err := cache.Get(ctx, p.UserID, p.NotificationType)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestPreferenceCache_Update_NotFoundKeepsCache(t *testing.T) {
	cache, _, mr := setupTestCache(t)
	p := samplePreference()
	require.NoError(t, mr.Set(cacheKey(p.UserID, p.NotificationType), "{}"))

	err := cache.Update(context.Background(), p)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.True(t, mr.Exists(cacheKey(p.UserID, p.NotificationType)))
}

func TestPreferenceCache_ListByUser(t *testing.T) {
	cache, store, _ := setupTestCache(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, samplePreference()))

	prefs, err := cache.ListByUser(ctx, "user-001")
	require.NoError(t, err)
	assert.Len(t, prefs, 1)
}
