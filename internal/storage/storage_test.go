package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ainotifier/internal/config"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.Sqlite{Dsn: filepath.Join(t.TempDir(), "test.sqlite3"), Prefix: "t_"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestKVGetSet(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(openTestDB(t))

	_, ok, err := kv.Get(ctx, SettingKeyNotifierState)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, SettingKeyNotifierState, []byte(`{"a":1}`)))
	require.NoError(t, kv.Set(ctx, SettingKeyNotifierState, []byte(`{"a":2}`)))
	v, ok, err := kv.Get(ctx, SettingKeyNotifierState)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":2}`, string(v))

	require.NoError(t, kv.Delete(ctx, SettingKeyNotifierState))
	_, ok, err = kv.Get(ctx, SettingKeyNotifierState)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTablePrefix(t *testing.T) {
	db := openTestDB(t)
	assert.True(t, db.Migrator().HasTable("t_settings"))
	assert.True(t, db.Migrator().HasTable("t_notification_records"))
}

func TestSettingsDefaultsAndOverrides(t *testing.T) {
	ctx := context.Background()
	s := NewSettings(NewKV(openTestDB(t)))
	defaults := map[string]any{
		"chatgptEnabled": true,
		"geminiEnabled":  true,
		KeySoundVolume:   DefaultSoundVolume,
	}

	got, err := s.Get(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)

	require.NoError(t, s.Set(ctx, "geminiEnabled", false))
	require.NoError(t, s.Set(ctx, KeySoundVolume, 0.4))
	got, err = s.Get(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, true, got["chatgptEnabled"])
	assert.Equal(t, false, got["geminiEnabled"])
	assert.InDelta(t, 0.4, got[KeySoundVolume], 1e-9)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSettingsTypeMismatchFallsBack(t *testing.T) {
	ctx := context.Background()
	s := NewSettings(NewKV(openTestDB(t)))
	require.NoError(t, s.Set(ctx, "chatgptEnabled", "yes"))
	require.NoError(t, s.Set(ctx, KeySoundVolume, "loud"))

	got, err := s.Get(ctx, map[string]any{"chatgptEnabled": true, KeySoundVolume: DefaultSoundVolume})
	require.NoError(t, err)
	assert.Equal(t, true, got["chatgptEnabled"])
	assert.Equal(t, DefaultSoundVolume, got[KeySoundVolume])
}

func TestClampVolume(t *testing.T) {
	assert.Equal(t, 1.5, ClampVolume(3.0))
	assert.Equal(t, 0.0, ClampVolume(-1.0))
	assert.Equal(t, 0.7, ClampVolume(0.7))
	assert.Equal(t, DefaultSoundVolume, ClampVolume(math.NaN()))
	assert.Equal(t, DefaultSoundVolume, ClampVolume("x"))
	assert.Equal(t, DefaultSoundVolume, ClampVolume(nil))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(openTestDB(t))
	for i, p := range []string{"gemini", "chatgpt", "aistudio"} {
		require.NoError(t, h.Add(ctx, &NotificationRecord{NotifyID: p, Platform: p, Timestamp: int64(100 * (i + 1))}))
	}
	recent, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "aistudio", recent[0].Platform)
	assert.Equal(t, "chatgpt", recent[1].Platform)

	n, err := h.Prune(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	recent, err = h.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
