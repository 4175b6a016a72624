package browsersession

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoskr/skinarb/internal/pagedriver"
	"github.com/stoskr/skinarb/pkg/logger"
)

func writeSnapshotFile(t *testing.T, dir, name string, snap Snapshot) string {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSnapshotMerge_NaiveConcatenationNoDedup(t *testing.T) {
	a := Snapshot{Cookies: []pagedriver.Cookie{{Name: "x", Value: "1"}}}
	b := Snapshot{Cookies: []pagedriver.Cookie{{Name: "x", Value: "1"}}}

	merged := a.merge(b)

	assert.Len(t, merged.Cookies, 2, "duplicates are not removed")
}

func TestReadSnapshotFile_MissingDegradesToEmpty(t *testing.T) {
	log := logger.NewNoop()
	snap := readSnapshotFile(filepath.Join(t.TempDir(), "missing.json"), log)
	assert.Empty(t, snap.Cookies)
}

func TestReadSnapshotFile_MalformedDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	snap := readSnapshotFile(path, logger.NewNoop())
	assert.Empty(t, snap.Cookies)
}

func TestLoadSnapshot_MergesCheapAndSteamFiles(t *testing.T) {
	dir := t.TempDir()
	cheapPath := writeSnapshotFile(t, dir, "cheap_session.json", Snapshot{
		Cookies: []pagedriver.Cookie{{Name: "cheap_sid", Value: "c1", Domain: "buff.163.com"}},
	})
	steamPath := writeSnapshotFile(t, dir, "steam_session.json", Snapshot{
		Cookies: []pagedriver.Cookie{{Name: "steam_sid", Value: "s1", Domain: "steamcommunity.com"}},
	})

	merged, err := loadSnapshot(context.Background(), Config{
		CheapSnapshotPath: cheapPath,
		SteamSnapshotPath: steamPath,
	}, logger.NewNoop())

	require.NoError(t, err)
	require.Len(t, merged.Cookies, 2)
	assert.Equal(t, "cheap_sid", merged.Cookies[0].Name)
	assert.Equal(t, "steam_sid", merged.Cookies[1].Name)
}

func TestSnapshotRedisCache_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	snap := Snapshot{Cookies: []pagedriver.Cookie{{Name: "a", Value: "1", Domain: "x.com"}}}
	require.NoError(t, setCachedSnapshot(context.Background(), client, "run:1", snap, 0))

	got, ok := getCachedSnapshot(context.Background(), client, "run:1")
	require.True(t, ok)
	assert.Equal(t, snap, got)
}

func TestSnapshotRedisCache_MissReturnsFalse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, ok := getCachedSnapshot(context.Background(), client, "nonexistent")
	assert.False(t, ok)
}

func TestLoadSnapshot_PrefersRedisWhenPresent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cached := Snapshot{Cookies: []pagedriver.Cookie{{Name: "cached", Value: "v", Domain: "x.com"}}}
	require.NoError(t, setCachedSnapshot(context.Background(), client, "run:2", cached, 0))

	// Disk files are deliberately absent/empty: if loadSnapshot used them
	// instead of the cache, the result would be empty.
	merged, err := loadSnapshot(context.Background(), Config{
		Redis:    client,
		RedisKey: "run:2",
	}, logger.NewNoop())

	require.NoError(t, err)
	require.Len(t, merged.Cookies, 1)
	assert.Equal(t, "cached", merged.Cookies[0].Name)
}
