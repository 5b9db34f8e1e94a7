package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dvrr/internal/config"
	"github.com/jmylchreest/dvrr/internal/database"
	"github.com/jmylchreest/dvrr/internal/dvr"
	"github.com/jmylchreest/dvrr/internal/models"
	"github.com/jmylchreest/dvrr/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(dir, "meta.db"),
		LogLevel: "silent",
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(config.StorageConfig{
		BaseDir:       filepath.Join(dir, "data"),
		DiskWatermark: 100,
		Sidecars:      true,
	}, db, slog.Default())
	require.NoError(t, err)
	return store
}

func sampleInfo(id uint64) dvr.SegmentInfo {
	return dvr.SegmentInfo{
		ID:       id,
		Duration: 4 * time.Second,
		Size:     188 * 100,
		Packets:  100,
		PIDs:     []dvr.StreamInfo{{PID: 0x100, Type: dvr.StreamVideo}},
	}
}

func TestSaveInfoRoundtrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec1", false))

	info := sampleInfo(0)
	require.NoError(t, store.SaveInfo("rec1", info))

	got, err := store.Info("rec1", 0)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	// Updating in place keeps a single row.
	info.Duration = 8 * time.Second
	info.Size *= 2
	require.NoError(t, store.SaveInfo("rec1", info))

	got, err = store.Info("rec1", 0)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, got.Duration)

	ids, err := store.List("rec1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids)
}

func TestListOrdersOldestFirst(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec1", false))

	for _, id := range []uint64{2, 0, 1} {
		require.NoError(t, store.SaveInfo("rec1", sampleInfo(id)))
	}

	ids, err := store.List("rec1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, ids)
}

func TestListFallsBackToDirectory(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec1", false))

	// Segment files exist but the database knows nothing about them.
	for _, id := range []uint64{0, 1} {
		require.NoError(t, os.WriteFile(store.SegmentPath("rec1", id), testutil.NullPackets(1), 0o644))
	}

	ids, err := store.List("rec1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, ids)
}

func TestInfoFallsBackToSidecar(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec1", false))

	info := sampleInfo(3)
	require.NoError(t, store.SaveInfo("rec1", info))

	// Drop the database row; the YAML sidecar still resolves.
	require.NoError(t, store.db.Where("location = ?", "rec1").Delete(&models.SegmentRecord{}).Error)

	got, err := store.Info("rec1", 3)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestDeleteRemovesEverything(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec1", false))

	require.NoError(t, os.WriteFile(store.SegmentPath("rec1", 0), testutil.NullPackets(1), 0o644))
	require.NoError(t, store.SaveInfo("rec1", sampleInfo(0)))

	require.NoError(t, store.Delete("rec1", 0))

	_, err := os.Stat(store.SegmentPath("rec1", 0))
	assert.True(t, os.IsNotExist(err))

	ids, err := store.List("rec1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRebuildInfoFromFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec1", false))

	// Three PES packets at 0s, 1s, 2s behind a proper PAT/PMT.
	stream := testutil.ProgramStream(0x100, 0x101, []int64{0, 90000, 180000})
	require.NoError(t, os.WriteFile(store.SegmentPath("rec1", 0), stream, 0o644))

	info, err := store.RebuildInfo("rec1", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.ID)
	assert.Equal(t, uint64(len(stream)), info.Size)
	assert.Equal(t, uint32(len(stream)/188), info.Packets)
	assert.GreaterOrEqual(t, info.Duration, time.Second)
	assert.NotEmpty(t, info.PIDs)
}

func TestRebuildInfoMissingFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec1", false))

	_, err := store.RebuildInfo("rec1", 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveLocationAndStaleRecordings(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("old", false))
	require.NoError(t, store.EnsureLocation("fresh", false))
	require.NoError(t, store.EnsureLocation("shifting", true))

	// Age the "old" recording.
	require.NoError(t, store.db.Model(&models.Recording{}).
		Where("location = ?", "old").
		Update("updated_at", time.Now().Add(-48*time.Hour)).Error)

	stale, err := store.StaleRecordings(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].Location)

	require.NoError(t, store.RemoveLocation("old"))
	stale, err = store.StaleRecordings(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestJanitorSweep(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("old", false))
	require.NoError(t, store.SaveInfo("old", sampleInfo(0)))
	require.NoError(t, store.db.Model(&models.Recording{}).
		Where("location = ?", "old").
		Update("updated_at", time.Now().Add(-48*time.Hour)).Error)

	janitor := NewJanitor(store, config.JanitorConfig{
		Enabled:   true,
		Retention: config.Duration(24 * time.Hour),
	}, slog.Default())
	janitor.Sweep()

	stale, err := store.StaleRecordings(time.Now())
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = os.Stat(store.dir("old"))
	assert.True(t, os.IsNotExist(err))
}
