package driver

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dvrr/internal/config"
	"github.com/jmylchreest/dvrr/internal/database"
	"github.com/jmylchreest/dvrr/internal/dvr"
	"github.com/jmylchreest/dvrr/internal/storage"
	"github.com/jmylchreest/dvrr/internal/testutil"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(dir, "meta.db"),
		LogLevel: "silent",
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.New(config.StorageConfig{
		BaseDir:       filepath.Join(dir, "data"),
		DiskWatermark: 100,
		Sidecars:      true,
	}, db, slog.Default())
	require.NoError(t, err)
	return store
}

// eventCollector gathers recorder status events.
type eventCollector struct {
	mu     sync.Mutex
	events []dvr.DriverRecordStatus
}

func (c *eventCollector) add(status dvr.DriverRecordStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, status)
}

func (c *eventCollector) states() []dvr.RecordState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]dvr.RecordState, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.State)
	}
	return out
}

func (c *eventCollector) count(state dvr.RecordState) int {
	n := 0
	for _, s := range c.states() {
		if s == state {
			n++
		}
	}
	return n
}

func videoParams(location string, id uint64) dvr.RecordSegmentParams {
	return dvr.RecordSegmentParams{
		Location:  location,
		SegmentID: id,
		PIDs:      []dvr.StreamInfo{{PID: 0x100, Type: dvr.StreamVideo}},
		Actions:   []dvr.PIDAction{dvr.PIDCreate},
	}
}

func TestFileRecorderWritesSegment(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec", false))

	// Two seconds of synthetic video: PES packets at 0s, 1s and 2s.
	stream := testutil.ProgramStream(0x100, 0, []int64{0, 90000, 180000})

	collector := &eventCollector{}
	rec := NewFileRecorder(bytes.NewReader(stream), store, dvr.RecorderOpenParams{
		NotificationSize: 188,
		OnEvent:          collector.add,
	}, slog.Default())

	require.NoError(t, rec.StartSegment(videoParams("rec", 0)))

	// The source drains quickly; progress events arrive as it does.
	require.Eventually(t, func() bool {
		return collector.count(dvr.RecordStarted) > 0
	}, 2*time.Second, 5*time.Millisecond)

	info, err := rec.StopSegment()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.ID)
	assert.Equal(t, uint64(len(stream)), info.Size)
	assert.Equal(t, uint32(len(stream)/188), info.Packets)
	assert.Equal(t, 2*time.Second, info.Duration)

	require.NoError(t, rec.Close())

	// The store carries the final metadata and the bytes are on disk.
	stored, err := store.Info("rec", 0)
	require.NoError(t, err)
	assert.Equal(t, info.Size, stored.Size)
	assert.Equal(t, info.Duration, stored.Duration)

	assert.Equal(t, dvr.RecordOpened, collector.states()[0])
	assert.Equal(t, 1, collector.count(dvr.RecordStopped))
	assert.Equal(t, 1, collector.count(dvr.RecordClosed))
}

func TestFileRecorderNextSegment(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureLocation("rec", false))

	stream := testutil.ProgramStream(0x100, 0, []int64{0, 90000})

	collector := &eventCollector{}
	rec := NewFileRecorder(bytes.NewReader(stream), store, dvr.RecorderOpenParams{
		NotificationSize: 188,
		OnEvent:          collector.add,
	}, slog.Default())

	require.NoError(t, rec.StartSegment(videoParams("rec", 0)))

	// Wait for the source to drain into segment 0.
	require.Eventually(t, func() bool {
		return collector.count(dvr.RecordStarted) > 0
	}, 2*time.Second, 5*time.Millisecond)

	finished, err := rec.NextSegment(videoParams("rec", 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), finished.ID)
	assert.NotZero(t, finished.Size)

	info, err := rec.StopSegment()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.ID)
	require.NoError(t, rec.Close())

	ids, err := store.List("rec")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, ids)
}

func TestFileRecorderStopWithoutStart(t *testing.T) {
	store := newTestStore(t)
	rec := NewFileRecorder(bytes.NewReader(nil), store, dvr.RecorderOpenParams{}, slog.Default())

	_, err := rec.StopSegment()
	assert.ErrorIs(t, err, ErrNotRecording)
	require.NoError(t, rec.Close())
}
