package dvr

import "time"

// This file holds the contracts of the engine's collaborators: the
// low-level recorder, the low-level player and the segment store. The
// engine consumes them; implementations live in internal/dvr/driver and
// internal/storage, with fakes in internal/testutil.

// RecordSegmentParams tells a recorder which segment to produce next and
// what to do with each PID at the boundary.
type RecordSegmentParams struct {
	Location  string
	SegmentID uint64
	PIDs      []StreamInfo
	Actions   []PIDAction
}

// DriverRecordStatus is the per-segment status a recorder reports through
// its event callback.
type DriverRecordStatus struct {
	State RecordState
	Info  SegmentInfo
}

// RecorderEventFunc receives recorder status events. Callbacks may arrive
// on arbitrary goroutines and must not block.
type RecorderEventFunc func(status DriverRecordStatus)

// RecorderOpenParams configure a recorder instance.
type RecorderOpenParams struct {
	DemuxDevice int
	// DevicePath locates the demux source for recorders that open it
	// themselves (the disk recorder does).
	DevicePath string
	Flags      RecordFlags
	// NotificationSize is how many bytes the recorder writes between
	// status events.
	NotificationSize uint64
	OnEvent          RecorderEventFunc
}

// Recorder is the low-level recording collaborator: it reads TS from a
// demux device and writes segment files, reporting progress through the
// event callback registered at open.
type Recorder interface {
	// StartSegment opens the first segment of a recording.
	StartSegment(params RecordSegmentParams) error
	// NextSegment atomically finalizes the current segment and opens the
	// next, returning the finished segment's final statistics.
	NextSegment(params RecordSegmentParams) (SegmentInfo, error)
	// StopSegment finalizes the current segment and stops recording.
	StopSegment() (SegmentInfo, error)
	// Close releases the recorder.
	Close() error
}

// OpenRecorderFunc opens a recorder instance; the engine is configured
// with one at construction.
type OpenRecorderFunc func(params RecorderOpenParams) (Recorder, error)

// PlaybackSegment describes one segment as admitted into a player.
type PlaybackSegment struct {
	SegmentID uint64
	Location  string
	PIDs      PlaybackPIDs
	Flags     SegmentFlags
}

// PlayStatus is the per-segment status a player reports.
type PlayStatus struct {
	State     PlaybackState
	SegmentID uint64
	TimeCur   time.Duration
	TimeEnd   time.Duration
	Speed     float32
	Flags     PlaybackFlags
}

// PlayerEventFunc receives player events. Callbacks may arrive on
// arbitrary goroutines and must not block.
type PlayerEventFunc func(event PlaybackEventKind, status PlayStatus)

// PlayerOpenParams configure a player instance.
type PlayerOpenParams struct {
	DemuxDevice  int
	BlockSize    int
	Timeshift    bool
	PlayerHandle uintptr
	OnEvent      PlayerEventFunc
}

// Player is the low-level playback collaborator: it consumes a set of
// segments and drives the external A/V decoder.
type Player interface {
	AddSegment(seg PlaybackSegment) error
	RemoveSegment(segmentID uint64) error
	UpdateSegmentPIDs(segmentID uint64, pids PlaybackPIDs) error
	Start(flags PlaybackFlags) error
	Stop(clear bool) error
	Pause(flush bool) error
	Resume() error
	Seek(segmentID uint64, offset time.Duration) error
	SetSpeed(speed Speed) error
	Status() (PlayStatus, error)
	Close() error
}

// OpenPlayerFunc opens a player instance.
type OpenPlayerFunc func(params PlayerOpenParams) (Player, error)

// SegmentStore is the on-disk segment store collaborator. Locations are
// directory-like paths no longer than MaxLocation bytes.
type SegmentStore interface {
	// List returns the segment ids present at location, oldest first.
	List(location string) ([]uint64, error)
	// Info returns the stored metadata of one segment.
	Info(location string, segmentID uint64) (SegmentInfo, error)
	// Delete removes the segment's files and metadata.
	Delete(location string, segmentID uint64) error
}
