// Package dvr implements the DVR coordination engine: segmented recording
// of live MPEG-TS feeds and playback of those recordings with trick modes
// and timeshift. It owns session lifecycles, drives the low-level recorder
// and player collaborators as asynchronous state machines behind per-kind
// event workers, applies retention policies, and aggregates per-segment
// statistics into whole-session status.
package dvr

import "time"

// Capacity and timing constants of the engine.
const (
	// MaxSessions is the number of record and playback session slots each.
	MaxSessions = 10

	// MaxPIDs is the maximum number of elementary streams per segment.
	MaxPIDs = 16

	// MaxLocation is the maximum accepted length of a location path.
	MaxLocation = 256

	// PIDInvalid marks an unset elementary stream PID (the TS null PID).
	PIDInvalid = 0x1fff

	// timeshiftResumeData is how much data must accrue past the paused
	// position before a timeshift playback is automatically resumed.
	timeshiftResumeData = 2000 * time.Millisecond

	// playbackEndGap is the tolerance applied when deciding whether a
	// REACHED_END event really is the end of the whole recording.
	playbackEndGap = 1000 * time.Millisecond

	// lockRetryInterval is how often a worker re-tries a busy session
	// lock while checking for shutdown.
	lockRetryInterval = 10 * time.Millisecond
)

// RecordState mirrors the state reported by the recorder collaborator.
type RecordState int

// Recorder states.
const (
	RecordOpened RecordState = iota
	RecordStarted
	RecordStopped
	RecordClosed
)

// String returns the lowercase state name.
func (s RecordState) String() string {
	switch s {
	case RecordOpened:
		return "opened"
	case RecordStarted:
		return "started"
	case RecordStopped:
		return "stopped"
	case RecordClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PlaybackState mirrors the state reported by the player collaborator.
type PlaybackState int

// Player states.
const (
	PlaybackStopped PlaybackState = iota
	PlaybackStarted
	PlaybackPaused
	PlaybackFF
	PlaybackFB
)

// String returns the lowercase state name.
func (s PlaybackState) String() string {
	switch s {
	case PlaybackStopped:
		return "stopped"
	case PlaybackStarted:
		return "started"
	case PlaybackPaused:
		return "paused"
	case PlaybackFF:
		return "fast-forward"
	case PlaybackFB:
		return "fast-backward"
	default:
		return "unknown"
	}
}

// StreamType classifies an elementary stream within a segment.
type StreamType uint8

// Elementary stream types.
const (
	StreamVideo StreamType = iota
	StreamAudio
	StreamAD
	StreamSubtitle
	StreamPCR
)

// StreamInfo describes one elementary stream recorded into a segment.
type StreamInfo struct {
	PID    int
	Type   StreamType
	Format int
}

// SegmentInfo is the descriptor of one on-disk segment: identity plus the
// statistics the recorder has accumulated for it so far.
type SegmentInfo struct {
	ID       uint64
	Duration time.Duration
	Size     uint64
	Packets  uint32
	PIDs     []StreamInfo
}

// Stats is an additive statistics triple used for both per-segment and
// whole-session accounting.
type Stats struct {
	Time    time.Duration
	Size    uint64
	Packets uint32
}

// add accumulates a segment's statistics.
func (s *Stats) add(info SegmentInfo) {
	s.Time += info.Duration
	s.Size += info.Size
	s.Packets += uint32(info.Packets)
}

// RecordFlags carry open-time options for a recording.
type RecordFlags uint32

// Record open flags.
const (
	// FlagScrambled marks the recorded service as scrambled; timeshift
	// playback segments inherit SegmentEncrypted from it.
	FlagScrambled RecordFlags = 1 << iota
	FlagAccurate
)

// PIDAction tells the recorder what to do with a PID at a segment boundary.
type PIDAction int

// PID actions.
const (
	PIDCreate PIDAction = iota
	PIDKeep
	PIDClose
)

// SegmentFlags carry per-segment playback properties.
type SegmentFlags uint32

// Playback segment flags.
const (
	SegmentDisplayable SegmentFlags = 1 << iota
	SegmentContinuous
	SegmentEncrypted
)

// ElemPID identifies one elementary stream requested for playback.
type ElemPID struct {
	PID    int
	Format int
}

// PlaybackPIDs is the full set of streams a playback session decodes.
type PlaybackPIDs struct {
	Video    ElemPID
	Audio    ElemPID
	AD       ElemPID
	Subtitle ElemPID
	PCR      ElemPID
}

// PlaybackFlags carry start-time options for playback.
type PlaybackFlags uint32

// SpeedMode is the trick-mode direction of a playback speed.
type SpeedMode int

// Speed directions.
const (
	SpeedForward SpeedMode = iota
	SpeedBackward
)

// Speed is a trick-mode playback speed request.
type Speed struct {
	Mode  SpeedMode
	Value float32
}

// PlaybackEventKind enumerates the events the player collaborator reports.
type PlaybackEventKind int

// Player events.
const (
	eventNone PlaybackEventKind = iota
	EventFirstFrame
	EventReachedEnd
	EventTransitionOK
	EventNotifyPlaytime
	EventError
	EventTransitionFailed
	EventKeyFailure
	EventNoKey
)

// String returns a short event name for logging.
func (e PlaybackEventKind) String() string {
	switch e {
	case EventFirstFrame:
		return "first-frame"
	case EventReachedEnd:
		return "reached-end"
	case EventTransitionOK:
		return "transition-ok"
	case EventNotifyPlaytime:
		return "playtime"
	case EventError:
		return "error"
	case EventTransitionFailed:
		return "transition-failed"
	case EventKeyFailure:
		return "key-failure"
	case EventNoKey:
		return "no-key"
	default:
		return "none"
	}
}

// RecordStatus is the whole-session record status delivered to the
// application: the live state plus statistics aggregated across every
// segment of the session.
type RecordStatus struct {
	State RecordState
	Info  Stats
	PIDs  []StreamInfo
}

// PlaybackStatus is the whole-session playback status delivered to the
// application. Current covers everything strictly before the play cursor;
// Full covers the entire recording as currently known.
type PlaybackStatus struct {
	State   PlaybackState
	Speed   float32
	Flags   PlaybackFlags
	PIDs    PlaybackPIDs
	Current Stats
	Full    Stats
}

// RecordEventFunc receives whole-session record status updates.
type RecordEventFunc func(status RecordStatus)

// PlaybackEventFunc receives player events with whole-session status.
type PlaybackEventFunc func(event PlaybackEventKind, status PlaybackStatus)
