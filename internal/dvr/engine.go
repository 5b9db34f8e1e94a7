package dvr

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmylchreest/dvrr/internal/observability"
)

// RecordOpenParams configure a record session.
type RecordOpenParams struct {
	Location    string
	DemuxDevice int
	DevicePath  string
	Flags       RecordFlags
	// MaxTime bounds the whole recording; zero means unbounded. In
	// timeshift mode the oldest segment is reclaimed instead of closing.
	MaxTime time.Duration
	// MaxSize bounds the whole recording in bytes; zero means unbounded.
	MaxSize uint64
	// SegmentSize triggers rollover to a new segment; zero disables it.
	SegmentSize uint64
	// NotificationSize is forwarded to the recorder; it controls how
	// often status events arrive.
	NotificationSize uint64
	Timeshift        bool
	OnStatus         RecordEventFunc
}

// PlaybackOpenParams configure a playback session.
type PlaybackOpenParams struct {
	Location     string
	DemuxDevice  int
	BlockSize    int
	Timeshift    bool
	PlayerHandle uintptr
	OnEvent      PlaybackEventFunc
}

// recordSession is the record arm of a session slot.
type recordSession struct {
	open     RecordOpenParams
	recorder Recorder

	segments      segmentList[*SegmentInfo]
	nextSegmentID uint64
	currentID     uint64

	// updateParams carries the PID map for the next rollover; every
	// action is KEEP once recording has started.
	updateParams RecordSegmentParams

	// segStatus is the live status of the current segment; aggregate
	// covers every finished segment. The session total is their sum.
	segStatus DriverRecordStatus
	aggregate RecordStatus
}

// playbackSegment pairs the recorder-side segment statistics with the
// descriptor handed to the player.
type playbackSegment struct {
	info SegmentInfo
	play PlaybackSegment
}

// playbackSession is the playback arm of a session slot.
type playbackSession struct {
	open   PlaybackOpenParams
	player Player

	segments  segmentList[*playbackSegment]
	pidsReq   PlaybackPIDs
	currentID uint64

	segStatus PlayStatus
	aggregate PlaybackStatus
	lastEvent PlaybackEventKind
}

type recordEvent struct {
	sn     uint64
	status DriverRecordStatus
}

type playbackEvent struct {
	sn     uint64
	kind   PlaybackEventKind
	status PlayStatus
}

// notification is an event sink delivery assembled under the session lock
// and sent after release.
type notification func()

// Config wires the engine's collaborators.
type Config struct {
	Store        SegmentStore
	OpenRecorder OpenRecorderFunc
	OpenPlayer   OpenPlayerFunc
	Logger       *slog.Logger
}

// Engine is the DVR coordination layer. One engine owns the session
// tables, the two event workers and the single timeshift coupling of the
// process.
type Engine struct {
	log          *slog.Logger
	store        SegmentStore
	openRecorder OpenRecorderFunc
	openPlayer   OpenPlayerFunc

	records   sessionTable[*recordSession]
	playbacks sessionTable[*playbackSession]

	recordWorker   *worker[recordEvent]
	playbackWorker *worker[playbackEvent]

	// Only one timeshift pair exists per engine; holders of these
	// serials re-validate them under the target session lock.
	tsMu         sync.Mutex
	tsRecordSN   uint64
	tsPlaybackSN uint64
}

// New creates an engine. Store, OpenRecorder and OpenPlayer are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.OpenRecorder == nil || cfg.OpenPlayer == nil {
		return nil, fmt.Errorf("%w: store and driver factories are required", ErrInvalidArg)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		log:          observability.WithComponent(log, "dvr"),
		store:        cfg.Store,
		openRecorder: cfg.OpenRecorder,
		openPlayer:   cfg.OpenPlayer,
	}
	e.recordWorker = newWorker("record", log, e.dispatchRecordEvent)
	e.playbackWorker = newWorker("playback", log, e.dispatchPlaybackEvent)
	return e, nil
}

// OpenRecord allocates a record session and opens the underlying recorder.
func (e *Engine) OpenRecord(params RecordOpenParams) (Handle, error) {
	if err := validateLocation(params.Location); err != nil {
		return 0, err
	}

	slot, sn, err := e.records.allocate()
	if err != nil {
		return 0, err
	}
	defer slot.mu.Unlock()

	instance := uuid.NewString()
	e.log.Info("opening record session",
		slog.Uint64("sn", sn),
		slog.String("location", params.Location),
		slog.Int("dmx", params.DemuxDevice),
		slog.Bool("timeshift", params.Timeshift),
		slog.String("instance", instance))

	e.recordWorker.request()

	rec, err := e.openRecorder(RecorderOpenParams{
		DemuxDevice:      params.DemuxDevice,
		DevicePath:       params.DevicePath,
		Flags:            params.Flags,
		NotificationSize: params.NotificationSize,
		OnEvent: func(status DriverRecordStatus) {
			e.recordWorker.post(recordEvent{sn: sn, status: status})
		},
	})
	if err != nil {
		e.records.release(slot)
		e.recordWorker.release()
		return 0, fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	slot.sess = &recordSession{open: params, recorder: rec}

	if params.Timeshift {
		e.tsMu.Lock()
		e.tsRecordSN = sn
		e.tsMu.Unlock()
	}

	observability.SessionsActive.WithLabelValues("record").Inc()
	return Handle(sn), nil
}

// CloseRecord stops and tears down a record session.
func (e *Engine) CloseRecord(h Handle) error {
	slot, sess, err := e.lockRecord(h)
	if err != nil {
		return err
	}

	if _, err := sess.recorder.StopSegment(); err != nil {
		e.log.Debug("stop segment on close", slog.Uint64("sn", uint64(h)), slog.String("error", err.Error()))
	}
	closeErr := sess.recorder.Close()

	e.tsMu.Lock()
	if e.tsRecordSN == uint64(h) {
		e.tsRecordSN = 0
	}
	e.tsMu.Unlock()

	sess.segments.Clear()
	e.records.release(slot)
	slot.mu.Unlock()

	e.recordWorker.release()
	observability.SessionsActive.WithLabelValues("record").Dec()

	e.log.Info("record session closed", slog.Uint64("sn", uint64(h)))
	if closeErr != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, closeErr)
	}
	return nil
}

// OpenPlayback allocates a playback session and opens the underlying
// player.
func (e *Engine) OpenPlayback(params PlaybackOpenParams) (Handle, error) {
	if err := validateLocation(params.Location); err != nil {
		return 0, err
	}

	slot, sn, err := e.playbacks.allocate()
	if err != nil {
		return 0, err
	}
	defer slot.mu.Unlock()

	e.log.Info("opening playback session",
		slog.Uint64("sn", sn),
		slog.String("location", params.Location),
		slog.Bool("timeshift", params.Timeshift))

	e.playbackWorker.request()

	player, err := e.openPlayer(PlayerOpenParams{
		DemuxDevice:  params.DemuxDevice,
		BlockSize:    params.BlockSize,
		Timeshift:    params.Timeshift,
		PlayerHandle: params.PlayerHandle,
		OnEvent: func(event PlaybackEventKind, status PlayStatus) {
			e.playbackWorker.post(playbackEvent{sn: sn, kind: event, status: status})
		},
	})
	if err != nil {
		e.playbacks.release(slot)
		e.playbackWorker.release()
		return 0, fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	slot.sess = &playbackSession{open: params, player: player}

	if params.Timeshift {
		e.tsMu.Lock()
		e.tsPlaybackSN = sn
		e.tsMu.Unlock()
	}

	observability.SessionsActive.WithLabelValues("playback").Inc()
	return Handle(sn), nil
}

// ClosePlayback stops and tears down a playback session.
func (e *Engine) ClosePlayback(h Handle) error {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return err
	}

	e.tsMu.Lock()
	if e.tsPlaybackSN == uint64(h) {
		e.tsPlaybackSN = 0
	}
	e.tsMu.Unlock()

	if err := sess.player.Stop(true); err != nil {
		e.log.Debug("stop player on close", slog.Uint64("sn", uint64(h)), slog.String("error", err.Error()))
	}
	sess.segments.Each(func(seg *playbackSegment) bool {
		if err := sess.player.RemoveSegment(seg.play.SegmentID); err != nil {
			e.log.Debug("remove segment on close",
				slog.Uint64("sn", uint64(h)),
				slog.Uint64("segment", seg.play.SegmentID),
				slog.String("error", err.Error()))
		}
		return true
	})
	sess.segments.Clear()
	closeErr := sess.player.Close()

	e.playbacks.release(slot)
	slot.mu.Unlock()

	e.playbackWorker.release()
	observability.SessionsActive.WithLabelValues("playback").Dec()

	e.log.Info("playback session closed", slog.Uint64("sn", uint64(h)))
	if closeErr != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, closeErr)
	}
	return nil
}

// lockRecord resolves a handle to its locked record session.
func (e *Engine) lockRecord(h Handle) (*sessionSlot[*recordSession], *recordSession, error) {
	if h == 0 {
		return nil, nil, ErrInvalidArg
	}
	slot := e.records.find(uint64(h))
	if slot == nil {
		return nil, nil, ErrClosed
	}
	slot.mu.Lock()
	if slot.sn.Load() != uint64(h) || slot.sess == nil {
		slot.mu.Unlock()
		return nil, nil, ErrClosed
	}
	return slot, slot.sess, nil
}

// lockPlayback resolves a handle to its locked playback session.
func (e *Engine) lockPlayback(h Handle) (*sessionSlot[*playbackSession], *playbackSession, error) {
	if h == 0 {
		return nil, nil, ErrInvalidArg
	}
	slot := e.playbacks.find(uint64(h))
	if slot == nil {
		return nil, nil, ErrClosed
	}
	slot.mu.Lock()
	if slot.sn.Load() != uint64(h) || slot.sess == nil {
		slot.mu.Unlock()
		return nil, nil, ErrClosed
	}
	return slot, slot.sess, nil
}

// withTimeshiftPlayback runs fn with the linked timeshift playback session
// locked, if one exists. Callers may hold a record session lock: the
// cross-session order is always record first, playback second.
func (e *Engine) withTimeshiftPlayback(fn func(ps *playbackSession) []notification) []notification {
	e.tsMu.Lock()
	sn := e.tsPlaybackSN
	e.tsMu.Unlock()
	if sn == 0 {
		return nil
	}

	slot := e.playbacks.find(sn)
	if slot == nil {
		return nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.sn.Load() != sn || slot.sess == nil {
		return nil
	}
	return fn(slot.sess)
}

func validateLocation(location string) error {
	if location == "" || len(location) > MaxLocation {
		return fmt.Errorf("%w: location", ErrInvalidArg)
	}
	return nil
}

func deliver(notifs []notification) {
	for _, n := range notifs {
		n()
	}
}
