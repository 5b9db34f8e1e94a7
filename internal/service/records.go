// Package service exposes application-level operations over the DVR
// engine: named record sessions backed by demux device files, for the CLI
// and the HTTP control API.
package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/dvrr/internal/config"
	"github.com/jmylchreest/dvrr/internal/dvr"
	"github.com/jmylchreest/dvrr/internal/observability"
	"github.com/jmylchreest/dvrr/internal/storage"
)

// RecordRequest describes a recording to start.
type RecordRequest struct {
	// Location names the recording directory under the store.
	Location string
	// DevicePath is the demux device (or capture file) to read TS from.
	DevicePath string
	// PIDs select the elementary streams to record.
	PIDs []dvr.StreamInfo
	// Timeshift couples the recording to the timeshift playback.
	Timeshift bool
	// Zero values fall back to the configured defaults.
	MaxTime     time.Duration
	MaxSize     uint64
	SegmentSize uint64
	Scrambled   bool
}

// RecordSession is the service's view of one active recording.
type RecordSession struct {
	Handle    dvr.Handle
	Location  string
	Device    string
	StartedAt time.Time
}

// Records manages active record sessions.
type Records struct {
	engine   *dvr.Engine
	store    *storage.Store
	defaults config.RecordConfig
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[dvr.Handle]*RecordSession
}

// NewRecords creates the record session service.
func NewRecords(engine *dvr.Engine, store *storage.Store, defaults config.RecordConfig, log *slog.Logger) *Records {
	if log == nil {
		log = slog.Default()
	}
	return &Records{
		engine:   engine,
		store:    store,
		defaults: defaults,
		log:      observability.WithComponent(log, "records"),
		sessions: make(map[dvr.Handle]*RecordSession),
	}
}

// Start opens and starts a recording for the request.
func (r *Records) Start(req RecordRequest) (dvr.Handle, error) {
	if req.Location == "" || req.DevicePath == "" {
		return 0, fmt.Errorf("%w: location and device are required", dvr.ErrInvalidArg)
	}

	if err := r.store.EnsureLocation(req.Location, req.Timeshift); err != nil {
		return 0, fmt.Errorf("preparing location: %w", err)
	}

	open := dvr.RecordOpenParams{
		Location:         req.Location,
		DevicePath:       req.DevicePath,
		MaxTime:          req.MaxTime,
		MaxSize:          req.MaxSize,
		SegmentSize:      req.SegmentSize,
		NotificationSize: uint64(r.defaults.NotificationSize.Bytes()),
		Timeshift:        req.Timeshift,
	}
	if req.Scrambled {
		open.Flags |= dvr.FlagScrambled
	}
	if open.MaxTime == 0 {
		open.MaxTime = r.defaults.MaxTime.Duration()
	}
	if open.MaxSize == 0 {
		open.MaxSize = uint64(r.defaults.MaxSize.Bytes())
	}
	if open.SegmentSize == 0 {
		open.SegmentSize = uint64(r.defaults.SegmentSize.Bytes())
	}

	handle, err := r.engine.OpenRecord(open)
	if err != nil {
		return 0, err
	}
	if err := r.engine.StartRecord(handle, req.PIDs); err != nil {
		_ = r.engine.CloseRecord(handle)
		return 0, err
	}

	r.mu.Lock()
	r.sessions[handle] = &RecordSession{
		Handle:    handle,
		Location:  req.Location,
		Device:    req.DevicePath,
		StartedAt: time.Now(),
	}
	r.mu.Unlock()

	r.log.Info("recording started",
		slog.Uint64("handle", uint64(handle)),
		slog.String("location", req.Location),
		slog.String("device", req.DevicePath))
	return handle, nil
}

// Status returns the whole-session status of one recording.
func (r *Records) Status(h dvr.Handle) (dvr.RecordStatus, error) {
	return r.engine.GetRecordStatus(h)
}

// Stop finalizes the current segment of one recording.
func (r *Records) Stop(h dvr.Handle) error {
	return r.engine.StopRecord(h)
}

// Close stops and releases one recording session.
func (r *Records) Close(h dvr.Handle) error {
	r.mu.Lock()
	delete(r.sessions, h)
	r.mu.Unlock()
	return r.engine.CloseRecord(h)
}

// List returns the active sessions ordered by handle.
func (r *Records) List() []*RecordSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RecordSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// CloseAll tears down every active session, for daemon shutdown.
func (r *Records) CloseAll() {
	for _, sess := range r.List() {
		if err := r.Close(sess.Handle); err != nil {
			r.log.Warn("closing session on shutdown",
				slog.Uint64("handle", uint64(sess.Handle)),
				slog.String("error", err.Error()))
		}
	}
}

// Segments lists the stored segment metadata of one recording location.
func (r *Records) Segments(location string) ([]dvr.SegmentInfo, error) {
	ids, err := r.store.List(location)
	if err != nil {
		return nil, err
	}
	out := make([]dvr.SegmentInfo, 0, len(ids))
	for _, id := range ids {
		info, err := r.store.Info(location, id)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Store exposes the underlying segment store.
func (r *Records) Store() *storage.Store { return r.store }
