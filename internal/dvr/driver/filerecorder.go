// Package driver provides concrete implementations of the engine's
// recorder collaborator. The disk recorder consumes an abstract demux
// source and produces 188-byte-aligned segment files through the segment
// store, reporting progress at the configured notification interval.
package driver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/dvrr/internal/dvr"
	"github.com/jmylchreest/dvrr/internal/observability"
	"github.com/jmylchreest/dvrr/internal/storage"
	"github.com/jmylchreest/dvrr/internal/tsindex"
)

// ErrNotRecording is returned for segment operations before StartSegment.
var ErrNotRecording = errors.New("recorder is not recording")

const pumpChunkSize = 64 * tsindex.PacketSize

// FileRecorder writes a demux source to on-disk segments. It implements
// dvr.Recorder.
type FileRecorder struct {
	source io.Reader
	closer io.Closer
	store  *storage.Store
	params dvr.RecorderOpenParams
	log    *slog.Logger

	mu       sync.Mutex
	file     *os.File
	location string
	info     dvr.SegmentInfo
	firstPTS int64
	lastPTS  int64
	notified uint64

	indexer *tsindex.Indexer
	carry   []byte

	stop chan struct{}
	done chan struct{}
}

// OpenRecorder returns a dvr.OpenRecorderFunc producing disk recorders
// over the store. Each recorder opens the demux source named by the open
// parameters and owns it until Close.
func OpenRecorder(store *storage.Store, log *slog.Logger) dvr.OpenRecorderFunc {
	return func(params dvr.RecorderOpenParams) (dvr.Recorder, error) {
		source, err := os.Open(params.DevicePath)
		if err != nil {
			return nil, fmt.Errorf("opening demux source: %w", err)
		}
		rec := NewFileRecorder(source, store, params, log)
		rec.closer = source
		return rec, nil
	}
}

// NewFileRecorder creates a recorder reading TS from source. OpenRecorder
// wraps it as the engine's OpenRecorderFunc, opening the source itself.
func NewFileRecorder(source io.Reader, store *storage.Store, params dvr.RecorderOpenParams, log *slog.Logger) *FileRecorder {
	if log == nil {
		log = slog.Default()
	}
	if params.NotificationSize == 0 {
		params.NotificationSize = 10 * 1024
	}
	r := &FileRecorder{
		source: source,
		store:  store,
		params: params,
		log: observability.WithComponent(log, "filerecorder").
			With(slog.String("instance", uuid.NewString())),
	}
	r.emit(dvr.DriverRecordStatus{State: dvr.RecordOpened})
	return r
}

// StartSegment opens the first segment and starts the pump.
func (r *FileRecorder) StartSegment(params dvr.RecordSegmentParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return fmt.Errorf("segment %d already recording", r.info.ID)
	}

	if err := r.openSegmentLocked(params); err != nil {
		return err
	}

	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.pump()
	return nil
}

// NextSegment finalizes the current segment and opens the next without
// interrupting the pump.
func (r *FileRecorder) NextSegment(params dvr.RecordSegmentParams) (dvr.SegmentInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return dvr.SegmentInfo{}, ErrNotRecording
	}

	finished := r.finishSegmentLocked()
	if err := r.openSegmentLocked(params); err != nil {
		return finished, err
	}
	return finished, nil
}

// StopSegment stops the pump and finalizes the current segment.
func (r *FileRecorder) StopSegment() (dvr.SegmentInfo, error) {
	r.mu.Lock()
	if r.file == nil {
		r.mu.Unlock()
		return dvr.SegmentInfo{}, ErrNotRecording
	}
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	finished := r.finishSegmentLocked()

	r.emit(dvr.DriverRecordStatus{State: dvr.RecordStopped, Info: finished})
	return finished, nil
}

// Close releases the recorder. A still-running pump is stopped first.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	stop, done := r.stop, r.done
	running := r.file != nil
	r.mu.Unlock()

	if running {
		close(stop)
		<-done
		r.mu.Lock()
		r.finishSegmentLocked()
		r.mu.Unlock()
	}

	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			r.log.Debug("closing demux source", slog.String("error", err.Error()))
		}
	}

	r.emit(dvr.DriverRecordStatus{State: dvr.RecordClosed})
	return nil
}

// openSegmentLocked creates the segment file and resets per-segment
// accounting. Caller holds r.mu.
func (r *FileRecorder) openSegmentLocked(params dvr.RecordSegmentParams) error {
	path := r.store.SegmentPath(params.Location, params.SegmentID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating segment file: %w", err)
	}

	r.file = f
	r.location = params.Location
	r.info = dvr.SegmentInfo{
		ID:   params.SegmentID,
		PIDs: append([]dvr.StreamInfo(nil), params.PIDs...),
	}
	r.firstPTS = tsindex.PTSNone
	r.lastPTS = tsindex.PTSNone
	r.notified = 0

	// PTS of the video stream drives the duration accounting.
	r.indexer = tsindex.New()
	r.carry = nil
	for _, pid := range params.PIDs {
		if pid.Type == dvr.StreamVideo {
			r.indexer.SetVideoPID(pid.PID)
			break
		}
	}
	r.indexer.SetEventFunc(func(evt tsindex.Event) {
		if evt.Type != tsindex.EventVideoPTS || evt.PTS == tsindex.PTSNone {
			return
		}
		if r.firstPTS == tsindex.PTSNone {
			r.firstPTS = evt.PTS
		}
		r.lastPTS = evt.PTS
	})

	r.log.Info("segment opened",
		slog.String("location", params.Location),
		slog.Uint64("segment", params.SegmentID))
	return nil
}

// finishSegmentLocked closes the file and persists the final statistics.
// Caller holds r.mu.
func (r *FileRecorder) finishSegmentLocked() dvr.SegmentInfo {
	if r.file == nil {
		return r.info
	}
	if err := r.file.Close(); err != nil {
		r.log.Warn("closing segment file", slog.String("error", err.Error()))
	}
	r.file = nil

	finished := r.snapshotLocked()
	if err := r.store.SaveInfo(r.location, finished); err != nil {
		r.log.Error("persisting segment info",
			slog.Uint64("segment", finished.ID),
			slog.String("error", err.Error()))
	}
	return finished
}

// snapshotLocked captures the segment info with the PTS-derived duration.
func (r *FileRecorder) snapshotLocked() dvr.SegmentInfo {
	info := r.info
	if r.firstPTS != tsindex.PTSNone && r.lastPTS > r.firstPTS {
		info.Duration = time.Duration((r.lastPTS-r.firstPTS)/90) * time.Millisecond
	}
	return info
}

// pump moves bytes from the source into the current segment file until
// stopped or the source drains.
func (r *FileRecorder) pump() {
	defer close(r.done)
	buf := make([]byte, pumpChunkSize)

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		n, err := r.source.Read(buf)
		if n > 0 {
			r.consume(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Error("demux source read", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// consume writes one chunk and fires a status event whenever another
// notification interval has been crossed.
func (r *FileRecorder) consume(chunk []byte) {
	r.mu.Lock()
	if r.file == nil {
		r.mu.Unlock()
		return
	}

	if _, err := r.file.Write(chunk); err != nil {
		r.log.Error("writing segment", slog.String("error", err.Error()))
		r.mu.Unlock()
		return
	}
	r.info.Size += uint64(len(chunk))
	r.info.Packets = uint32(r.info.Size / tsindex.PacketSize)

	// Feed the indexer, re-presenting unconsumed tails across chunks.
	data := chunk
	if len(r.carry) > 0 {
		data = append(r.carry, chunk...)
	}
	rest := r.indexer.Parse(data)
	r.carry = append(r.carry[:0], data[len(data)-rest:]...)

	var status *dvr.DriverRecordStatus
	location := r.location
	if r.info.Size-r.notified >= r.params.NotificationSize {
		r.notified = r.info.Size
		status = &dvr.DriverRecordStatus{State: dvr.RecordStarted, Info: r.snapshotLocked()}
	}
	r.mu.Unlock()

	if status != nil {
		if err := r.store.SaveInfo(location, status.Info); err != nil {
			r.log.Debug("persisting segment progress", slog.String("error", err.Error()))
		}
		r.emit(*status)
	}
}

func (r *FileRecorder) emit(status dvr.DriverRecordStatus) {
	if r.params.OnEvent != nil {
		r.params.OnEvent(status)
	}
}
