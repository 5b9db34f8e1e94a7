package testutil

import (
	"sync"
	"time"

	"github.com/jmylchreest/dvrr/internal/dvr"
)

// FakeRecorder is a scriptable dvr.Recorder. Tests drive the engine by
// emitting status events through the callback captured at open.
type FakeRecorder struct {
	mu     sync.Mutex
	params dvr.RecorderOpenParams

	StartCalls []dvr.RecordSegmentParams
	NextCalls  []dvr.RecordSegmentParams
	Stopped    bool
	Closed     bool

	// NextInfo is returned from NextSegment; StopInfo from StopSegment.
	NextInfo dvr.SegmentInfo
	StopInfo dvr.SegmentInfo
}

// StartSegment implements dvr.Recorder.
func (f *FakeRecorder) StartSegment(params dvr.RecordSegmentParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StartCalls = append(f.StartCalls, params)
	return nil
}

// NextSegment implements dvr.Recorder.
func (f *FakeRecorder) NextSegment(params dvr.RecordSegmentParams) (dvr.SegmentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NextCalls = append(f.NextCalls, params)
	return f.NextInfo, nil
}

// StopSegment implements dvr.Recorder.
func (f *FakeRecorder) StopSegment() (dvr.SegmentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stopped = true
	return f.StopInfo, nil
}

// Close implements dvr.Recorder.
func (f *FakeRecorder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// NextSegmentCalls returns a copy of the NextSegment call parameters.
func (f *FakeRecorder) NextSegmentCalls() []dvr.RecordSegmentParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dvr.RecordSegmentParams(nil), f.NextCalls...)
}

// StartSegmentCalls returns a copy of the StartSegment call parameters.
func (f *FakeRecorder) StartSegmentCalls() []dvr.RecordSegmentParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dvr.RecordSegmentParams(nil), f.StartCalls...)
}

// SetNextInfo configures the value NextSegment returns.
func (f *FakeRecorder) SetNextInfo(info dvr.SegmentInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NextInfo = info
}

// IsClosed reports whether Close was called.
func (f *FakeRecorder) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// Emit delivers a recorder status event to the engine.
func (f *FakeRecorder) Emit(status dvr.DriverRecordStatus) {
	f.mu.Lock()
	fn := f.params.OnEvent
	f.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}

// EmitStarted delivers a STARTED status for the given segment.
func (f *FakeRecorder) EmitStarted(id uint64, duration time.Duration, size uint64, packets uint32) {
	f.Emit(dvr.DriverRecordStatus{
		State: dvr.RecordStarted,
		Info:  dvr.SegmentInfo{ID: id, Duration: duration, Size: size, Packets: packets},
	})
}

// OpenFakeRecorder returns a recorder factory plus access to the opened
// instances.
func OpenFakeRecorder() (dvr.OpenRecorderFunc, func() []*FakeRecorder) {
	var mu sync.Mutex
	var opened []*FakeRecorder
	factory := func(params dvr.RecorderOpenParams) (dvr.Recorder, error) {
		rec := &FakeRecorder{params: params}
		mu.Lock()
		opened = append(opened, rec)
		mu.Unlock()
		return rec, nil
	}
	list := func() []*FakeRecorder {
		mu.Lock()
		defer mu.Unlock()
		return append([]*FakeRecorder(nil), opened...)
	}
	return factory, list
}

// FakePlayer is a scriptable dvr.Player recording every call.
type FakePlayer struct {
	mu     sync.Mutex
	params dvr.PlayerOpenParams

	Added       []dvr.PlaybackSegment
	Removed     []uint64
	PIDUpdates  []uint64
	Seeks       [][2]int64 // segment id, offset ms
	Speeds      []dvr.Speed
	Resumes     int
	Pauses      int
	Starts      int
	Stops       int
	Closed      bool
	CurrentStat dvr.PlayStatus
}

// AddSegment implements dvr.Player.
func (f *FakePlayer) AddSegment(seg dvr.PlaybackSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Added = append(f.Added, seg)
	return nil
}

// RemoveSegment implements dvr.Player.
func (f *FakePlayer) RemoveSegment(segmentID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, segmentID)
	return nil
}

// UpdateSegmentPIDs implements dvr.Player.
func (f *FakePlayer) UpdateSegmentPIDs(segmentID uint64, _ dvr.PlaybackPIDs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PIDUpdates = append(f.PIDUpdates, segmentID)
	return nil
}

// Start implements dvr.Player.
func (f *FakePlayer) Start(_ dvr.PlaybackFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Starts++
	return nil
}

// Stop implements dvr.Player.
func (f *FakePlayer) Stop(_ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stops++
	return nil
}

// Pause implements dvr.Player.
func (f *FakePlayer) Pause(_ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pauses++
	return nil
}

// Resume implements dvr.Player.
func (f *FakePlayer) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resumes++
	return nil
}

// Seek implements dvr.Player.
func (f *FakePlayer) Seek(segmentID uint64, offset time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Seeks = append(f.Seeks, [2]int64{int64(segmentID), offset.Milliseconds()})
	return nil
}

// SetSpeed implements dvr.Player.
func (f *FakePlayer) SetSpeed(speed dvr.Speed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Speeds = append(f.Speeds, speed)
	return nil
}

// Status implements dvr.Player.
func (f *FakePlayer) Status() (dvr.PlayStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CurrentStat, nil
}

// Close implements dvr.Player.
func (f *FakePlayer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// ResumeCount returns how often Resume was called.
func (f *FakePlayer) ResumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Resumes
}

// RemovedSegments returns the ids passed to RemoveSegment.
func (f *FakePlayer) RemovedSegments() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.Removed...)
}

// Emit delivers a player event to the engine.
func (f *FakePlayer) Emit(event dvr.PlaybackEventKind, status dvr.PlayStatus) {
	f.mu.Lock()
	f.CurrentStat = status
	fn := f.params.OnEvent
	f.mu.Unlock()
	if fn != nil {
		fn(event, status)
	}
}

// OpenFakePlayer returns a player factory plus access to the opened
// instances.
func OpenFakePlayer() (dvr.OpenPlayerFunc, func() []*FakePlayer) {
	var mu sync.Mutex
	var opened []*FakePlayer
	factory := func(params dvr.PlayerOpenParams) (dvr.Player, error) {
		p := &FakePlayer{params: params}
		mu.Lock()
		opened = append(opened, p)
		mu.Unlock()
		return p, nil
	}
	list := func() []*FakePlayer {
		mu.Lock()
		defer mu.Unlock()
		return append([]*FakePlayer(nil), opened...)
	}
	return factory, list
}

// FakeStore is an in-memory dvr.SegmentStore.
type FakeStore struct {
	mu       sync.Mutex
	Segments map[string][]dvr.SegmentInfo
	Deleted  []uint64
}

// NewFakeStore creates an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{Segments: make(map[string][]dvr.SegmentInfo)}
}

// Add seeds one segment at a location.
func (s *FakeStore) Add(location string, info dvr.SegmentInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Segments[location] = append(s.Segments[location], info)
}

// List implements dvr.SegmentStore.
func (s *FakeStore) List(location string) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for _, seg := range s.Segments[location] {
		ids = append(ids, seg.ID)
	}
	return ids, nil
}

// Info implements dvr.SegmentStore.
func (s *FakeStore) Info(location string, segmentID uint64) (dvr.SegmentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.Segments[location] {
		if seg.ID == segmentID {
			return seg, nil
		}
	}
	return dvr.SegmentInfo{}, dvr.ErrNoSegments
}

// Delete implements dvr.SegmentStore.
func (s *FakeStore) Delete(location string, segmentID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deleted = append(s.Deleted, segmentID)
	segs := s.Segments[location]
	for i, seg := range segs {
		if seg.ID == segmentID {
			s.Segments[location] = append(segs[:i], segs[i+1:]...)
			break
		}
	}
	return nil
}

// DeletedSegments returns every id passed to Delete.
func (s *FakeStore) DeletedSegments() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.Deleted...)
}
