package dvr

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/dvrr/internal/observability"
)

// StartPlayback enumerates the segments at the session's location, admits
// them into the player and starts playing from the oldest.
func (e *Engine) StartPlayback(h Handle, flags PlaybackFlags, pids PlaybackPIDs) error {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return err
	}
	defer slot.mu.Unlock()

	ids, err := e.store.List(sess.open.Location)
	if err != nil {
		return fmt.Errorf("listing segments at %s: %w", sess.open.Location, err)
	}
	if len(ids) == 0 {
		return ErrNoSegments
	}

	var first SegmentInfo
	got := false
	for _, id := range ids {
		info, err := e.store.Info(sess.open.Location, id)
		if err != nil {
			return fmt.Errorf("segment %d info at %s: %w", id, sess.open.Location, err)
		}
		if err := e.addPlaybackSegment(sess, info, pids, SegmentDisplayable|SegmentContinuous); err != nil {
			return fmt.Errorf("%w: add segment %d: %v", ErrDeviceIO, id, err)
		}
		if !got {
			first = info
			got = true
		}
	}

	sess.pidsReq = pids

	if err := sess.player.Seek(first.ID, 0); err != nil {
		return fmt.Errorf("%w: seek: %v", ErrDeviceIO, err)
	}
	if err := sess.player.Start(flags); err != nil {
		return fmt.Errorf("%w: start: %v", ErrDeviceIO, err)
	}

	e.log.Info("playback started",
		slog.Uint64("sn", uint64(h)),
		slog.String("location", sess.open.Location),
		slog.Int("segments", len(ids)))
	return nil
}

// StopPlayback stops the player and drops every segment from its view.
func (e *Engine) StopPlayback(h Handle) error {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return err
	}
	defer slot.mu.Unlock()

	stopErr := sess.player.Stop(true)
	sess.segments.Each(func(seg *playbackSegment) bool {
		if err := sess.player.RemoveSegment(seg.play.SegmentID); err != nil {
			e.log.Debug("remove segment on stop",
				slog.Uint64("segment", seg.play.SegmentID),
				slog.String("error", err.Error()))
		}
		return true
	})
	sess.segments.Clear()

	if stopErr != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, stopErr)
	}
	return nil
}

// PausePlayback pauses the player.
func (e *Engine) PausePlayback(h Handle) error {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return err
	}
	defer slot.mu.Unlock()

	if err := sess.player.Pause(false); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	return nil
}

// ResumePlayback resumes a paused player.
func (e *Engine) ResumePlayback(h Handle) error {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return err
	}
	defer slot.mu.Unlock()

	if err := sess.player.Resume(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	return nil
}

// SetPlaybackSpeed applies a trick-mode speed. The sign selects the
// direction, the magnitude the rate.
func (e *Engine) SetPlaybackSpeed(h Handle, speed float32) error {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return err
	}
	defer slot.mu.Unlock()

	s := Speed{Mode: SpeedForward, Value: speed}
	if speed < 0 {
		s.Mode = SpeedBackward
		s.Value = -speed
	}
	if err := sess.player.SetSpeed(s); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	return nil
}

// SeekPlayback maps a session-relative time offset onto a (segment,
// intra-segment offset) pair and seeks the player there.
func (e *Engine) SeekPlayback(h Handle, offset time.Duration) error {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return err
	}
	defer slot.mu.Unlock()

	segmentID, intra := locateOffset(&sess.segments, offset)

	e.log.Debug("seek playback",
		slog.Uint64("sn", uint64(h)),
		slog.Duration("offset", offset),
		slog.Uint64("segment", segmentID),
		slog.Duration("intra", intra))

	if err := sess.player.Seek(segmentID, intra); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	return nil
}

// locateOffset walks segments oldest to newest, subtracting durations
// until the offset falls inside one. Offsets beyond the end land in the
// newest segment.
func locateOffset(segments *segmentList[*playbackSegment], offset time.Duration) (uint64, time.Duration) {
	var (
		segmentID uint64
		lastID    uint64
		preOffset time.Duration
	)
	segments.ReverseEach(func(seg *playbackSegment) bool {
		segmentID = seg.info.ID
		if preOffset+seg.info.Duration > offset {
			return false
		}
		lastID = seg.info.ID
		preOffset += seg.info.Duration
		return true
	})
	if lastID == segmentID {
		return segmentID, offset
	}
	return segmentID, offset - preOffset
}

// UpdatePlaybackPIDs switches the decoded streams. Every admitted segment
// whose stored PID set differs is updated in the player.
func (e *Engine) UpdatePlaybackPIDs(h Handle, pids PlaybackPIDs) error {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return err
	}
	defer slot.mu.Unlock()

	sess.pidsReq = pids

	var firstErr error
	sess.segments.ReverseEach(func(seg *playbackSegment) bool {
		if seg.play.PIDs == pids {
			return true
		}
		seg.play.PIDs = pids
		if err := sess.player.UpdateSegmentPIDs(seg.play.SegmentID, pids); err != nil {
			e.log.Warn("update segment pids",
				slog.Uint64("segment", seg.play.SegmentID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
		return true // keep the list consistent even on error
	})

	if firstErr != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, firstErr)
	}
	return nil
}

// GetPlaybackStatus polls the player and returns the whole-session status.
func (e *Engine) GetPlaybackStatus(h Handle) (PlaybackStatus, error) {
	slot, sess, err := e.lockPlayback(h)
	if err != nil {
		return PlaybackStatus{}, err
	}
	defer slot.mu.Unlock()

	play, err := sess.player.Status()
	if err != nil {
		return PlaybackStatus{}, fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	sess.segStatus = play
	e.generatePlaybackStatus(sess)

	status := sess.aggregate
	status.Current.Time += sess.segStatus.TimeCur
	return status, nil
}

// dispatchPlaybackEvent is the playback worker's per-event entry point.
func (e *Engine) dispatchPlaybackEvent(w *worker[playbackEvent], evt playbackEvent) {
	observability.EventsProcessed.WithLabelValues("playback").Inc()

	slot := e.playbacks.find(evt.sn)
	if slot == nil {
		return
	}
	if !slot.lockIf(&w.running) {
		return
	}
	if slot.sn.Load() != evt.sn || slot.sess == nil {
		slot.mu.Unlock()
		return
	}

	notifs := e.handlePlaybackEvent(slot.sess, evt.kind, evt.status)
	slot.mu.Unlock()
	deliver(notifs)
}

// handlePlaybackEvent applies one player event to the session. Called with
// the session lock held.
func (e *Engine) handlePlaybackEvent(sess *playbackSession, kind PlaybackEventKind, play PlayStatus) []notification {
	// PLAYTIME ticks would clobber the end-of-stream bookkeeping.
	if kind != EventNotifyPlaytime {
		sess.lastEvent = kind
	}

	switch kind {
	case EventFirstFrame, EventReachedEnd, EventTransitionOK, EventNotifyPlaytime:
		sess.segStatus = play
		e.generatePlaybackStatus(sess)

		status := sess.aggregate
		// Size and packet counts of the in-flight segment are unknown to
		// the player; only its time cursor folds in.
		status.Current.Time += sess.segStatus.TimeCur

		if kind == EventReachedEnd {
			if sess.open.Timeshift {
				// The recording is still growing; hold the event and
				// wait for more data.
				return nil
			}
			if status.Current.Time+playbackEndGap < status.Full.Time {
				// A segment boundary about to be followed, not the end.
				return nil
			}
		}
		return []notification{e.notifyPlayback(sess, kind, status)}

	case EventError, EventTransitionFailed, EventKeyFailure, EventNoKey:
		e.log.Warn("playback error event", slog.String("event", kind.String()))
		return nil

	default:
		e.log.Debug("unknown playback event", slog.Int("event", int(kind)))
		return nil
	}
}

// generatePlaybackStatus recomputes the whole-session aggregates from the
// segment registry: Current sums everything strictly older than the
// playing segment, Full sums the lot.
func (e *Engine) generatePlaybackStatus(sess *playbackSession) {
	sess.aggregate = PlaybackStatus{
		State: sess.segStatus.State,
		Speed: sess.segStatus.Speed,
		Flags: sess.segStatus.Flags,
		PIDs:  sess.pidsReq,
	}
	sess.currentID = sess.segStatus.SegmentID

	sess.segments.ReverseEach(func(seg *playbackSegment) bool {
		if seg.info.ID == sess.segStatus.SegmentID {
			return false
		}
		sess.aggregate.Current.add(seg.info)
		return true
	})
	sess.segments.ReverseEach(func(seg *playbackSegment) bool {
		sess.aggregate.Full.add(seg.info)
		return true
	})
}

// addPlaybackSegment admits one segment into the session and the player.
// Called with the session lock held.
func (e *Engine) addPlaybackSegment(sess *playbackSession, info SegmentInfo, pids PlaybackPIDs, flags SegmentFlags) error {
	seg := &playbackSegment{
		info: info,
		play: PlaybackSegment{
			SegmentID: info.ID,
			Location:  sess.open.Location,
			PIDs:      pids,
			Flags:     flags,
		},
	}
	sess.segments.PushFront(seg)
	return sess.player.AddSegment(seg.play)
}

// updatePlaybackSegment folds recorder-side statistics into the matching
// playback segment and evaluates the timeshift resume gate. Called with
// the session lock held; the caller holds the record session lock too.
func (e *Engine) updatePlaybackSegment(sess *playbackSession, info SegmentInfo, updatePIDs, updateStats bool) []notification {
	if sess.segments.Empty() {
		return nil
	}

	seg, ok := sess.segments.Find(func(s *playbackSegment) bool { return s.info.ID == info.ID })
	if ok {
		if updatePIDs {
			seg.info.PIDs = append([]StreamInfo(nil), info.PIDs...)
		}
		if updateStats {
			seg.info.Duration = info.Duration
			seg.info.Size = info.Size
			seg.info.Packets = info.Packets
		}
	}

	// Resume gate: playback paused at the end of data resumes once the
	// recorder has produced enough past the paused position, either in
	// the segment being played or in a newer one.
	if sess.open.Timeshift &&
		sess.lastEvent == EventReachedEnd &&
		sess.segStatus.State == PlaybackPaused {
		samePlaying := sess.segStatus.SegmentID == info.ID
		enough := (samePlaying && info.Duration >= sess.segStatus.TimeCur+timeshiftResumeData) ||
			(!samePlaying && info.Duration >= timeshiftResumeData)
		if enough {
			err := sess.player.Resume()
			e.log.Info("timeshift resume",
				slog.Uint64("recording_segment", info.ID),
				slog.Uint64("playing_segment", sess.segStatus.SegmentID),
				slog.Duration("duration", info.Duration),
				slog.Any("error", err))
			if err == nil {
				// Arm the gate again only after the next REACHED_END.
				sess.lastEvent = eventNone
			}
		}
	}

	return nil
}

// removePlaybackSegment drops one segment from the player and the list.
// Retention only ever reclaims the oldest. Called with the session lock
// held.
func (e *Engine) removePlaybackSegment(sess *playbackSession, segmentID uint64) {
	if err := sess.player.RemoveSegment(segmentID); err != nil {
		e.log.Warn("remove playback segment",
			slog.Uint64("segment", segmentID),
			slog.String("error", err.Error()))
		return
	}

	oldest, ok := sess.segments.Oldest()
	if ok && oldest.info.ID == segmentID {
		sess.segments.PopBack()
	} else {
		e.log.Warn("removed segment is not the oldest", slog.Uint64("segment", segmentID))
	}
}

// notifyPlayback assembles one event sink delivery.
func (e *Engine) notifyPlayback(sess *playbackSession, kind PlaybackEventKind, status PlaybackStatus) notification {
	sink := sess.open.OnEvent
	if sink == nil {
		return func() {}
	}
	return func() { sink(kind, status) }
}
