package dvr

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/dvrr/internal/observability"
)

// StartRecord starts recording segment 0 with the given PID map.
func (e *Engine) StartRecord(h Handle, pids []StreamInfo) error {
	if len(pids) == 0 || len(pids) > MaxPIDs {
		return fmt.Errorf("%w: pids", ErrInvalidArg)
	}

	slot, sess, err := e.lockRecord(h)
	if err != nil {
		return err
	}

	start := RecordSegmentParams{
		Location:  sess.open.Location,
		SegmentID: sess.nextSegmentID,
		PIDs:      append([]StreamInfo(nil), pids...),
		Actions:   make([]PIDAction, len(pids)),
	}
	sess.nextSegmentID++
	for i := range start.Actions {
		start.Actions[i] = PIDCreate
	}

	// The rollover map reuses the same PIDs with KEEP actions.
	sess.updateParams = RecordSegmentParams{
		Location:  sess.open.Location,
		SegmentID: start.SegmentID,
		PIDs:      append([]StreamInfo(nil), pids...),
		Actions:   make([]PIDAction, len(pids)),
	}
	for i := range sess.updateParams.Actions {
		sess.updateParams.Actions[i] = PIDKeep
	}

	startErr := sess.recorder.StartSegment(start)
	notifs := e.addRecordSegment(sess, SegmentInfo{ID: start.SegmentID})

	e.log.Info("record started",
		slog.Uint64("sn", uint64(h)),
		slog.String("location", sess.open.Location),
		slog.Int("pids", len(pids)))

	slot.mu.Unlock()
	deliver(notifs)

	if startErr != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, startErr)
	}
	return nil
}

// StopRecord finalizes the current segment and stops the recorder. The
// session stays open; Close releases it.
func (e *Engine) StopRecord(h Handle) error {
	slot, sess, err := e.lockRecord(h)
	if err != nil {
		return err
	}

	info, stopErr := sess.recorder.StopSegment()
	notifs := e.updateRecordSegment(sess, info, true, true)

	slot.mu.Unlock()
	deliver(notifs)

	if stopErr != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, stopErr)
	}
	return nil
}

// UpdateRecordPIDs starts the next segment with a new PID map. The
// recorder finalizes the current segment and opens the next atomically.
func (e *Engine) UpdateRecordPIDs(h Handle, pids []StreamInfo, actions []PIDAction) error {
	if len(pids) == 0 || len(pids) > MaxPIDs || len(actions) != len(pids) {
		return fmt.Errorf("%w: pids", ErrInvalidArg)
	}

	slot, sess, err := e.lockRecord(h)
	if err != nil {
		return err
	}

	sess.updateParams = RecordSegmentParams{
		Location:  sess.open.Location,
		SegmentID: sess.nextSegmentID,
		PIDs:      append([]StreamInfo(nil), pids...),
		Actions:   append([]PIDAction(nil), actions...),
	}
	sess.nextSegmentID++

	finished, nextErr := sess.recorder.NextSegment(sess.updateParams)
	notifs := e.updateRecordSegment(sess, finished, true, false)
	notifs = append(notifs, e.addRecordSegment(sess, SegmentInfo{ID: sess.updateParams.SegmentID})...)
	observability.SegmentsRolled.Inc()

	slot.mu.Unlock()
	deliver(notifs)

	if nextErr != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, nextErr)
	}
	return nil
}

// GetRecordStatus returns the whole-session record status.
func (e *Engine) GetRecordStatus(h Handle) (RecordStatus, error) {
	slot, sess, err := e.lockRecord(h)
	if err != nil {
		return RecordStatus{}, err
	}

	notifs := e.generateRecordStatus(sess)
	status := sess.aggregate
	status.Info.add(sess.segStatus.Info)

	slot.mu.Unlock()
	deliver(notifs)
	return status, nil
}

// dispatchRecordEvent is the record worker's per-event entry point.
func (e *Engine) dispatchRecordEvent(w *worker[recordEvent], evt recordEvent) {
	observability.EventsProcessed.WithLabelValues("record").Inc()

	slot := e.records.find(evt.sn)
	if slot == nil {
		return
	}
	if !slot.lockIf(&w.running) {
		return
	}
	if slot.sn.Load() != evt.sn || slot.sess == nil {
		// The session was closed after the event was queued.
		slot.mu.Unlock()
		return
	}

	notifs := e.handleRecordStatus(slot.sess, evt.status)
	slot.mu.Unlock()
	deliver(notifs)
}

// handleRecordStatus applies one recorder status event to the session.
// Called with the session lock held; returns the event sink deliveries to
// run after release.
func (e *Engine) handleRecordStatus(sess *recordSession, status DriverRecordStatus) []notification {
	var notifs []notification

	switch status.State {
	case RecordOpened, RecordClosed:
		sess.segStatus = status
		notifs = append(notifs, e.notifyRecord(sess, RecordStatus{State: status.State}))

	case RecordStarted:
		sess.segStatus = status
		notifs = append(notifs, e.generateRecordStatus(sess)...)

		total := sess.aggregate
		total.Info.add(status.Info)
		notifs = append(notifs, e.notifyRecord(sess, total))

		rolloverOK := true

		// Retention checks precede rollover; the size cap is evaluated
		// before the time cap.
		if max := sess.open.MaxSize; max > 0 && total.Info.Size >= max {
			n, ok := e.enforceRetention(sess, total, "size")
			notifs = append(notifs, n...)
			rolloverOK = rolloverOK && ok
		}
		if max := sess.open.MaxTime; max > 0 && total.Info.Time >= max {
			n, ok := e.enforceRetention(sess, total, "time")
			notifs = append(notifs, n...)
			rolloverOK = rolloverOK && ok
		}

		if rolloverOK && sess.open.SegmentSize > 0 && status.Info.Size >= sess.open.SegmentSize {
			e.log.Info("segment size limit reached, rolling over",
				slog.Uint64("segment", status.Info.ID),
				slog.Uint64("size", status.Info.Size))
			notifs = append(notifs, e.startNextSegment(sess)...)
		}

	case RecordStopped:
		sess.segStatus = status
		notifs = append(notifs, e.generateRecordStatus(sess)...)

		total := sess.aggregate
		total.Info.add(status.Info)
		notifs = append(notifs, e.notifyRecord(sess, total))
	}

	return notifs
}

// enforceRetention handles a tripped max-time or max-size cap. In
// timeshift mode the oldest segment is reclaimed so the recording keeps a
// bounded window; otherwise the recorder is closed and a synthetic CLOSED
// status is published. Returns false when rollover must be skipped.
func (e *Engine) enforceRetention(sess *recordSession, total RecordStatus, limit string) ([]notification, bool) {
	if !sess.open.Timeshift {
		err := sess.recorder.Close()
		e.log.Info("record limit reached, closing",
			slog.String("limit", limit),
			slog.Duration("time", total.Info.Time),
			slog.Uint64("size", total.Info.Size),
			slog.Any("error", err))

		closed := total
		closed.State = RecordClosed
		return []notification{e.notifyRecord(sess, closed)}, false
	}

	if sess.segments.Len() <= 1 {
		// A single segment larger than the cap: keep waiting for a
		// rollover to give retention something to reclaim.
		e.log.Warn("retention cap below one segment, keeping",
			slog.String("limit", limit),
			slog.Uint64("segment_size", sess.open.SegmentSize))
		return nil, true
	}

	oldest, _ := sess.segments.Oldest()
	return e.removeRecordSegment(sess, oldest), true
}

// startNextSegment rolls the recording over to a fresh segment, carrying
// the PID map forward with KEEP actions and dropping CLOSE'd PIDs.
func (e *Engine) startNextSegment(sess *recordSession) []notification {
	prev := sess.updateParams
	next := RecordSegmentParams{
		Location:  prev.Location,
		SegmentID: sess.nextSegmentID,
	}
	sess.nextSegmentID++
	for i, pid := range prev.PIDs {
		if prev.Actions[i] == PIDClose {
			continue
		}
		next.PIDs = append(next.PIDs, pid)
		next.Actions = append(next.Actions, PIDKeep)
	}
	sess.updateParams = next

	finished, err := sess.recorder.NextSegment(next)
	if err != nil {
		// Collaborator failures during event processing are logged and
		// suppressed; the session stays usable.
		e.log.Error("next segment failed", slog.String("error", err.Error()))
	}

	notifs := e.updateRecordSegment(sess, finished, true, true)
	notifs = append(notifs, e.addRecordSegment(sess, SegmentInfo{ID: next.SegmentID})...)
	observability.SegmentsRolled.Inc()
	return notifs
}

// generateRecordStatus recomputes the aggregate over every finished
// segment and folds the live segment status back into the registry (and,
// in timeshift, into the linked playback session).
func (e *Engine) generateRecordStatus(sess *recordSession) []notification {
	sess.aggregate = RecordStatus{
		State: sess.segStatus.State,
		PIDs:  append([]StreamInfo(nil), sess.segStatus.Info.PIDs...),
	}
	sess.currentID = sess.segStatus.Info.ID

	sess.segments.ReverseEach(func(seg *SegmentInfo) bool {
		if seg.ID != sess.segStatus.Info.ID {
			sess.aggregate.Info.add(*seg)
		}
		return true
	})

	return e.updateRecordSegment(sess, sess.segStatus.Info, true, true)
}

// updateRecordSegment folds fresh segment statistics into the registry and
// propagates them to the linked timeshift playback.
func (e *Engine) updateRecordSegment(sess *recordSession, info SegmentInfo, updatePIDs, updateStats bool) []notification {
	seg, ok := sess.segments.Find(func(s *SegmentInfo) bool { return s.ID == info.ID })
	if ok {
		if updatePIDs {
			seg.PIDs = append([]StreamInfo(nil), info.PIDs...)
		}
		if updateStats {
			seg.Duration = info.Duration
			seg.Size = info.Size
			seg.Packets = info.Packets
		}
	}

	if !sess.open.Timeshift {
		return nil
	}
	return e.withTimeshiftPlayback(func(ps *playbackSession) []notification {
		return e.updatePlaybackSegment(ps, info, updatePIDs, updateStats)
	})
}

// addRecordSegment registers a newly opened segment and, in timeshift,
// admits it into the linked playback session.
func (e *Engine) addRecordSegment(sess *recordSession, info SegmentInfo) []notification {
	seg := info
	sess.segments.PushFront(&seg)

	if !sess.open.Timeshift {
		return nil
	}

	flags := SegmentDisplayable | SegmentContinuous
	if sess.open.Flags&FlagScrambled != 0 {
		flags |= SegmentEncrypted
	}
	return e.withTimeshiftPlayback(func(ps *playbackSession) []notification {
		// Segments recorded before playback started are discovered by
		// the start-time enumeration instead.
		if ps.segments.Empty() {
			return nil
		}
		if err := e.addPlaybackSegment(ps, info, ps.pidsReq, flags); err != nil {
			e.log.Error("timeshift add playback segment",
				slog.Uint64("segment", info.ID),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

// removeRecordSegment reclaims the oldest segment under retention: the
// linked playback is told to drop it first, then the registry entry and
// the on-disk files go.
func (e *Engine) removeRecordSegment(sess *recordSession, seg *SegmentInfo) []notification {
	var notifs []notification
	if sess.open.Timeshift {
		notifs = e.withTimeshiftPlayback(func(ps *playbackSession) []notification {
			if ps.segments.Empty() {
				return nil
			}
			e.removePlaybackSegment(ps, seg.ID)
			return nil
		})
	}

	oldest, ok := sess.segments.Oldest()
	if ok && oldest.ID == seg.ID {
		sess.segments.PopBack()
	} else {
		e.log.Warn("retention target is not the oldest segment", slog.Uint64("segment", seg.ID))
	}

	if err := e.store.Delete(sess.open.Location, seg.ID); err != nil {
		e.log.Error("delete segment",
			slog.String("location", sess.open.Location),
			slog.Uint64("segment", seg.ID),
			slog.String("error", err.Error()))
	}
	observability.SegmentsReclaimed.Inc()

	e.log.Info("segment reclaimed",
		slog.String("location", sess.open.Location),
		slog.Uint64("segment", seg.ID))
	return notifs
}

// notifyRecord assembles one event sink delivery for the given status.
func (e *Engine) notifyRecord(sess *recordSession, status RecordStatus) notification {
	sink := sess.open.OnStatus
	if sink == nil {
		return func() {}
	}
	return func() { sink(status) }
}
