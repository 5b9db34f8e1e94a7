package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/dvrr/internal/dvr"
	"github.com/jmylchreest/dvrr/internal/service"
)

// RecordsHandler exposes record session management.
type RecordsHandler struct {
	records *service.Records
}

// NewRecordsHandler creates the records handler.
func NewRecordsHandler(records *service.Records) *RecordsHandler {
	return &RecordsHandler{records: records}
}

// PIDInput selects one elementary stream to record.
type PIDInput struct {
	PID  int    `json:"pid" minimum:"0" maximum:"8190"`
	Type string `json:"type" enum:"video,audio,ad,subtitle,pcr"`
}

// StartRecordRequest is the body of the start-recording call.
type StartRecordRequest struct {
	Location    string     `json:"location" doc:"Recording directory name under the store"`
	Device      string     `json:"device" doc:"Demux device or capture file to read TS from"`
	PIDs        []PIDInput `json:"pids" minItems:"1" maxItems:"16"`
	Timeshift   bool       `json:"timeshift,omitempty"`
	Scrambled   bool       `json:"scrambled,omitempty"`
	MaxTimeMS   int64      `json:"max_time_ms,omitempty" minimum:"0"`
	MaxSize     uint64     `json:"max_size_bytes,omitempty"`
	SegmentSize uint64     `json:"segment_size_bytes,omitempty"`
}

// StartRecordInput wraps the request body.
type StartRecordInput struct {
	Body StartRecordRequest
}

// SessionResponse describes one active session.
type SessionResponse struct {
	Handle    uint64    `json:"handle"`
	Location  string    `json:"location"`
	Device    string    `json:"device"`
	StartedAt time.Time `json:"started_at"`
}

// SessionOutput wraps a single session response.
type SessionOutput struct {
	Body SessionResponse
}

// SessionListOutput wraps the session list.
type SessionListOutput struct {
	Body []SessionResponse
}

// StatusResponse is the whole-session record status payload.
type StatusResponse struct {
	State   string `json:"state"`
	TimeMS  int64  `json:"time_ms"`
	Size    uint64 `json:"size_bytes"`
	Packets uint32 `json:"packets"`
}

// StatusOutput wraps the status response.
type StatusOutput struct {
	Body StatusResponse
}

// HandlePath identifies a session in the URL.
type HandlePath struct {
	Handle uint64 `path:"handle"`
}

// SegmentResponse describes one stored segment.
type SegmentResponse struct {
	SegmentID  uint64 `json:"segment_id"`
	DurationMS int64  `json:"duration_ms"`
	Size       uint64 `json:"size_bytes"`
	Packets    uint32 `json:"packets"`
}

// SegmentsInput identifies a recording location.
type SegmentsInput struct {
	Location string `path:"location"`
}

// SegmentsOutput wraps the segment list.
type SegmentsOutput struct {
	Body []SegmentResponse
}

// Register registers the record routes with the API.
func (h *RecordsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecordSessions",
		Method:      "GET",
		Path:        "/api/v1/records",
		Summary:     "List active record sessions",
		Tags:        []string{"Records"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "startRecord",
		Method:        "POST",
		Path:          "/api/v1/records",
		Summary:       "Start a recording",
		DefaultStatus: 201,
		Tags:          []string{"Records"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "getRecordStatus",
		Method:      "GET",
		Path:        "/api/v1/records/{handle}/status",
		Summary:     "Get whole-session record status",
		Tags:        []string{"Records"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "stopRecord",
		Method:      "POST",
		Path:        "/api/v1/records/{handle}/stop",
		Summary:     "Stop the current segment",
		Tags:        []string{"Records"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID:   "closeRecord",
		Method:        "DELETE",
		Path:          "/api/v1/records/{handle}",
		Summary:       "Close a record session",
		DefaultStatus: 204,
		Tags:          []string{"Records"},
	}, h.Close)

	huma.Register(api, huma.Operation{
		OperationID: "listSegments",
		Method:      "GET",
		Path:        "/api/v1/recordings/{location}/segments",
		Summary:     "List the stored segments of a recording",
		Tags:        []string{"Recordings"},
	}, h.Segments)
}

// List returns the active record sessions.
func (h *RecordsHandler) List(_ context.Context, _ *struct{}) (*SessionListOutput, error) {
	sessions := h.records.List()
	out := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionResponse{
			Handle:    uint64(sess.Handle),
			Location:  sess.Location,
			Device:    sess.Device,
			StartedAt: sess.StartedAt,
		})
	}
	return &SessionListOutput{Body: out}, nil
}

// Start opens and starts a new recording.
func (h *RecordsHandler) Start(_ context.Context, input *StartRecordInput) (*SessionOutput, error) {
	req := service.RecordRequest{
		Location:    input.Body.Location,
		DevicePath:  input.Body.Device,
		Timeshift:   input.Body.Timeshift,
		Scrambled:   input.Body.Scrambled,
		MaxTime:     time.Duration(input.Body.MaxTimeMS) * time.Millisecond,
		MaxSize:     input.Body.MaxSize,
		SegmentSize: input.Body.SegmentSize,
	}
	for _, pid := range input.Body.PIDs {
		req.PIDs = append(req.PIDs, dvr.StreamInfo{PID: pid.PID, Type: streamType(pid.Type)})
	}

	handle, err := h.records.Start(req)
	if err != nil {
		return nil, mapError(err)
	}
	return &SessionOutput{Body: SessionResponse{
		Handle:    uint64(handle),
		Location:  input.Body.Location,
		Device:    input.Body.Device,
		StartedAt: time.Now(),
	}}, nil
}

// Status returns the aggregated status of one session.
func (h *RecordsHandler) Status(_ context.Context, input *HandlePath) (*StatusOutput, error) {
	status, err := h.records.Status(dvr.Handle(input.Handle))
	if err != nil {
		return nil, mapError(err)
	}
	return &StatusOutput{Body: StatusResponse{
		State:   status.State.String(),
		TimeMS:  status.Info.Time.Milliseconds(),
		Size:    status.Info.Size,
		Packets: status.Info.Packets,
	}}, nil
}

// Stop finalizes the current segment.
func (h *RecordsHandler) Stop(_ context.Context, input *HandlePath) (*struct{}, error) {
	if err := h.records.Stop(dvr.Handle(input.Handle)); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

// Close releases one session.
func (h *RecordsHandler) Close(_ context.Context, input *HandlePath) (*struct{}, error) {
	if err := h.records.Close(dvr.Handle(input.Handle)); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

// Segments lists the stored segments of a recording.
func (h *RecordsHandler) Segments(_ context.Context, input *SegmentsInput) (*SegmentsOutput, error) {
	infos, err := h.records.Segments(input.Location)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]SegmentResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, SegmentResponse{
			SegmentID:  info.ID,
			DurationMS: info.Duration.Milliseconds(),
			Size:       info.Size,
			Packets:    info.Packets,
		})
	}
	return &SegmentsOutput{Body: out}, nil
}

func streamType(s string) dvr.StreamType {
	switch s {
	case "audio":
		return dvr.StreamAudio
	case "ad":
		return dvr.StreamAD
	case "subtitle":
		return dvr.StreamSubtitle
	case "pcr":
		return dvr.StreamPCR
	default:
		return dvr.StreamVideo
	}
}

// mapError converts engine errors into HTTP problem responses.
func mapError(err error) error {
	switch {
	case errors.Is(err, dvr.ErrInvalidArg):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, dvr.ErrClosed):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, dvr.ErrNoSlot):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, dvr.ErrNoSegments):
		return huma.Error404NotFound(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
