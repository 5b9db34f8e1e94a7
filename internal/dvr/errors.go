package dvr

import "errors"

// Errors returned by the engine's public API.
var (
	// ErrInvalidArg is returned for nil or out-of-range parameters.
	ErrInvalidArg = errors.New("invalid argument")

	// ErrNoSlot is returned when the session table is full.
	ErrNoSlot = errors.New("no free session slot")

	// ErrClosed is returned when a handle refers to a released session.
	ErrClosed = errors.New("session closed")

	// ErrNoSegments is returned when playback starts on an empty location.
	ErrNoSegments = errors.New("no segments at location")

	// ErrDeviceOpen is returned when a collaborator fails to open.
	ErrDeviceOpen = errors.New("device open failed")

	// ErrDeviceIO is returned for collaborator failures after open.
	ErrDeviceIO = errors.New("device i/o failed")
)
