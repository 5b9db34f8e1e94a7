package driver

import (
	"errors"

	"github.com/jmylchreest/dvrr/internal/dvr"
)

// ErrNoPlayer is returned when playback is requested but no A/V player
// implementation is attached to the process.
var ErrNoPlayer = errors.New("no A/V player attached")

// NoPlayer returns a player factory for deployments without an attached
// decoder. Playback opens fail cleanly; recording is unaffected.
func NoPlayer() dvr.OpenPlayerFunc {
	return func(dvr.PlayerOpenParams) (dvr.Player, error) {
		return nil, ErrNoPlayer
	}
}
