package tsindex

import (
	"errors"
	"fmt"
	"io"

	"github.com/Comcast/gots/psi"
)

// MPEG-TS stream type ids as carried in the PMT.
const (
	streamTypeMPEG2Video = 0x02
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypeAAC        = 0x0f
	streamTypeH264       = 0x1b
	streamTypeHEVC       = 0x24
	streamTypeAC3        = 0x81
)

// Selection is the result of a PAT/PMT scan: the streams an index run
// should follow.
type Selection struct {
	VideoPID    int
	VideoFormat Format
	AudioPID    int
}

// ErrNoVideoStream is returned when the program map carries no video
// stream the indexer understands.
var ErrNoVideoStream = errors.New("no indexable video stream in PMT")

// DiscoverPIDs walks the PAT and PMTs at the head of a TS stream and
// picks the first indexable video stream plus the first audio stream.
// The reader is consumed; index the stream from a fresh reader after.
func DiscoverPIDs(r io.Reader) (Selection, error) {
	sel := Selection{VideoPID: nullPID, VideoFormat: FormatNone, AudioPID: nullPID}

	pat, err := psi.ReadPAT(r)
	if err != nil {
		return sel, fmt.Errorf("reading PAT: %w", err)
	}

	for _, pmtPID := range pat.ProgramMap() {
		pmt, err := psi.ReadPMT(r, pmtPID)
		if err != nil {
			return sel, fmt.Errorf("reading PMT %d: %w", pmtPID, err)
		}
		for _, es := range pmt.ElementaryStreams() {
			switch es.StreamType() {
			case streamTypeMPEG2Video:
				if sel.VideoPID == nullPID {
					sel.VideoPID = es.ElementaryPid()
					sel.VideoFormat = FormatMPEG2
				}
			case streamTypeH264:
				if sel.VideoPID == nullPID {
					sel.VideoPID = es.ElementaryPid()
					sel.VideoFormat = FormatH264
				}
			case streamTypeHEVC:
				if sel.VideoPID == nullPID {
					sel.VideoPID = es.ElementaryPid()
					sel.VideoFormat = FormatHEVC
				}
			case streamTypeMPEG1Audio, streamTypeMPEG2Audio, streamTypeAAC, streamTypeAC3:
				if sel.AudioPID == nullPID {
					sel.AudioPID = es.ElementaryPid()
				}
			}
		}
		if sel.VideoPID != nullPID {
			break
		}
	}

	if sel.VideoPID == nullPID {
		return sel, ErrNoVideoStream
	}
	return sel, nil
}
