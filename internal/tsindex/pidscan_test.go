package tsindex_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dvrr/internal/testutil"
	"github.com/jmylchreest/dvrr/internal/tsindex"
)

func TestDiscoverPIDs(t *testing.T) {
	stream := testutil.ProgramStream(0x100, 0x101, []int64{0})

	sel, err := tsindex.DiscoverPIDs(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, 0x100, sel.VideoPID)
	assert.Equal(t, 0x101, sel.AudioPID)
	assert.Equal(t, tsindex.FormatMPEG2, sel.VideoFormat)
}

func TestDiscoverPIDsNoVideo(t *testing.T) {
	// A program carrying only an audio stream.
	stream := testutil.PATPacket(0x20)
	stream = append(stream, testutil.PMTPacket(0x20, 0x101, []testutil.PMTStream{
		{StreamType: 0x0f, PID: 0x101},
	})...)

	_, err := tsindex.DiscoverPIDs(bytes.NewReader(stream))
	assert.ErrorIs(t, err, tsindex.ErrNoVideoStream)
}

func TestOpenStreamPassthrough(t *testing.T) {
	raw := testutil.NullPackets(2)
	r, err := tsindex.OpenStream(bytes.NewReader(raw), "capture.ts")
	require.NoError(t, err)

	ix := tsindex.New()
	consumed, err := tsindex.IndexReader(ix, r)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(raw)), consumed)
}
