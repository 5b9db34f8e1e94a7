package tsindex_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dvrr/internal/testutil"
	"github.com/jmylchreest/dvrr/internal/tsindex"
)

const (
	videoPID = 0x100
	audioPID = 0x101
)

func collectEvents(ix *tsindex.Indexer) *[]tsindex.Event {
	events := &[]tsindex.Event{}
	ix.SetEventFunc(func(evt tsindex.Event) {
		*events = append(*events, evt)
	})
	return events
}

func newVideoIndexer(format tsindex.Format) (*tsindex.Indexer, *[]tsindex.Event) {
	ix := tsindex.New()
	ix.SetVideoPID(videoPID)
	ix.SetVideoFormat(format)
	events := collectEvents(ix)
	return ix, events
}

func TestParseOffsetMonotonic(t *testing.T) {
	ix, _ := newVideoIndexer(tsindex.FormatMPEG2)

	// Garbage before the first sync byte is skipped but counted.
	garbage := []byte{0x00, 0x11, 0x22}
	stream := append(garbage, testutil.NullPackets(3)...)

	rest := ix.Parse(stream)
	assert.Equal(t, 0, rest)
	assert.Equal(t, uint64(len(stream)), ix.Offset())
}

func TestParseUnconsumedTail(t *testing.T) {
	ix, _ := newVideoIndexer(tsindex.FormatMPEG2)

	stream := testutil.NullPackets(2)
	partial := stream[:188+100] // one whole packet plus a fragment

	rest := ix.Parse(partial)
	assert.Equal(t, 100, rest)
	assert.Equal(t, uint64(188), ix.Offset())

	// Re-presenting the tail with the remainder completes the packet.
	rest = ix.Parse(stream[188:])
	assert.Equal(t, 0, rest)
	assert.Equal(t, uint64(2*188), ix.Offset())
}

func TestNullPIDNeverEmits(t *testing.T) {
	ix := tsindex.New()
	ix.SetVideoPID(0x1fff)
	ix.SetVideoFormat(tsindex.FormatMPEG2)
	events := collectEvents(ix)

	pes := append(testutil.PESHeader(0xe0, 1234), testutil.MPEG2IFrame()...)
	ix.Parse(testutil.Packetize(0x1fff, pes))

	assert.Empty(t, *events)
}

func TestVideoPTSEvent(t *testing.T) {
	ix, events := newVideoIndexer(tsindex.FormatMPEG2)

	const pts = int64(0x1234567)
	pes := append(testutil.PESHeader(0xe0, pts), testutil.MPEG2PFrame()...)
	ix.Parse(testutil.Packetize(videoPID, pes))

	require.Len(t, *events, 1)
	evt := (*events)[0]
	assert.Equal(t, tsindex.EventVideoPTS, evt.Type)
	assert.Equal(t, pts, evt.PTS)
	assert.Equal(t, videoPID, evt.PID)
	assert.Equal(t, uint64(0), evt.Offset)
}

func TestAudioPTSEvent(t *testing.T) {
	ix := tsindex.New()
	ix.SetVideoPID(videoPID)
	ix.SetAudioPID(audioPID)
	events := collectEvents(ix)

	pes := testutil.PESHeader(0xc0, 9000)
	ix.Parse(testutil.Packetize(audioPID, pes))

	require.Len(t, *events, 1)
	assert.Equal(t, tsindex.EventAudioPTS, (*events)[0].Type)
	assert.Equal(t, int64(9000), (*events)[0].PTS)
}

func TestMPEG2IFrame(t *testing.T) {
	ix, events := newVideoIndexer(tsindex.FormatMPEG2)

	const pts = int64(90000)
	pes := append(testutil.PESHeader(0xe0, pts), testutil.MPEG2IFrame()...)
	ix.Parse(testutil.Packetize(videoPID, pes))

	require.Len(t, *events, 2)
	iframe := (*events)[1]
	assert.Equal(t, tsindex.EventVideoIFrame, iframe.Type)
	assert.Equal(t, pts, iframe.PTS)
	assert.Equal(t, uint64(0), iframe.Offset)
}

func TestMPEG2PFrameIgnored(t *testing.T) {
	ix, events := newVideoIndexer(tsindex.FormatMPEG2)

	pes := append(testutil.PESHeader(0xe0, 90000), testutil.MPEG2PFrame()...)
	ix.Parse(testutil.Packetize(videoPID, pes))

	require.Len(t, *events, 1) // only the PTS event
	assert.Equal(t, tsindex.EventVideoPTS, (*events)[0].Type)
}

func TestMPEG2IFrameAcrossPackets(t *testing.T) {
	ix, events := newVideoIndexer(tsindex.FormatMPEG2)

	// Pad the payload so the picture header straddles the boundary
	// between the first and second TS packet.
	pes := testutil.PESHeader(0xe0, 90000)
	pad := make([]byte, 184-len(pes)-2)
	pes = append(pes, pad...)
	pes = append(pes, testutil.MPEG2IFrame()...)

	ix.Parse(testutil.Packetize(videoPID, pes))

	require.Len(t, *events, 2)
	assert.Equal(t, tsindex.EventVideoIFrame, (*events)[1].Type)
}

func TestH264IDR(t *testing.T) {
	ix, events := newVideoIndexer(tsindex.FormatH264)

	pes := append(testutil.PESHeader(0xe0, 180000), testutil.H264IDR()...)
	ix.Parse(testutil.Packetize(videoPID, pes))

	require.Len(t, *events, 2)
	assert.Equal(t, tsindex.EventVideoIFrame, (*events)[1].Type)
	assert.Equal(t, int64(180000), (*events)[1].PTS)
}

func TestH264NonRefSliceIgnored(t *testing.T) {
	ix, events := newVideoIndexer(tsindex.FormatH264)

	pes := append(testutil.PESHeader(0xe0, 180000), testutil.H264NonRef()...)
	ix.Parse(testutil.Packetize(videoPID, pes))

	require.Len(t, *events, 1)
	assert.Equal(t, tsindex.EventVideoPTS, (*events)[0].Type)
}

func TestHEVCIDR(t *testing.T) {
	ix, events := newVideoIndexer(tsindex.FormatHEVC)

	pes := append(testutil.PESHeader(0xe0, 270000), testutil.HEVCIDR()...)
	ix.Parse(testutil.Packetize(videoPID, pes))

	require.Len(t, *events, 2)
	assert.Equal(t, tsindex.EventVideoIFrame, (*events)[1].Type)
}

func TestMalformedStartCodeResyncs(t *testing.T) {
	ix, events := newVideoIndexer(tsindex.FormatMPEG2)

	// PUSI packet without a PES start code: dropped silently.
	bad := testutil.Packetize(videoPID, []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x00, 0x00})
	ix.Parse(bad)
	assert.Empty(t, *events)

	// The next proper PES parses fine.
	pes := append(testutil.PESHeader(0xe0, 90000), testutil.MPEG2IFrame()...)
	ix.Parse(testutil.Packetize(videoPID, pes))
	assert.Len(t, *events, 2)
}

// buildSplitStream produces a stream with null-packet padding followed by
// a video PES holding one I-frame, returning the stream and the offset of
// the PES-carrying packet.
func buildSplitStream() ([]byte, uint64) {
	stream := testutil.NullPackets(2)
	offset := uint64(len(stream))
	pes := append(testutil.PESHeader(0xe0, 90000), testutil.MPEG2IFrame()...)
	stream = append(stream, testutil.Packetize(videoPID, pes)...)
	return stream, offset
}

func TestChunkInvariance(t *testing.T) {
	full, offset := buildSplitStream()

	// Reference run: single parse call.
	ix, reference := newVideoIndexer(tsindex.FormatMPEG2)
	rest := ix.Parse(full)
	require.Equal(t, 0, rest)
	require.Len(t, *reference, 2)
	require.Equal(t, offset, (*reference)[1].Offset)

	// Splitting at every byte boundary around a packet edge must yield
	// identical events, with unconsumed tails re-presented.
	for split := 180; split <= 200 && split < len(full); split++ {
		t.Run(fmt.Sprintf("split=%d", split), func(t *testing.T) {
			ix, events := newVideoIndexer(tsindex.FormatMPEG2)

			first := full[:split]
			rest := ix.Parse(first)
			carry := append([]byte(nil), first[len(first)-rest:]...)
			ix.Parse(append(carry, full[split:]...))

			require.Len(t, *events, len(*reference))
			for i := range *reference {
				assert.Equal(t, (*reference)[i], (*events)[i])
			}
		})
	}
}

func TestChunkInvarianceEveryBoundary(t *testing.T) {
	full, _ := buildSplitStream()

	ix, reference := newVideoIndexer(tsindex.FormatMPEG2)
	ix.Parse(full)

	for split := 1; split < len(full); split++ {
		ix, events := newVideoIndexer(tsindex.FormatMPEG2)

		first := full[:split]
		rest := ix.Parse(first)
		carry := append([]byte(nil), first[len(first)-rest:]...)
		ix.Parse(append(carry, full[split:]...))

		require.Equal(t, len(*reference), len(*events), "split at %d", split)
		require.Equal(t, *reference, *events, "split at %d", split)
	}
}
