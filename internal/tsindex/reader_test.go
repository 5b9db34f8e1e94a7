package tsindex_test

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/dvrr/internal/testutil"
	"github.com/jmylchreest/dvrr/internal/tsindex"
)

// indexAll runs a fresh indexer over r and returns the I-frame count.
func indexAll(t *testing.T, r *bytes.Buffer, name string) int {
	t.Helper()
	stream, err := tsindex.OpenStream(r, name)
	require.NoError(t, err)

	ix := tsindex.New()
	ix.SetVideoPID(0x100)
	ix.SetVideoFormat(tsindex.FormatMPEG2)
	frames := 0
	ix.SetEventFunc(func(evt tsindex.Event) {
		if evt.Type == tsindex.EventVideoIFrame {
			frames++
		}
	})
	_, err = tsindex.IndexReader(ix, stream)
	require.NoError(t, err)
	return frames
}

func TestOpenStreamGzip(t *testing.T) {
	raw := testutil.ProgramStream(0x100, 0, []int64{0, 90000})

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	assert.Equal(t, 2, indexAll(t, &buf, "capture.ts.gz"))
}

func TestOpenStreamXZ(t *testing.T) {
	raw := testutil.ProgramStream(0x100, 0, []int64{0, 90000, 180000})

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, 3, indexAll(t, &buf, "capture.ts.xz"))
}

func TestOpenStreamBrotli(t *testing.T) {
	raw := testutil.ProgramStream(0x100, 0, []int64{0})

	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Brotli has no magic bytes; selection is by file name.
	assert.Equal(t, 1, indexAll(t, &buf, "capture.ts.br"))
}
