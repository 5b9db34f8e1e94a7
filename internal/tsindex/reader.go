package tsindex

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/ulikunitz/xz"
)

// OpenStream wraps r so compressed TS dumps can be indexed directly.
// Gzip, bzip2 and xz are auto-detected from their magic bytes; brotli has
// none, so it is selected from the file name (".br") instead.
func OpenStream(r io.Reader, name string) (io.Reader, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil

	case strings.HasSuffix(name, ".br"):
		return brotli.NewReader(br), nil
	}

	return br, nil
}

// IndexReader drives an Indexer over an entire stream, re-presenting
// unconsumed tails across read chunks. It returns the total number of
// bytes consumed.
func IndexReader(ix *Indexer, r io.Reader) (uint64, error) {
	buf := make([]byte, 64*1024)
	carry := 0
	for {
		n, err := r.Read(buf[carry:])
		if n > 0 {
			rest := ix.Parse(buf[:carry+n])
			copy(buf, buf[carry+n-rest:carry+n])
			carry = rest
		}
		if err == io.EOF {
			return ix.Offset(), nil
		}
		if err != nil {
			return ix.Offset(), fmt.Errorf("reading stream: %w", err)
		}
	}
}
