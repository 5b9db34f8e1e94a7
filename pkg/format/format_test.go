package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.in))
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "0", Number(0))
}

func TestNumberCompact(t *testing.T) {
	assert.Equal(t, "1.2M", NumberCompact(1234567))
	assert.Equal(t, "1.5K", NumberCompact(1500))
	assert.Equal(t, "999", NumberCompact(999))
}

func TestPTS(t *testing.T) {
	assert.Equal(t, "-", PTS(-1))
	assert.Equal(t, "1s", PTS(90000))
	assert.Equal(t, "500ms", PTS(45000))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "1m30s", Duration(90*time.Second+300*time.Millisecond))
}
