package http

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLinear(t *testing.T) {
	frame := append(bytes.Repeat([]byte{0xee}, 54), []byte("HTTP/1.1 200 OK\r\n")...)
	var l Loader

	w, ok := l.Load(FrameSource(frame), 54)
	require.True(t, ok)
	assert.Equal(t, 54, w.Offset, "linear window keeps the header offset")
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", string(w.Bytes()))
	assert.Equal(t, uint64(0), l.Copies())

	// Aliases the frame instead of copying.
	frame[54] = 'X'
	assert.Equal(t, byte('X'), w.Bytes()[0])
}

func TestLoaderCapsAtScratchSize(t *testing.T) {
	frame := make([]byte, 40+ScratchSize+500)
	var l Loader

	w, ok := l.Load(FrameSource(frame), 40)
	require.True(t, ok)
	assert.Equal(t, ScratchSize, w.Len())
}

func TestLoaderSegmented(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 60) // 960 bytes
	frame := append(bytes.Repeat([]byte{0}, 20), payload...)
	src := SegmentedSource{frame[:30], frame[30:400], frame[400:]}
	var l Loader

	w, ok := l.Load(src, 20)
	require.True(t, ok)
	assert.Equal(t, 0, w.Offset, "copied window starts at zero")
	assert.Equal(t, payload, w.Bytes())
	assert.Equal(t, uint64(1), l.Copies())
}

func TestLoaderSegmentedLarge(t *testing.T) {
	frame := make([]byte, 3000)
	for i := range frame {
		frame[i] = byte(i)
	}
	src := SegmentedSource{frame[:10], frame[10:]}
	var l Loader

	w, ok := l.Load(src, 14)
	require.True(t, ok)
	require.Equal(t, ScratchSize, w.Len())
	assert.Equal(t, frame[14:14+ScratchSize], w.Bytes())
}

func TestLoaderBounds(t *testing.T) {
	var l Loader
	tests := []struct {
		name      string
		src       Source
		headerLen int
		wantOK    bool
		wantLen   int
	}{
		{"negative header", FrameSource(make([]byte, 10)), -1, false, 0},
		{"header past frame", FrameSource(make([]byte, 10)), 11, false, 0},
		{"header equals frame", FrameSource(make([]byte, 10)), 10, true, 0},
		{"empty segmented", SegmentedSource(nil), 0, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := l.Load(tt.src, tt.headerLen)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLen, w.Len())
		})
	}
}
