package http

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/pkg/window"
)

func TestDecodeStatusLine(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    StatusLine
		wantErr error
	}{
		{"http 1.1 ok", "HTTP/1.1 200 OK\r\n", StatusLine{1, 1, 200}, nil},
		{"http 1.0 not found", "HTTP/1.0 404 Not Found\r\n", StatusLine{1, 0, 404}, nil},
		{"exactly twelve bytes", "HTTP/1.1 503", StatusLine{1, 1, 503}, nil},
		{"eleven bytes", "HTTP/1.1 50", StatusLine{}, core.ErrTruncated},
		{"empty", "", StatusLine{}, core.ErrTruncated},
		{"request line", "GET /index.html HTTP/1.1\r\n", StatusLine{}, core.ErrNotHTTPResponse},
		{"lower case", "http/1.1 200 OK", StatusLine{}, core.ErrNotHTTPResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStatusLine(window.New([]byte(tt.payload)))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStatusLineNonDigitsStayInRange(t *testing.T) {
	got, err := DecodeStatusLine(window.New([]byte("HTTP/x.y \xff\xff\xff")))
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Code, uint16(999))
}

func TestDecodeStatusLineHonorsOffset(t *testing.T) {
	frame := []byte("\x00\x01\x02HTTP/1.1 301 Moved")
	w, ok := window.Slice(frame, 3, len(frame))
	require.True(t, ok)

	got, err := DecodeStatusLine(w)
	require.NoError(t, err)
	assert.Equal(t, uint16(301), got.Code)
	assert.Equal(t, "1.1", got.Version())
}
