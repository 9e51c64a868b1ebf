package http

import (
	"fmt"
	"strconv"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/pkg/window"
)

// Fixed status-line layout: "HTTP/x.y ddd".
const (
	majorOffset   = 5
	minorOffset   = 7
	codeOffset    = 9
	StatusLineMin = 12
)

// StatusLine is the decoded first line of an HTTP/1.x response.
type StatusLine struct {
	Major uint8
	Minor uint8
	Code  uint16
}

// Version renders "major.minor".
func (s StatusLine) Version() string {
	return strconv.Itoa(int(s.Major)) + "." + strconv.Itoa(int(s.Minor))
}

// DecodeStatusLine reads version and status code at fixed offsets from the
// start of w. Digits are not validated: each byte contributes c-'0', so a
// non-digit yields a meaningless but bounded value.
func DecodeStatusLine(w window.ByteWindow) (StatusLine, error) {
	if w.Len() < StatusLineMin {
		return StatusLine{}, fmt.Errorf("status line needs %d bytes, have %d: %w", StatusLineMin, w.Len(), core.ErrTruncated)
	}
	if !window.HasPrefix(w, window.HTTPPrefix) {
		return StatusLine{}, core.ErrNotHTTPResponse
	}

	b := w.Base[w.Offset:w.Size]
	code := uint16(b[codeOffset]-'0')*100 + uint16(b[codeOffset+1]-'0')*10 + uint16(b[codeOffset+2]-'0')

	return StatusLine{
		Major: b[majorOffset] - '0',
		Minor: b[minorOffset] - '0',
		Code:  code % 1000,
	}, nil
}
