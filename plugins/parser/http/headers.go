package http

import (
	"firestige.xyz/pandit/pkg/window"
)

// MaxHeaderEntries caps the number of header lines examined per window.
const MaxHeaderEntries = 128

// maxContentLengthDigits keeps the parsed length inside int64.
const maxContentLengthDigits = 18

// EntrySink receives header entries. The slices alias the packet window and
// are only valid for the duration of the call.
type EntrySink interface {
	Put(name, value []byte) error
}

// PopulateResult reports what one Populate call did.
type PopulateResult struct {
	Lines      int  // header lines examined
	Entries    int  // entries accepted by the sink
	Rejected   int  // entries the sink refused
	Skipped    int  // lines without a key/value separator
	Terminated bool // the empty line ending the header block was consumed
	Truncated  bool // the line cap was reached while another entry remained
}

// Populate splits the header block starting at buf.Offset into entries and
// hands each one to sink. The key is the bytes before the first kvSep of a
// line and the value everything after it up to entrySep, untrimmed.
//
// The loop examines at most maxEntries lines (never more than
// MaxHeaderEntries) regardless of buf.Size. It stops early at the empty line,
// at a line with no entrySep (the rest of the block is in a later packet) or
// at the end of the window. buf.Offset is left just past the last consumed
// line.
func Populate(sink EntrySink, buf *window.ByteWindow, kvSep, entrySep window.Separator, maxEntries int) PopulateResult {
	var res PopulateResult
	if maxEntries <= 0 || maxEntries > MaxHeaderEntries {
		maxEntries = MaxHeaderEntries
	}
	if kvSep.Len() == 0 || entrySep.Len() == 0 {
		return res
	}

	for res.Lines < maxEntries {
		if buf.Len() == 0 {
			return res
		}
		if window.HasPrefix(*buf, entrySep) {
			buf.Advance(buf.Offset + entrySep.Len())
			res.Terminated = true
			return res
		}

		eol, ok := window.FindSep(*buf, entrySep)
		if !ok {
			return res
		}
		res.Lines++

		line, _ := buf.Sub(buf.Offset, eol)
		sep, ok := window.FindSep(line, kvSep)
		if !ok || sep == line.Offset {
			res.Skipped++
		} else {
			key, _ := line.Sub(line.Offset, sep)
			value, _ := line.Sub(sep+kvSep.Len(), eol)
			if err := sink.Put(key.Bytes(), value.Bytes()); err != nil {
				res.Rejected++
			} else {
				res.Entries++
			}
		}

		if !buf.Advance(eol + entrySep.Len()) {
			return res
		}
	}

	// Cap reached: tell the caller whether a complete entry was left behind.
	if buf.Len() > 0 && !window.HasPrefix(*buf, entrySep) {
		if _, ok := window.FindSep(*buf, entrySep); ok {
			res.Truncated = true
		}
	}
	return res
}

// FindBodyOffset returns the absolute position of the first body byte, the
// byte after the first "\r\n\r\n" in w.
func FindBodyOffset(w window.ByteWindow) (int, bool) {
	pos, ok := window.FindSep(w, window.HeaderEnd)
	if !ok {
		return 0, false
	}
	return pos + window.HeaderEnd.Len(), true
}

// IsContentLength reports whether name is Content-Length in any letter case.
func IsContentLength(name []byte) bool {
	return equalFold(name, "content-length")
}

// ParseContentLength parses a header value such as " 42". Surrounding
// spaces and tabs are ignored; anything else makes the value invalid.
func ParseContentLength(value []byte) (int64, bool) {
	v := trimSpace(value)
	if len(v) == 0 || len(v) > maxContentLengthDigits {
		return 0, false
	}
	var n int64
	for i := 0; i < len(v) && i < maxContentLengthDigits; i++ {
		c := v[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\t') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}

// equalFold compares b against a lower-case ASCII literal.
func equalFold(b []byte, lower string) bool {
	if len(b) != len(lower) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c := b[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}

func lowerASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
