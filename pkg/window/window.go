// Package window provides bounds-checked views over packet bytes and a
// bounded substring matcher for scanning them.
//
// A ByteWindow never owns its bytes. Every accessor checks the requested
// index against Size before touching Base, so a malformed window yields a
// miss instead of a panic.
package window

// Scan limits. Every loop in this package and in the HTTP tokenizer is
// bounded by one of these constants in addition to the window size.
const (
	// MaxScan is the largest number of start positions Find will test.
	// No single frame exceeds 64KiB.
	MaxScan = 65535
	// MaxNeedle is the longest needle Find accepts.
	MaxNeedle = 16
)

// ByteWindow is a view over Base restricted to [Offset, Size).
// The invariant 0 <= Offset <= Size <= len(Base) holds for every valid window.
type ByteWindow struct {
	Base   []byte
	Offset int
	Size   int
}

// New returns a window covering all of b.
func New(b []byte) ByteWindow {
	return ByteWindow{Base: b, Size: len(b)}
}

// Slice returns a window over b[offset:size] or false if the bounds are invalid.
func Slice(b []byte, offset, size int) (ByteWindow, bool) {
	w := ByteWindow{Base: b, Offset: offset, Size: size}
	if !w.Valid() {
		return ByteWindow{}, false
	}
	return w, true
}

// Valid reports whether the window invariant holds.
func (w ByteWindow) Valid() bool {
	return w.Offset >= 0 && w.Offset <= w.Size && w.Size <= len(w.Base)
}

// Len returns the number of readable bytes, zero for an invalid window.
func (w ByteWindow) Len() int {
	if !w.Valid() {
		return 0
	}
	return w.Size - w.Offset
}

// At returns the byte at absolute position i.
func (w ByteWindow) At(i int) (byte, bool) {
	if !w.Valid() || i < w.Offset || i >= w.Size {
		return 0, false
	}
	return w.Base[i], true
}

// Bytes returns the readable region. The slice aliases Base.
func (w ByteWindow) Bytes() []byte {
	if !w.Valid() {
		return nil
	}
	return w.Base[w.Offset:w.Size]
}

// Sub narrows the window to the absolute range [from, to).
func (w ByteWindow) Sub(from, to int) (ByteWindow, bool) {
	if !w.Valid() || from < w.Offset || to < from || to > w.Size {
		return ByteWindow{}, false
	}
	return ByteWindow{Base: w.Base, Offset: from, Size: to}, true
}

// Limit returns a copy of w whose Size is at most size.
func (w ByteWindow) Limit(size int) ByteWindow {
	if size < w.Size {
		if size < w.Offset {
			size = w.Offset
		}
		w.Size = size
	}
	return w
}

// Advance moves Offset forward to the absolute position pos.
// It refuses to move backwards or past Size.
func (w *ByteWindow) Advance(pos int) bool {
	if !w.Valid() || pos < w.Offset || pos > w.Size {
		return false
	}
	w.Offset = pos
	return true
}
