package http

import (
	"firestige.xyz/pandit/pkg/window"
)

const (
	// ScratchSize is the largest payload window the loader produces.
	ScratchSize = 1500
	// ChunkSize is the stride used when copying a non-linear payload.
	ChunkSize = 288

	maxChunks = ScratchSize/ChunkSize + 1
)

// Source is a captured frame that may not be stored contiguously.
type Source interface {
	// Len returns the total frame length.
	Len() int
	// Linear returns the directly addressable prefix of the frame.
	Linear() []byte
	// CopyAt copies frame bytes starting at off into dst and returns the
	// number of bytes copied.
	CopyAt(dst []byte, off int) int
}

// FrameSource is a frame held in one contiguous buffer.
type FrameSource []byte

func (f FrameSource) Len() int       { return len(f) }
func (f FrameSource) Linear() []byte { return f }

func (f FrameSource) CopyAt(dst []byte, off int) int {
	if off < 0 || off >= len(f) {
		return 0
	}
	return copy(dst, f[off:])
}

// SegmentedSource is a frame split across several buffers, such as a
// packet whose tail lives in fragments. Only the first segment is linear.
type SegmentedSource [][]byte

func (s SegmentedSource) Len() int {
	n := 0
	for _, seg := range s {
		n += len(seg)
	}
	return n
}

func (s SegmentedSource) Linear() []byte {
	if len(s) == 0 {
		return nil
	}
	return s[0]
}

func (s SegmentedSource) CopyAt(dst []byte, off int) int {
	if off < 0 {
		return 0
	}
	copied := 0
	for _, seg := range s {
		if copied == len(dst) {
			break
		}
		if off >= len(seg) {
			off -= len(seg)
			continue
		}
		copied += copy(dst[copied:], seg[off:])
		off = 0
	}
	return copied
}

// Loader turns a frame into a payload window. Each pipeline owns one
// Loader; the scratch buffer is reused for every packet and the returned
// window is only valid until the next Load.
type Loader struct {
	scratch [ScratchSize]byte
	copies  uint64
}

// Load returns a window over at most ScratchSize payload bytes starting at
// headerLen. When the linear region already holds them the window aliases
// the frame; otherwise the payload is copied into scratch in ChunkSize
// strides. It returns false when headerLen lies outside the frame.
func (l *Loader) Load(src Source, headerLen int) (window.ByteWindow, bool) {
	total := src.Len()
	if headerLen < 0 || headerLen > total {
		return window.ByteWindow{}, false
	}

	n := total - headerLen
	if n > ScratchSize {
		n = ScratchSize
	}

	if linear := src.Linear(); headerLen+n <= len(linear) {
		return window.Slice(linear, headerLen, headerLen+n)
	}

	l.copies++
	copied := 0
	for i := 0; i < maxChunks && copied < n; i++ {
		want := ChunkSize
		if rest := n - copied; rest < want {
			want = rest
		}
		if copied+want > len(l.scratch) {
			break
		}
		got := src.CopyAt(l.scratch[copied:copied+want], headerLen+copied)
		if got <= 0 {
			break
		}
		copied += got
	}
	return window.Slice(l.scratch[:], 0, copied)
}

// Copies returns how many loads needed the scratch buffer.
func (l *Loader) Copies() uint64 {
	return l.copies
}
