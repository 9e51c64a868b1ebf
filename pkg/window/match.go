package window

// Separator is an immutable byte pattern used to delimit HTTP/1.x framing.
type Separator string

// Wire separators and literals.
const (
	Colon      Separator = ":"
	CRLF       Separator = "\r\n"
	HeaderEnd  Separator = "\r\n\r\n"
	HTTPPrefix Separator = "HTTP"
)

// Len returns the separator length in bytes.
func (s Separator) Len() int { return len(s) }

type needle interface {
	~[]byte | ~string
}

// Find returns the absolute position of the first occurrence of needle
// inside haystack. An empty needle, a needle longer than MaxNeedle or a
// haystack shorter than the needle is a miss. A hit at position 0 is
// reported as (0, true).
func Find(haystack, needle ByteWindow) (int, bool) {
	return find(haystack, needle.Bytes())
}

// FindSep is Find for a Separator.
func FindSep(haystack ByteWindow, sep Separator) (int, bool) {
	return find(haystack, sep)
}

// HasPrefix reports whether the window starts with sep at its Offset.
func HasPrefix(w ByteWindow, sep Separator) bool {
	n := len(sep)
	if n == 0 || n > MaxNeedle || w.Len() < n {
		return false
	}
	for j := 0; j < n; j++ {
		if w.Base[w.Offset+j] != sep[j] {
			return false
		}
	}
	return true
}

func find[N needle](h ByteWindow, n N) (int, bool) {
	nlen := len(n)
	if nlen == 0 || nlen > MaxNeedle || !h.Valid() {
		return 0, false
	}

	last := h.Size - nlen
	for i, scanned := h.Offset, 0; i <= last && scanned < MaxScan; i, scanned = i+1, scanned+1 {
		j := 0
		for ; j < nlen; j++ {
			if i+j >= h.Size || h.Base[i+j] != n[j] {
				break
			}
		}
		if j == nlen {
			return i, true
		}
	}
	return 0, false
}
