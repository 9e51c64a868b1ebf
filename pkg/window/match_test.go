package window

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	tests := []struct {
		name     string
		haystack string
		needle   string
		wantPos  int
		wantOK   bool
	}{
		{"empty needle", "HTTP/1.1 200 OK", "", 0, false},
		{"empty haystack", "", ":", 0, false},
		{"match at zero", "HTTP/1.1", "HTTP", 0, true},
		{"match in middle", "Host: a\r\nX: b", "\r\n", 7, true},
		{"match at end", "abc\r\n", "\r\n", 3, true},
		{"first of several", "a:b:c", ":", 1, true},
		{"needle longer than haystack", "ab", "abc", 0, false},
		{"partial at end", "abc\r", "\r\n", 0, false},
		{"no match", "abcdef", "xyz", 0, false},
		{"header terminator", "A: 1\r\n\r\nbody", "\r\n\r\n", 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, ok := Find(New([]byte(tt.haystack)), New([]byte(tt.needle)))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPos, pos)
		})
	}
}

func TestFindRespectsOffset(t *testing.T) {
	buf := []byte("a:b:c")
	w := New(buf)
	require.True(t, w.Advance(2))

	pos, ok := FindSep(w, Colon)
	require.True(t, ok)
	assert.Equal(t, 3, pos, "position is absolute in Base")
}

func TestFindNeverReadsPastSize(t *testing.T) {
	buf := []byte("abc\r\nrest")
	// Size cuts the CRLF in half; the byte at Size must not be consulted.
	w := ByteWindow{Base: buf, Offset: 0, Size: 4}

	_, ok := FindSep(w, CRLF)
	assert.False(t, ok)
}

func TestFindInvalidWindow(t *testing.T) {
	buf := []byte("HTTP")
	cases := []ByteWindow{
		{Base: buf, Offset: -1, Size: 4},
		{Base: buf, Offset: 3, Size: 2},
		{Base: buf, Offset: 0, Size: 9},
		{},
	}
	for _, w := range cases {
		_, ok := FindSep(w, HTTPPrefix)
		assert.False(t, ok, "window %+v", w)
	}
}

func TestFindNeedleTooLong(t *testing.T) {
	long := bytes.Repeat([]byte("x"), MaxNeedle+1)
	hay := bytes.Repeat([]byte("x"), 64)

	_, ok := Find(New(hay), New(long))
	assert.False(t, ok)
}

// Every unique occurrence planted at k is found at k, and the window
// truncated one byte short of the match end misses it.
func TestFindPlantedNeedle(t *testing.T) {
	needles := []Separator{Colon, CRLF, HeaderEnd, HTTPPrefix}
	for _, sep := range needles {
		for size := sep.Len(); size <= 40; size++ {
			for k := 0; k+sep.Len() <= size; k++ {
				buf := bytes.Repeat([]byte{'.'}, size)
				copy(buf[k:], sep)

				pos, ok := FindSep(New(buf), sep)
				require.True(t, ok, "sep=%q size=%d k=%d", sep, size, k)
				require.Equal(t, k, pos)

				truncated := New(buf).Limit(k + sep.Len() - 1)
				_, ok = FindSep(truncated, sep)
				require.False(t, ok, "truncated sep=%q size=%d k=%d", sep, size, k)
			}
		}
	}
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix(New([]byte("HTTP/1.0 404")), HTTPPrefix))
	assert.False(t, HasPrefix(New([]byte("HTT")), HTTPPrefix))
	assert.False(t, HasPrefix(New([]byte("GET / HTTP/1.1")), HTTPPrefix))

	w := New([]byte("xxHTTP"))
	require.True(t, w.Advance(2))
	assert.True(t, HasPrefix(w, HTTPPrefix))
}

func BenchmarkFindHeaderEnd(b *testing.B) {
	payload := []byte("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 17\r\nServer: bench\r\n\r\n{\"status\":\"ok\"}")
	w := New(payload)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		FindSep(w, HeaderEnd)
	}
}
