package http

import (
	"errors"
	"strconv"
	"strings"

	"firestige.xyz/pandit/pkg/window"
)

const (
	// MaxStackDepth is the deepest JSON nesting the body scanner follows.
	MaxStackDepth = 8
	// MaxJSONTokens caps the tokens consumed per scan.
	MaxJSONTokens = 256
)

var (
	ErrStackOverflow = errors.New("pandit: json nesting exceeds stack depth")
	ErrMalformedJSON = errors.New("pandit: malformed json")
)

// TokenKind classifies a JSON token.
type TokenKind uint8

const (
	KindKey TokenKind = iota + 1
	KindString
	KindNumber
	KindBoolean
	KindNull
	KindObject
	KindArray
)

func (k TokenKind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindNull:
		return "null"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return "unknown"
}

// StackEntry locates a token inside the scanned window.
type StackEntry struct {
	Start  int
	Length int
	Kind   TokenKind
}

type frame struct {
	kind      TokenKind // KindObject or KindArray
	key       StackEntry
	index     int
	expectKey bool
}

// EmitFunc receives one scalar value with its dotted path, e.g. "data.items.0.id".
// Returning false stops the scan.
type EmitFunc func(path string, value []byte, kind TokenKind) bool

// ScanJSON walks the JSON document at the start of w and emits every scalar
// value. The container stack is a fixed array of MaxStackDepth entries and
// the walk stops after MaxJSONTokens tokens. A document cut off by the end
// of the window ends the scan without error.
func ScanJSON(w window.ByteWindow, emit EmitFunc) (int, error) {
	buf := w.Bytes()

	var (
		stack  [MaxStackDepth]frame
		depth  int
		tokens int
	)

	path := func() string {
		var sb strings.Builder
		for i := 0; i < depth; i++ {
			if i > 0 {
				sb.WriteByte('.')
			}
			f := &stack[i]
			if f.kind == KindObject {
				sb.Write(buf[f.key.Start : f.key.Start+f.key.Length])
			} else {
				sb.WriteString(strconv.Itoa(f.index))
			}
		}
		return sb.String()
	}

	for pos, steps := 0, 0; pos < len(buf) && tokens < MaxJSONTokens && steps < window.MaxScan; steps++ {
		c := buf[pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			pos++

		case c == '{' || c == '[':
			if depth == MaxStackDepth {
				return tokens, ErrStackOverflow
			}
			kind := KindArray
			if c == '{' {
				kind = KindObject
			}
			stack[depth] = frame{kind: kind, expectKey: kind == KindObject}
			depth++
			tokens++
			pos++

		case c == '}' || c == ']':
			want := KindArray
			if c == '}' {
				want = KindObject
			}
			if depth == 0 || stack[depth-1].kind != want {
				return tokens, ErrMalformedJSON
			}
			depth--
			tokens++
			pos++

		case c == ',':
			if depth == 0 {
				return tokens, ErrMalformedJSON
			}
			top := &stack[depth-1]
			if top.kind == KindObject {
				top.expectKey = true
			} else {
				top.index++
			}
			pos++

		case c == ':':
			if depth == 0 || stack[depth-1].kind != KindObject || stack[depth-1].expectKey {
				return tokens, ErrMalformedJSON
			}
			pos++

		case c == '"':
			end, ok := scanString(buf, pos+1)
			if !ok {
				return tokens, nil
			}
			tokens++
			entry := StackEntry{Start: pos + 1, Length: end - pos - 1, Kind: KindString}
			if depth > 0 && stack[depth-1].kind == KindObject && stack[depth-1].expectKey {
				entry.Kind = KindKey
				stack[depth-1].key = entry
				stack[depth-1].expectKey = false
			} else if !emit(path(), buf[entry.Start:entry.Start+entry.Length], KindString) {
				return tokens, nil
			}
			pos = end + 1

		case c == '-' || (c >= '0' && c <= '9'):
			end := scanNumber(buf, pos)
			if end == len(buf) {
				// The number may continue in the next packet.
				return tokens, nil
			}
			tokens++
			if !emit(path(), buf[pos:end], KindNumber) {
				return tokens, nil
			}
			pos = end

		case c == 't' || c == 'f' || c == 'n':
			lit, kind := "null", KindNull
			switch c {
			case 't':
				lit, kind = "true", KindBoolean
			case 'f':
				lit, kind = "false", KindBoolean
			}
			if len(buf)-pos < len(lit) {
				return tokens, nil
			}
			if string(buf[pos:pos+len(lit)]) != lit {
				return tokens, ErrMalformedJSON
			}
			tokens++
			if !emit(path(), buf[pos:pos+len(lit)], kind) {
				return tokens, nil
			}
			pos += len(lit)

		default:
			return tokens, ErrMalformedJSON
		}
	}
	return tokens, nil
}

// scanString returns the index of the closing quote of a string whose
// first content byte is at start.
func scanString(buf []byte, start int) (int, bool) {
	for j := start; j < len(buf) && j-start < window.MaxScan; j++ {
		switch buf[j] {
		case '\\':
			j++
		case '"':
			return j, true
		}
	}
	return 0, false
}

func scanNumber(buf []byte, start int) int {
	j := start
	for ; j < len(buf) && j-start < window.MaxScan; j++ {
		c := buf[j]
		if (c < '0' || c > '9') && c != '-' && c != '+' && c != '.' && c != 'e' && c != 'E' {
			break
		}
	}
	return j
}
