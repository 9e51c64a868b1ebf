// Package flow holds per-response state shared by all pipelines of a task:
// the flow state cache and the flow-scoped header store.
package flow

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/pandit/internal/core"
)

// Key identifies one HTTP response on the wire.
//
// Addr is the response's destination address (the client) and Ack the TCP
// acknowledgment number the server sends while streaming that response.
// Ack stays constant across all segments of one response, so every packet
// of the response maps to the same Key.
type Key struct {
	Addr netip.Addr
	Ack  uint32
}

// KeyOf derives the Key for a decoded response packet.
func KeyOf(pkt *core.DecodedPacket) Key {
	return Key{Addr: pkt.IP.DstIP, Ack: pkt.Transport.AckNum}
}

// String renders the key as "<addr>/<ack>".
func (k Key) String() string {
	return k.Addr.String() + "/" + strconv.FormatUint(uint64(k.Ack), 10)
}

// Compare orders keys by address then ack.
func (k Key) Compare(o Key) int {
	if c := k.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	switch {
	case k.Ack < o.Ack:
		return -1
	case k.Ack > o.Ack:
		return 1
	}
	return 0
}

// ParseKey parses the String form of a Key.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return Key{}, fmt.Errorf("flow key %q: missing ack: %w", s, core.ErrConfigInvalid)
	}
	addr, err := netip.ParseAddr(s[:i])
	if err != nil {
		return Key{}, fmt.Errorf("flow key %q: %w", s, err)
	}
	ack, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("flow key %q: %w", s, err)
	}
	return Key{Addr: addr, Ack: uint32(ack)}, nil
}

// State is the per-response parse state.
//
// BodyOffset is measured in bytes from the first payload byte of the
// response. Zero means the header terminator has not been seen yet.
type State struct {
	BodyOffset    uint32
	StatusCode    uint16
	Major         uint8
	Minor         uint8
	ContentLength int64 // -1 when unknown
	FirstSeq      uint32
	NextSeq       uint32 // seq expected for the next in-order segment
	Seen          uint32 // payload bytes observed so far
	Headers       int
	Truncated     bool
	PendingLine   bool // the last segment ended inside a header line
	HeaderGap     bool // header bytes were skipped; the header block cannot be resumed
	Complete      bool
	FirstSeen     time.Time
	LastSeen      time.Time
}

// Classified reports whether the header/body boundary is known.
func (s State) Classified() bool {
	return s.BodyOffset != 0
}

// BodyReceived returns the number of body bytes seen so far.
func (s State) BodyReceived() int64 {
	if !s.Classified() || s.Seen < s.BodyOffset {
		return 0
	}
	return int64(s.Seen - s.BodyOffset)
}

// SeqBefore reports whether a precedes b in TCP sequence space.
func SeqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
