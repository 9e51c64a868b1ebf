package http

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/internal/flow"
)

var (
	serverAddr = netip.MustParseAddr("10.0.0.1")
	clientAddr = netip.MustParseAddr("10.0.0.2")
)

const testAck = 777

func responsePacket(payload string, seq uint32) *core.DecodedPacket {
	return &core.DecodedPacket{
		Timestamp: time.Unix(1700000000, 0),
		IP: core.IPHeader{
			Version:  4,
			SrcIP:    serverAddr,
			DstIP:    clientAddr,
			Protocol: core.ProtoTCP,
		},
		Transport: core.TransportHeader{
			SrcPort:  DefaultPort,
			DstPort:  50000,
			Protocol: core.ProtoTCP,
			SeqNum:   seq,
			AckNum:   testAck,
		},
		Payload: []byte(payload),
	}
}

func newTestParser(t *testing.T, cfg map[string]any, cacheCapacity int) (*Parser, *flow.Cache, *flow.Store) {
	t.Helper()
	p := NewHTTPParser().(*Parser)
	require.NoError(t, p.Init(cfg))

	store := flow.NewStore(0)
	cache := flow.NewCache(flow.CacheConfig{
		Capacity: cacheCapacity,
		TTL:      time.Minute,
		OnEvict:  func(k flow.Key) { store.DeleteFlow(k) },
	})
	t.Cleanup(cache.Flush)
	p.SetFlowState(cache, store)
	require.NoError(t, p.Start(context.Background()))
	return p, cache, store
}

func testKey() flow.Key {
	return flow.Key{Addr: clientAddr, Ack: testAck}
}

func TestHandleSingleSegmentResponse(t *testing.T) {
	p, cache, store := newTestParser(t, nil, 16)
	payload := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"

	out, labels, err := p.Handle(responsePacket(payload, 1000))
	require.NoError(t, err)

	resp := out.(*Response)
	assert.Equal(t, StatusLine{Major: 1, Minor: 1, Code: 200}, resp.Status)
	assert.Equal(t, 38, resp.BodyOffset)
	assert.Equal(t, int64(5), resp.ContentLength)
	assert.Equal(t, int64(5), resp.BodyReceived)
	assert.True(t, resp.Complete)
	assert.False(t, resp.Continuation)

	value, ok := store.Get(testKey(), "Content-Length")
	require.True(t, ok)
	assert.Equal(t, " 5", string(value), "value keeps the byte after the colon")

	state, ok := cache.Lookup(testKey())
	require.True(t, ok)
	assert.Equal(t, uint32(38), state.BodyOffset)
	assert.Equal(t, uint16(200), state.StatusCode)
	assert.True(t, state.Complete)

	assert.Equal(t, "1.1", labels[core.LabelHTTPVersion])
	assert.Equal(t, "200", labels[core.LabelHTTPStatusCode])
	assert.Equal(t, "38", labels[core.LabelHTTPBodyOffset])
	assert.Equal(t, "5", labels[core.LabelHTTPContentLength])
	assert.Equal(t, "true", labels[core.LabelHTTPComplete])
	assert.Equal(t, "10.0.0.2/777", labels[core.LabelHTTPFlow])
}

func TestHandleUsesFrameOffset(t *testing.T) {
	p, _, store := newTestParser(t, nil, 16)
	payload := "HTTP/1.0 404 Not Found\r\nServer: x\r\n\r\n"
	pkt := responsePacket(payload, 1)
	pkt.Frame = append(make([]byte, 54), payload...)
	pkt.PayloadOffset = 54
	pkt.Payload = pkt.Frame[54:]

	out, _, err := p.Handle(pkt)
	require.NoError(t, err)
	resp := out.(*Response)
	assert.Equal(t, uint16(404), resp.Status.Code)
	assert.Equal(t, len(payload), resp.BodyOffset)

	value, ok := store.Get(testKey(), "Server")
	require.True(t, ok)
	assert.Equal(t, " x", string(value))
}

func TestHandleNotHTTP(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", "", core.ErrNotHTTPResponse},
		{"request", "GET / HTTP/1.1\r\nHost: a\r\n\r\n", core.ErrNotHTTPResponse},
		{"binary", "\x16\x03\x01\x02\x00\x01\x00\x01\xfc\x03\x03\x00", core.ErrNotHTTPResponse},
		{"short", "HTTP/1.1", core.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, cache, store := newTestParser(t, nil, 16)
			_, _, err := p.Handle(responsePacket(tt.payload, 1))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, store.Len())
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestHandleDuplicateSegmentIsIdempotent(t *testing.T) {
	p, cache, store := newTestParser(t, nil, 16)
	payload := "HTTP/1.1 200 OK\r\nA: 1\r\nB: 2\r\n\r\n{}"

	_, _, err := p.Handle(responsePacket(payload, 500))
	require.NoError(t, err)
	before := store.Entries(testKey())
	stateBefore, _ := cache.Lookup(testKey())

	_, _, err = p.Handle(responsePacket(payload, 500))
	assert.ErrorIs(t, err, core.ErrDuplicateSegment)

	assert.Equal(t, before, store.Entries(testKey()))
	assert.Equal(t, 2, store.Len())
	stateAfter, _ := cache.Lookup(testKey())
	assert.Equal(t, stateBefore, stateAfter)
}

func TestHandleBodyContinuation(t *testing.T) {
	p, _, store := newTestParser(t, nil, 16)
	head := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nhello"

	out, _, err := p.Handle(responsePacket(head, 100))
	require.NoError(t, err)
	assert.False(t, out.(*Response).Complete)

	out, labels, err := p.Handle(responsePacket("world", 100+uint32(len(head))))
	require.NoError(t, err)
	resp := out.(*Response)
	assert.True(t, resp.Continuation)
	assert.True(t, resp.Complete)
	assert.Equal(t, int64(10), resp.BodyReceived)
	assert.Empty(t, resp.Headers)
	assert.Equal(t, "true", labels[core.LabelHTTPContinuation])
	assert.Equal(t, 1, store.Len(), "body segments write no entries")
}

func TestHandleHeadersSpanSegments(t *testing.T) {
	p, cache, store := newTestParser(t, nil, 16)
	first := "HTTP/1.1 200 OK\r\nA: 1\r\nB: 2\r\n"
	second := "C: 3\r\n\r\nbody"

	out, _, err := p.Handle(responsePacket(first, 1))
	require.NoError(t, err)
	assert.Equal(t, -1, out.(*Response).BodyOffset)

	out, _, err = p.Handle(responsePacket(second, 1+uint32(len(first))))
	require.NoError(t, err)
	resp := out.(*Response)
	assert.Equal(t, len(first)+len("C: 3\r\n\r\n"), resp.BodyOffset)
	assert.Equal(t, []flow.HeaderEntry{{Name: "C", Value: []byte(" 3")}}, resp.Headers)

	entries := store.Entries(testKey())
	require.Len(t, entries, 3)
	assert.Equal(t, "A", entries[0].Name)
	assert.Equal(t, "C", entries[2].Name)

	state, _ := cache.Lookup(testKey())
	assert.Equal(t, 3, state.Headers)
	assert.False(t, state.PendingLine)
}

func TestHandleHeaderLineSplitAcrossSegments(t *testing.T) {
	p, _, store := newTestParser(t, nil, 16)
	first := "HTTP/1.1 200 OK\r\nA: 1\r\nLong-Hea"
	second := "der: x\r\nC: 3\r\n\r\n"

	_, _, err := p.Handle(responsePacket(first, 1))
	require.NoError(t, err)
	_, _, err = p.Handle(responsePacket(second, 1+uint32(len(first))))
	require.NoError(t, err)

	_, ok := store.Get(testKey(), "A")
	assert.True(t, ok)
	_, ok = store.Get(testKey(), "C")
	assert.True(t, ok)
	_, ok = store.Get(testKey(), "der")
	assert.False(t, ok, "tail of a split line is not an entry")
	assert.Equal(t, 2, store.Len())
}

func TestHandleOversizedFirstSegmentStopsHeaders(t *testing.T) {
	p, cache, store := newTestParser(t, nil, 16)
	first := "HTTP/1.1 200 OK\r\nX-Big: " + strings.Repeat("a", 1600) + "\r\nServer: s\r\n\r\n{}"
	second := "more body\r\nnot-a-header: injected\r\n"

	out, _, err := p.Handle(responsePacket(first, 1))
	require.NoError(t, err)
	assert.Equal(t, -1, out.(*Response).BodyOffset)

	out, labels, err := p.Handle(responsePacket(second, 1+uint32(len(first))))
	require.NoError(t, err)
	assert.Empty(t, out.(*Response).Headers)
	assert.NotContains(t, labels, core.LabelHTTPBodyOffset)

	_, ok := store.Get(testKey(), "not-a-header")
	assert.False(t, ok, "body line stored as header")
	assert.Equal(t, 0, store.Len())

	state, _ := cache.Lookup(testKey())
	assert.True(t, state.HeaderGap)
	assert.False(t, state.Classified())
	assert.Equal(t, uint32(len(first)+len(second)), state.Seen)
}

func TestHandleGapBeforeHeaderEnd(t *testing.T) {
	p, cache, store := newTestParser(t, nil, 16)
	first := "HTTP/1.1 200 OK\r\nA: 1\r\n"
	lost := 40

	_, _, err := p.Handle(responsePacket(first, 1))
	require.NoError(t, err)

	next := 1 + uint32(len(first)+lost)
	_, _, err = p.Handle(responsePacket("body-key: body-value\r\n", next))
	require.NoError(t, err)
	// An in-order segment after the gap does not resume either.
	_, _, err = p.Handle(responsePacket("late: x\r\n\r\n", next+uint32(len("body-key: body-value\r\n"))))
	require.NoError(t, err)

	_, ok := store.Get(testKey(), "body-key")
	assert.False(t, ok)
	_, ok = store.Get(testKey(), "late")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())

	state, _ := cache.Lookup(testKey())
	assert.True(t, state.HeaderGap)
	assert.False(t, state.Classified())
}

func TestHandleBodyFieldsInContinuation(t *testing.T) {
	p, _, _ := newTestParser(t, map[string]any{"body_fields": []string{"id"}}, 16)
	head := "HTTP/1.1 200 OK\r\nContent-Length: 9\r\n\r\n"

	_, _, err := p.Handle(responsePacket(head, 1))
	require.NoError(t, err)

	out, labels, err := p.Handle(responsePacket(`{"id":42}`, 1+uint32(len(head))))
	require.NoError(t, err)
	resp := out.(*Response)
	assert.Equal(t, map[string]string{"id": "42"}, resp.BodyFields)
	assert.Equal(t, "42", labels[core.LabelHTTPBodyPrefix+"id"])
	assert.True(t, resp.Complete)
}

func TestHandleBodyFieldsNotScannedMidBody(t *testing.T) {
	p, _, _ := newTestParser(t, map[string]any{"body_fields": []string{"id"}}, 16)
	head := "HTTP/1.1 200 OK\r\n\r\n{\"x\":"

	_, _, err := p.Handle(responsePacket(head, 1))
	require.NoError(t, err)

	out, _, err := p.Handle(responsePacket(`{"id":1}}`, 1+uint32(len(head))))
	require.NoError(t, err)
	assert.Nil(t, out.(*Response).BodyFields)
}

func TestHandleHeaderCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 200 OK\r\n")
	for i := 0; i < MaxHeaderEntries+1; i++ {
		fmt.Fprintf(&sb, "X-%d: %d\r\n", i, i)
	}
	sb.WriteString("\r\n")

	p, _, store := newTestParser(t, nil, 16)
	_, labels, err := p.Handle(responsePacket(sb.String(), 1))
	require.NoError(t, err)

	assert.Equal(t, MaxHeaderEntries, store.Len())
	_, ok := store.Get(testKey(), fmt.Sprintf("X-%d", MaxHeaderEntries))
	assert.False(t, ok)
	assert.Equal(t, "true", labels[core.LabelHTTPTruncated])
}

func TestHandleCacheFullStillParses(t *testing.T) {
	p, cache, store := newTestParser(t, nil, 1)
	payload := "HTTP/1.1 201 Created\r\nA: 1\r\n\r\n"

	_, _, err := p.Handle(responsePacket(payload, 1))
	require.NoError(t, err)

	other := responsePacket(payload, 1)
	other.Transport.AckNum = testAck + 1
	out, labels, err := p.Handle(other)
	require.NoError(t, err)

	assert.Equal(t, uint16(201), out.(*Response).Status.Code)
	assert.Equal(t, "201", labels[core.LabelHTTPStatusCode])
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, store.Len(), "untracked flow writes no entries")
}

func TestHandleLabelsAndBodyFields(t *testing.T) {
	p, _, _ := newTestParser(t, map[string]any{
		"label_headers": []string{"content-type"},
		"body_fields":   []string{"data.id", "ok"},
	}, 16)
	payload := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n" +
		`{"data":{"id":42,"tags":["a"]},"ok":true}`

	out, labels, err := p.Handle(responsePacket(payload, 1))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"data.id": "42", "ok": "true"}, out.(*Response).BodyFields)
	assert.Equal(t, "application/json", labels[core.LabelHTTPHeaderPrefix+"content-type"])
	assert.Equal(t, "42", labels[core.LabelHTTPBodyPrefix+"data.id"])
	assert.Equal(t, "true", labels[core.LabelHTTPBodyPrefix+"ok"])
}

func TestEvictionRemovesHeaders(t *testing.T) {
	p, cache, store := newTestParser(t, nil, 16)
	_, _, err := p.Handle(responsePacket("HTTP/1.1 200 OK\r\nA: 1\r\n\r\n", 1))
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	cache.Delete(testKey())
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCanHandle(t *testing.T) {
	p, _, _ := newTestParser(t, map[string]any{"port": "8080"}, 16)

	tests := []struct {
		name     string
		proto    uint8
		src, dst uint16
		want     bool
	}{
		{"response from port", core.ProtoTCP, 8080, 40000, true},
		{"request to port", core.ProtoTCP, 40000, 8080, true},
		{"other port", core.ProtoTCP, 8000, 40000, false},
		{"udp", core.ProtoUDP, 8080, 40000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := &core.DecodedPacket{Transport: core.TransportHeader{Protocol: tt.proto, SrcPort: tt.src, DstPort: tt.dst}}
			assert.Equal(t, tt.want, p.CanHandle(pkt))
		})
	}
}

func TestInitRejectsBadPort(t *testing.T) {
	p := NewHTTPParser()
	err := p.Init(map[string]any{"port": 70000})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestStartWithoutInjectedState(t *testing.T) {
	p := NewHTTPParser().(*Parser)
	require.NoError(t, p.Init(map[string]any{"flow_ttl": "5s", "flow_capacity": 4}))
	require.NoError(t, p.Start(context.Background()))
	defer p.cache.Flush()

	_, _, err := p.Handle(responsePacket("HTTP/1.1 204 No Content\r\n\r\n", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, p.cache.Len())
	assert.Equal(t, 4, p.cache.Capacity())
}
