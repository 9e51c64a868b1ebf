// Package http implements an inline HTTP/1.x response parser.
//
// Responses are recognized packet by packet without stream reassembly. The
// first packet of a response yields the status line and the headers it
// carries; later packets of the same response only advance the flow state
// unless the header block spills into them or the body starts with them.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/internal/flow"
	"firestige.xyz/pandit/internal/metrics"
	"firestige.xyz/pandit/pkg/plugin"
	"firestige.xyz/pandit/pkg/window"
)

const (
	pluginName  = "http"
	DefaultPort = 8000
)

// Config is the parser configuration.
type Config struct {
	Port             int           `mapstructure:"port"`
	MaxHeaderEntries int           `mapstructure:"max_header_entries"`
	LabelHeaders     []string      `mapstructure:"label_headers"` // copied into http.header.<name> labels
	BodyFields       []string      `mapstructure:"body_fields"`   // JSON paths copied into http.body.<path> labels
	FlowCapacity     int           `mapstructure:"flow_capacity"` // used only without an injected cache
	FlowTTL          time.Duration `mapstructure:"flow_ttl"`
	StoreCapacity    int           `mapstructure:"store_capacity"`
}

// Response is the payload produced for each handled packet.
type Response struct {
	Flow             flow.Key
	Status           StatusLine
	Continuation     bool
	Headers          []flow.HeaderEntry
	HeadersTruncated bool
	BodyOffset       int // -1 until the header terminator has been seen
	ContentLength    int64
	BodyReceived     int64
	Complete         bool
	BodyFields       map[string]string
}

// Parser recognizes HTTP/1.x responses on one TCP port.
type Parser struct {
	name   string
	config Config

	cache *flow.Cache
	store *flow.Store

	loader       Loader
	labelHeaders map[string]struct{}
	bodyFields   map[string]struct{}
}

// NewHTTPParser creates a new HTTP response parser.
func NewHTTPParser() plugin.Parser {
	return &Parser{name: pluginName}
}

// Name returns the plugin name.
func (p *Parser) Name() string {
	return p.name
}

// Init decodes the parser configuration.
func (p *Parser) Init(cfg map[string]any) error {
	p.config = Config{
		Port:             DefaultPort,
		MaxHeaderEntries: MaxHeaderEntries,
	}
	if cfg != nil {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			WeaklyTypedInput: true,
			Result:           &p.config,
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("http parser config: %w", err)
		}
	}

	if p.config.Port <= 0 || p.config.Port > 65535 {
		return fmt.Errorf("http parser: port %d out of range: %w", p.config.Port, core.ErrConfigInvalid)
	}
	if p.config.MaxHeaderEntries <= 0 || p.config.MaxHeaderEntries > MaxHeaderEntries {
		p.config.MaxHeaderEntries = MaxHeaderEntries
	}

	p.labelHeaders = make(map[string]struct{}, len(p.config.LabelHeaders))
	for _, h := range p.config.LabelHeaders {
		p.labelHeaders[lowerASCII([]byte(h))] = struct{}{}
	}
	p.bodyFields = make(map[string]struct{}, len(p.config.BodyFields))
	for _, f := range p.config.BodyFields {
		p.bodyFields[f] = struct{}{}
	}

	slog.Debug("http parser initialized",
		"port", p.config.Port,
		"max_header_entries", p.config.MaxHeaderEntries,
		"body_fields", len(p.bodyFields))
	return nil
}

// SetFlowState injects the task-wide flow cache and header store.
func (p *Parser) SetFlowState(cache *flow.Cache, store *flow.Store) {
	p.cache = cache
	p.store = store
}

// Start creates private flow state when none was injected.
func (p *Parser) Start(ctx context.Context) error {
	if p.store == nil {
		p.store = flow.NewStore(p.config.StoreCapacity)
	}
	if p.cache == nil {
		store := p.store
		p.cache = flow.NewCache(flow.CacheConfig{
			Capacity: p.config.FlowCapacity,
			TTL:      p.config.FlowTTL,
			OnEvict:  func(k flow.Key) { store.DeleteFlow(k) },
		})
	}
	return nil
}

// Stop is a no-op; flow state is owned by the task.
func (p *Parser) Stop(ctx context.Context) error {
	return nil
}

// CanHandle accepts TCP segments to or from the monitored port.
func (p *Parser) CanHandle(pkt *core.DecodedPacket) bool {
	if pkt.Transport.Protocol != core.ProtoTCP {
		return false
	}
	port := uint16(p.config.Port)
	return pkt.Transport.SrcPort == port || pkt.Transport.DstPort == port
}

// Handle inspects one segment. Segments that are not part of an HTTP
// response return core.ErrNotHTTPResponse; retransmitted segments return
// core.ErrDuplicateSegment. Both leave all state untouched.
func (p *Parser) Handle(pkt *core.DecodedPacket) (any, core.Labels, error) {
	if len(pkt.Payload) == 0 {
		return nil, nil, core.ErrNotHTTPResponse
	}
	if p.cache == nil {
		if err := p.Start(context.Background()); err != nil {
			return nil, nil, err
		}
	}

	key := flow.KeyOf(pkt)
	if state, ok := p.cache.Lookup(key); ok {
		return p.handleContinuation(pkt, key, state)
	}
	return p.handleFirst(pkt, key)
}

// handleFirst parses a segment that starts a response.
func (p *Parser) handleFirst(pkt *core.DecodedPacket, key flow.Key) (any, core.Labels, error) {
	w, ok := p.load(pkt)
	if !ok {
		return nil, nil, core.ErrPacketTooShort
	}
	status, err := DecodeStatusLine(w)
	if err != nil {
		return nil, nil, err
	}

	payloadLen := uint32(len(pkt.Payload))
	state := flow.State{
		StatusCode:    status.Code,
		Major:         status.Major,
		Minor:         status.Minor,
		ContentLength: -1,
		FirstSeq:      pkt.Transport.SeqNum,
		NextSeq:       pkt.Transport.SeqNum + payloadLen,
		Seen:          payloadLen,
		FirstSeen:     pkt.Timestamp,
		LastSeen:      pkt.Timestamp,
	}

	// Claim the flow before writing headers so that evicting it also
	// removes them.
	tracked := true
	if err := p.cache.Create(key, state); err != nil {
		if errors.Is(err, core.ErrFlowExists) {
			if existing, ok := p.cache.Lookup(key); ok {
				return p.handleContinuation(pkt, key, existing)
			}
		}
		metrics.FlowCacheRejectsTotal.Inc()
		slog.Debug("flow not tracked", "flow", key.String(), "error", err)
		tracked = false
	}

	resp := &Response{Flow: key, Status: status, BodyOffset: -1, ContentLength: -1}
	sink := p.newSink(key, resp, tracked)

	if eol, ok := window.FindSep(w, window.CRLF); ok {
		hdrs := w
		hdrs.Advance(eol + window.CRLF.Len())
		res := Populate(sink, &hdrs, window.Colon, window.CRLF, p.config.MaxHeaderEntries)
		p.applyPopulate(resp, &state, res)
	}
	state.ContentLength = resp.ContentLength

	if pos, ok := FindBodyOffset(w); ok {
		state.BodyOffset = uint32(pos - w.Offset)
		p.scanBody(resp, w, pos)
	} else {
		state.PendingLine = !endsWithCRLF(w)
		state.HeaderGap = w.Len() < len(pkt.Payload)
	}
	p.finish(resp, &state)

	if tracked {
		if err := p.cache.Record(key, state); err != nil {
			slog.Debug("flow state not recorded", "flow", key.String(), "error", err)
		}
	}
	return resp, p.labels(resp, true), nil
}

// handleContinuation processes a later segment of a tracked response.
func (p *Parser) handleContinuation(pkt *core.DecodedPacket, key flow.Key, state flow.State) (any, core.Labels, error) {
	seq := pkt.Transport.SeqNum
	if flow.SeqBefore(seq, state.NextSeq) {
		return nil, nil, core.ErrDuplicateSegment
	}

	inOrder := seq == state.NextSeq
	wasClassified := state.Classified()

	payloadLen := uint32(len(pkt.Payload))
	rel := seq - state.FirstSeq
	state.NextSeq = seq + payloadLen
	state.Seen = rel + payloadLen
	state.LastSeen = pkt.Timestamp

	resp := &Response{
		Flow:          key,
		Continuation:  true,
		BodyOffset:    -1,
		ContentLength: state.ContentLength,
	}

	switch {
	case !wasClassified && (!inOrder || state.HeaderGap):
		// Header bytes between the last examined position and this
		// segment are missing; the boundary stays unknown.
		if !state.HeaderGap {
			slog.Debug("header block gap", "flow", key.String(), "seq", seq)
		}
		state.HeaderGap = true
	case !wasClassified:
		w, ok := p.load(pkt)
		if !ok {
			return nil, nil, core.ErrPacketTooShort
		}
		p.resumeHeaders(resp, &state, w, rel)
		if !state.Classified() && w.Len() < len(pkt.Payload) {
			state.HeaderGap = true
		}
	case inOrder && rel == state.BodyOffset && len(p.bodyFields) > 0:
		// The body starts with this segment.
		w, ok := p.load(pkt)
		if !ok {
			return nil, nil, core.ErrPacketTooShort
		}
		p.scanBody(resp, w, w.Offset)
	}

	p.finish(resp, &state)
	if err := p.cache.Record(key, state); err != nil {
		slog.Debug("flow state not recorded", "flow", key.String(), "error", err)
	}
	return resp, p.labels(resp, false), nil
}

// resumeHeaders continues the header block in a segment that follows one
// which ended before the empty line.
func (p *Parser) resumeHeaders(resp *Response, state *flow.State, w window.ByteWindow, rel uint32) {
	hdrs := w
	if state.PendingLine {
		// The previous segment ended mid-line; that header is lost.
		eol, ok := window.FindSep(hdrs, window.CRLF)
		if !ok {
			return
		}
		hdrs.Advance(eol + window.CRLF.Len())
	}

	res := Populate(p.newSink(resp.Flow, resp, true), &hdrs, window.Colon, window.CRLF, p.config.MaxHeaderEntries)
	p.applyPopulate(resp, state, res)
	if resp.ContentLength >= 0 {
		state.ContentLength = resp.ContentLength
	}

	var body int
	switch {
	case res.Terminated:
		body = hdrs.Offset
	default:
		pos, ok := FindBodyOffset(w)
		if !ok {
			state.PendingLine = !endsWithCRLF(w)
			return
		}
		body = pos
	}
	state.BodyOffset = rel + uint32(body-w.Offset)
	state.PendingLine = false
	p.scanBody(resp, w, body)
}

func (p *Parser) applyPopulate(resp *Response, state *flow.State, res PopulateResult) {
	state.Headers += res.Entries
	if res.Truncated {
		state.Truncated = true
		resp.HeadersTruncated = true
		metrics.HTTPHeadersTruncatedTotal.Inc()
	}
	if res.Rejected > 0 {
		metrics.HTTPStoreRejectsTotal.Add(float64(res.Rejected))
	}
	metrics.HTTPHeaderEntriesTotal.Add(float64(res.Entries))
}

// finish derives completion fields shared by both paths.
func (p *Parser) finish(resp *Response, state *flow.State) {
	if state.Classified() {
		resp.BodyOffset = int(state.BodyOffset)
		resp.BodyReceived = state.BodyReceived()
	}
	resp.ContentLength = state.ContentLength
	if state.Classified() && state.ContentLength >= 0 && resp.BodyReceived >= state.ContentLength {
		state.Complete = true
	}
	resp.Complete = state.Complete
}

func (p *Parser) scanBody(resp *Response, w window.ByteWindow, bodyPos int) {
	if len(p.bodyFields) == 0 {
		return
	}
	body, ok := w.Sub(bodyPos, w.Size)
	if !ok || body.Len() == 0 {
		return
	}
	_, err := ScanJSON(body, func(path string, value []byte, kind TokenKind) bool {
		if _, want := p.bodyFields[path]; want {
			if resp.BodyFields == nil {
				resp.BodyFields = make(map[string]string, len(p.bodyFields))
			}
			resp.BodyFields[path] = string(value)
		}
		return len(resp.BodyFields) < len(p.bodyFields)
	})
	if err != nil {
		slog.Debug("json body scan stopped", "flow", resp.Flow.String(), "error", err)
	}
}

func (p *Parser) labels(resp *Response, first bool) core.Labels {
	labels := core.Labels{
		core.LabelHTTPFlow:        resp.Flow.String(),
		core.LabelHTTPHeaderCount: strconv.Itoa(len(resp.Headers)),
	}
	if first {
		labels[core.LabelHTTPVersion] = resp.Status.Version()
		labels[core.LabelHTTPStatusCode] = strconv.Itoa(int(resp.Status.Code))
	} else {
		labels[core.LabelHTTPContinuation] = "true"
	}
	if resp.BodyOffset >= 0 {
		labels[core.LabelHTTPBodyOffset] = strconv.Itoa(resp.BodyOffset)
	}
	if resp.ContentLength >= 0 {
		labels[core.LabelHTTPContentLength] = strconv.FormatInt(resp.ContentLength, 10)
	}
	if resp.HeadersTruncated {
		labels[core.LabelHTTPTruncated] = "true"
	}
	if resp.Complete {
		labels[core.LabelHTTPComplete] = "true"
	}
	for _, h := range resp.Headers {
		name := lowerASCII([]byte(h.Name))
		if _, want := p.labelHeaders[name]; want {
			labels[core.LabelHTTPHeaderPrefix+name] = string(trimSpace(h.Value))
		}
	}
	for path, value := range resp.BodyFields {
		labels[core.LabelHTTPBodyPrefix+path] = value
	}
	return labels
}

// headerSink records entries into the response and, when the flow is
// tracked, into the header store.
type headerSink struct {
	resp  *Response
	store *flow.FlowSink
}

func (p *Parser) newSink(key flow.Key, resp *Response, tracked bool) *headerSink {
	s := &headerSink{resp: resp}
	if tracked {
		s.store = p.store.Sink(key)
	}
	return s
}

func (s *headerSink) Put(name, value []byte) error {
	if IsContentLength(name) {
		if n, ok := ParseContentLength(value); ok {
			s.resp.ContentLength = n
		}
	}
	s.resp.Headers = append(s.resp.Headers, flow.HeaderEntry{
		Name:  string(name),
		Value: slices.Clone(value),
	})
	if s.store == nil {
		return nil
	}
	return s.store.Put(name, value)
}

// load windows the payload through the frame so the loader can alias it.
func (p *Parser) load(pkt *core.DecodedPacket) (window.ByteWindow, bool) {
	if pkt.Frame == nil {
		return p.loader.Load(FrameSource(pkt.Payload), 0)
	}
	return p.loader.Load(FrameSource(pkt.Frame), pkt.PayloadOffset)
}

func endsWithCRLF(w window.ByteWindow) bool {
	n := w.Len()
	if n < 2 {
		return false
	}
	return w.Base[w.Size-2] == '\r' && w.Base[w.Size-1] == '\n'
}
