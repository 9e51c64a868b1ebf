// Package pipeline implements the packet processing pipeline engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/internal/core/decoder"
	"firestige.xyz/pandit/internal/metrics"
	"firestige.xyz/pandit/pkg/plugin"
)

// PayloadTypeRaw marks output packets no parser claimed.
const PayloadTypeRaw = "raw"

// Pipeline is a single-goroutine decode → parse → process chain.
// Each pipeline owns its parser instances; flow state is shared through
// the parsers' injected cache and store.
type Pipeline struct {
	id         int
	taskID     string
	agentID    string
	decoder    decoder.Decoder
	parsers    []plugin.Parser
	processors []plugin.Processor
	emitRaw    bool
	metrics    *Metrics
	idLabel    string
}

// Config contains pipeline configuration.
type Config struct {
	ID         int
	TaskID     string
	AgentID    string
	Decoder    decoder.Decoder
	Parsers    []plugin.Parser
	Processors []plugin.Processor
	// EmitRaw forwards packets no parser claimed as PayloadTypeRaw.
	EmitRaw bool
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Decoder == nil {
		cfg.Decoder = decoder.NewStandardDecoder(decoder.Config{})
	}
	return &Pipeline{
		id:         cfg.ID,
		taskID:     cfg.TaskID,
		agentID:    cfg.AgentID,
		decoder:    cfg.Decoder,
		parsers:    cfg.Parsers,
		processors: cfg.Processors,
		emitRaw:    cfg.EmitRaw,
		metrics:    NewMetrics(cfg.TaskID, cfg.ID),
		idLabel:    strconv.Itoa(cfg.ID),
	}
}

// ID returns the pipeline index within its task.
func (p *Pipeline) ID() int {
	return p.id
}

// Run consumes in until it is closed or ctx is cancelled and writes every
// kept packet to out. Run blocks; the caller owns both channels.
func (p *Pipeline) Run(ctx context.Context, in <-chan core.RawPacket, out chan<- core.OutputPacket) {
	slog.Debug("pipeline running", "task_id", p.taskID, "pipeline_id", p.id)
	defer slog.Debug("pipeline exited", "task_id", p.taskID, "pipeline_id", p.id)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			output, keep := p.processPacket(raw)
			if !keep {
				continue
			}
			select {
			case out <- output:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processPacket runs one packet through the chain. It reports false when
// the packet produced no output.
func (p *Pipeline) processPacket(raw core.RawPacket) (core.OutputPacket, bool) {
	start := time.Now()
	p.metrics.Received.Add(1)

	decoded, err := p.decoder.Decode(raw)
	if err != nil {
		p.metrics.DecodeErrors.Add(1)
		p.count("decode_error")
		slog.Debug("decode failed", "task_id", p.taskID, "pipeline_id", p.id, "error", err)
		return core.OutputPacket{}, false
	}
	p.metrics.Decoded.Add(1)

	payloadType, payload, labels := p.parse(&decoded)
	if payloadType == PayloadTypeRaw && !p.emitRaw {
		return core.OutputPacket{}, false
	}

	output := core.OutputPacket{
		TaskID:      p.taskID,
		AgentID:     p.agentID,
		PipelineID:  p.id,
		Timestamp:   decoded.Timestamp,
		SrcIP:       decoded.IP.SrcIP,
		DstIP:       decoded.IP.DstIP,
		SrcPort:     decoded.Transport.SrcPort,
		DstPort:     decoded.Transport.DstPort,
		Protocol:    decoded.IP.Protocol,
		Labels:      labels,
		PayloadType: payloadType,
		Payload:     payload,
		// The capture buffer is reused once Run reads the next packet.
		RawPayload: append([]byte(nil), decoded.Payload...),
	}

	for _, processor := range p.processors {
		p.metrics.Processed.Add(1)
		if !processor.Process(&output) {
			p.metrics.Dropped.Add(1)
			p.count("dropped")
			return core.OutputPacket{}, false
		}
	}

	p.metrics.Emitted.Add(1)
	p.count("emitted")
	metrics.PipelineLatencySeconds.WithLabelValues(p.taskID, "process").Observe(time.Since(start).Seconds())
	return output, true
}

// parse hands the packet to the first parser that accepts it. Skip errors
// pass the packet through as raw; other errors count as parse failures.
func (p *Pipeline) parse(pkt *core.DecodedPacket) (string, any, core.Labels) {
	for _, parser := range p.parsers {
		if !parser.CanHandle(pkt) {
			continue
		}
		payload, labels, err := parser.Handle(pkt)
		switch {
		case err == nil:
			p.metrics.Parsed.Add(1)
			p.count("parsed")
			if labels == nil {
				labels = make(core.Labels)
			}
			return parser.Name(), payload, labels
		case IsSkip(err):
			p.metrics.Skipped.Add(1)
			p.count(skipStage(err))
		default:
			p.metrics.ParseErrors.Add(1)
			p.count("parse_error")
			slog.Debug("parser failed", "parser", parser.Name(), "error", err)
		}
		break
	}
	return PayloadTypeRaw, nil, make(core.Labels)
}

func (p *Pipeline) count(stage string) {
	metrics.PipelinePacketsTotal.WithLabelValues(p.taskID, p.idLabel, stage).Inc()
}

// IsSkip reports whether a parser error means "not mine, pass through"
// rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, core.ErrNotHTTPResponse) ||
		errors.Is(err, core.ErrDuplicateSegment) ||
		errors.Is(err, core.ErrTruncated) ||
		errors.Is(err, core.ErrPacketTooShort)
}

func skipStage(err error) string {
	switch {
	case errors.Is(err, core.ErrDuplicateSegment):
		return "retransmit"
	case errors.Is(err, core.ErrTruncated):
		return "truncated"
	default:
		return "not_http"
	}
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}

func (s Stats) String() string {
	return fmt.Sprintf("received=%d decoded=%d parsed=%d skipped=%d emitted=%d dropped=%d errors=%d/%d",
		s.Received, s.Decoded, s.Parsed, s.Skipped, s.Emitted, s.Dropped, s.DecodeErrors, s.ParseErrors)
}
