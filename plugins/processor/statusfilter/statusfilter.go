// Package statusfilter implements a processor that keeps HTTP response
// packets by status code.
package statusfilter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/pkg/plugin"
)

// Config selects the statuses to keep. A packet is kept when its code is
// listed in Codes or its class (code/100) in Classes. Empty lists keep
// everything.
type Config struct {
	Classes           []int `mapstructure:"classes"`            // e.g. [4, 5] for 4xx and 5xx
	Codes             []int `mapstructure:"codes"`              // exact codes
	DropContinuations bool  `mapstructure:"drop_continuations"` // drop packets after the status line
}

// Processor drops HTTP packets whose status is not selected.
// Non-HTTP packets pass through.
type Processor struct {
	classes           [10]bool
	codes             map[int]struct{}
	anyClass          bool
	dropContinuations bool

	kept    atomic.Uint64
	dropped atomic.Uint64
}

// NewStatusFilter creates a status filter processor.
func NewStatusFilter() plugin.Processor {
	return &Processor{}
}

func (p *Processor) Name() string { return "statusfilter" }

func (p *Processor) Init(config map[string]any) error {
	var cfg Config
	if err := mapstructure.WeakDecode(config, &cfg); err != nil {
		return fmt.Errorf("statusfilter config: %w", err)
	}

	for _, c := range cfg.Classes {
		if c < 1 || c > 9 {
			return fmt.Errorf("statusfilter: class %d out of range 1-9: %w", c, core.ErrConfigInvalid)
		}
		p.classes[c] = true
		p.anyClass = true
	}
	if len(cfg.Codes) > 0 {
		p.codes = make(map[int]struct{}, len(cfg.Codes))
		for _, c := range cfg.Codes {
			if c < 0 || c > 999 {
				return fmt.Errorf("statusfilter: code %d out of range 0-999: %w", c, core.ErrConfigInvalid)
			}
			p.codes[c] = struct{}{}
		}
	}
	p.dropContinuations = cfg.DropContinuations
	return nil
}

func (p *Processor) Start(ctx context.Context) error { return nil }

func (p *Processor) Stop(ctx context.Context) error {
	slog.Debug("statusfilter stopped", "kept", p.kept.Load(), "dropped", p.dropped.Load())
	return nil
}

// Process reports whether pkt should be forwarded.
func (p *Processor) Process(pkt *core.OutputPacket) bool {
	keep := p.match(pkt)
	if keep {
		p.kept.Add(1)
	} else {
		p.dropped.Add(1)
	}
	return keep
}

func (p *Processor) match(pkt *core.OutputPacket) bool {
	if pkt.PayloadType != "http" {
		return true
	}
	raw, ok := pkt.Labels[core.LabelHTTPStatusCode]
	if !ok {
		// continuation packets carry no status line
		return !p.dropContinuations
	}
	if !p.anyClass && p.codes == nil {
		return true
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	if _, ok := p.codes[code]; ok {
		return true
	}
	return code >= 0 && code < 1000 && p.classes[code/100]
}
