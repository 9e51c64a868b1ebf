// Package console implements console debug reporter.
// Outputs one line per record to stdout.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/pkg/models"
	"firestige.xyz/pandit/pkg/plugin"
)

// ConsoleReporter writes records to a console stream.
type ConsoleReporter struct {
	name          string
	format        string // "json" or "text"
	mu            sync.Mutex
	out           io.Writer
	reportedCount atomic.Uint64
}

// Config represents console reporter configuration.
type Config struct {
	Format string `mapstructure:"format"` // json | text, default text
	Stream string `mapstructure:"stream"` // stdout | stderr, default stdout
}

// NewConsoleReporter creates a new console reporter.
func NewConsoleReporter() plugin.Reporter {
	return &ConsoleReporter{
		name:   "console",
		format: "text",
		out:    os.Stdout,
	}
}

// Name returns the plugin name.
func (r *ConsoleReporter) Name() string {
	return r.name
}

// Init initializes the reporter with configuration.
func (r *ConsoleReporter) Init(config map[string]any) error {
	cfg := Config{Format: "text", Stream: "stdout"}
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return fmt.Errorf("console reporter config: %w", err)
	}

	switch cfg.Format {
	case "json", "text":
		r.format = cfg.Format
	default:
		return fmt.Errorf("invalid format %q, must be json or text: %w", cfg.Format, core.ErrConfigInvalid)
	}
	switch cfg.Stream {
	case "stdout":
		r.out = os.Stdout
	case "stderr":
		r.out = os.Stderr
	default:
		return fmt.Errorf("invalid stream %q, must be stdout or stderr: %w", cfg.Stream, core.ErrConfigInvalid)
	}
	return nil
}

// Start starts the reporter.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	slog.Info("console reporter started", "format", r.format)
	return nil
}

// Stop stops the reporter.
func (r *ConsoleReporter) Stop(ctx context.Context) error {
	slog.Info("console reporter stopped", "total_reported", r.reportedCount.Load())
	return nil
}

// Report writes one record.
func (r *ConsoleReporter) Report(ctx context.Context, pkt *core.OutputPacket) error {
	if pkt == nil {
		return fmt.Errorf("nil packet")
	}

	rec := models.FromOutput(pkt)
	var line []byte
	if r.format == "json" {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = append(data, '\n')
	} else {
		line = []byte(formatText(rec))
	}

	r.mu.Lock()
	_, err := r.out.Write(line)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

// formatText renders a record as one human-readable line with labels in
// sorted order.
func formatText(rec models.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s:%d → %s:%d type=%s",
		rec.Time().Format("15:04:05.000"),
		rec.SrcIP, rec.SrcPort,
		rec.DstIP, rec.DstPort,
		rec.PayloadType)

	keys := make([]string, 0, len(rec.Labels))
	for k := range rec.Labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%q", k, rec.Labels[k])
	}
	if rec.PayloadLen > 0 {
		fmt.Fprintf(&sb, " payload_len=%d", rec.PayloadLen)
	}
	sb.WriteByte('\n')
	return sb.String()
}

// Flush is a no-op; writes are unbuffered.
func (r *ConsoleReporter) Flush(ctx context.Context) error {
	return nil
}

