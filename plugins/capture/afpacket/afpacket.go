// Package afpacket implements AF_PACKET_V3 capture plugin.
package afpacket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/net/bpf"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/pkg/capture"
	"firestige.xyz/pandit/pkg/plugin"
)

const (
	pluginName = "afpacket"

	defaultSnapLen    = 65535
	defaultBlockSize  = 4 * 1024 * 1024 // 4MB
	defaultNumBlocks  = 128
	defaultFanoutID   = 42
	defaultFanoutType = "hash"
	pollTimeout       = 100 * time.Millisecond
)

// Config represents afpacket-specific configuration.
type Config struct {
	Interface  string `mapstructure:"interface"`
	BPFFilter  string `mapstructure:"bpf_filter"`
	SnapLen    int    `mapstructure:"snap_len"`
	BlockSize  int    `mapstructure:"block_size"`
	NumBlocks  int    `mapstructure:"num_blocks"`
	FanoutID   int    `mapstructure:"fanout_id"`
	FanoutType string `mapstructure:"fanout_type"` // hash, or empty for no fanout
}

// Capturer reads frames from an AF_PACKET_V3 ring.
type Capturer struct {
	name   string
	config Config
	filter []bpf.RawInstruction

	mu     sync.Mutex
	cancel context.CancelFunc

	packetsReceived  atomic.Uint64
	packetsDropped   atomic.Uint64
	packetsIfDropped atomic.Uint64
}

// NewAFPacketCapturer creates a new AF_PACKET capturer instance.
func NewAFPacketCapturer() plugin.Capturer {
	return &Capturer{name: pluginName}
}

// Name returns the plugin name.
func (c *Capturer) Name() string {
	return c.name
}

// Init decodes the configuration and compiles the BPF filter.
func (c *Capturer) Init(cfg map[string]any) error {
	c.config = Config{
		SnapLen:    defaultSnapLen,
		BlockSize:  defaultBlockSize,
		NumBlocks:  defaultNumBlocks,
		FanoutID:   defaultFanoutID,
		FanoutType: defaultFanoutType,
	}
	if err := mapstructure.WeakDecode(cfg, &c.config); err != nil {
		return fmt.Errorf("afpacket config: %w", err)
	}
	if c.config.Interface == "" {
		return fmt.Errorf("afpacket: interface is required: %w", core.ErrConfigInvalid)
	}
	if _, err := parseFanoutType(c.config.FanoutType); err != nil {
		return fmt.Errorf("afpacket: %w: %w", err, core.ErrConfigInvalid)
	}

	if c.config.BPFFilter != "" {
		insns, err := capture.CompileFilter(c.config.BPFFilter, c.config.SnapLen)
		if err != nil {
			return err
		}
		c.filter = insns
	}

	slog.Debug("afpacket initialized",
		"interface", c.config.Interface,
		"bpf_filter", c.config.BPFFilter,
		"snap_len", c.config.SnapLen,
		"fanout_id", c.config.FanoutID,
		"fanout_type", c.config.FanoutType)
	return nil
}

// Start is a no-op; the ring is opened by Capture.
func (c *Capturer) Start(ctx context.Context) error {
	return nil
}

// Stop ends a running Capture.
//
// The TPacket handle is owned by Capture and closed there once the read
// loop returns; closing it here would unmap the ring under a pending read.
func (c *Capturer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Capture reads frames until ctx is cancelled or Stop is called.
func (c *Capturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(c.config.Interface),
		afpacket.OptFrameSize(c.config.SnapLen),
		afpacket.OptBlockSize(c.config.BlockSize),
		afpacket.OptNumBlocks(c.config.NumBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return fmt.Errorf("failed to create TPacket handle: %w", err)
	}
	defer handle.Close()

	if c.config.FanoutType != "" {
		fanoutType, _ := parseFanoutType(c.config.FanoutType)
		if err := handle.SetFanout(fanoutType, uint16(c.config.FanoutID)); err != nil {
			return fmt.Errorf("failed to set fanout: %w", err)
		}
	}
	if len(c.filter) > 0 {
		if err := handle.SetBPF(c.filter); err != nil {
			return fmt.Errorf("failed to set BPF: %w", err)
		}
	}
	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}

	slog.Info("afpacket capture started",
		"interface", c.config.Interface,
		"bpf_filter", c.config.BPFFilter,
		"fanout_id", c.config.FanoutID)

	// Direct read loop; gopacket.PacketSource would add a goroutine that
	// outlives the handle.
	for {
		if ctx.Err() != nil {
			slog.Info("afpacket capture stopped", "interface", c.config.Interface)
			return nil
		}

		// ReadPacketData copies out of the ring: the frame is consumed by
		// another goroutine after the next read has recycled the block.
		data, ci, err := handle.ReadPacketData()
		if err != nil {
			// Poll timeouts and EINTR land here too.
			continue
		}
		c.packetsReceived.Add(1)
		if stats, _, statsErr := handle.SocketStats(); statsErr == nil {
			c.packetsIfDropped.Store(uint64(stats.Drops()))
		}

		raw := core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}
		select {
		case output <- raw:
		case <-ctx.Done():
			slog.Info("afpacket capture stopped", "interface", c.config.Interface)
			return nil
		default:
			c.packetsDropped.Add(1)
		}
	}
}

// Stats returns capture statistics.
func (c *Capturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{
		PacketsReceived:  c.packetsReceived.Load(),
		PacketsDropped:   c.packetsDropped.Load(),
		PacketsIfDropped: c.packetsIfDropped.Load(),
	}
}

// parseFanoutType maps the configured name to an afpacket fanout mode.
// gopacket v1.1.19 exports only FanoutHash.
func parseFanoutType(ft string) (afpacket.FanoutType, error) {
	switch ft {
	case "hash":
		return afpacket.FanoutHash, nil
	case "":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown fanout type %q (only hash is supported)", ft)
	}
}
