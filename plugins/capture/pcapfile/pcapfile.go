// Package pcapfile replays frames from a pcap or pcapng file.
package pcapfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/pkg/capture"
	"firestige.xyz/pandit/pkg/plugin"
)

const (
	pluginName     = "pcapfile"
	defaultSnapLen = 65535
)

// Config is the pcapfile configuration.
type Config struct {
	File      string `mapstructure:"file"`
	BPFFilter string `mapstructure:"bpf_filter"`
	SnapLen   int    `mapstructure:"snap_len"`
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Capturer reads every frame of a capture file once. Capture returns nil
// at end of file.
type Capturer struct {
	name   string
	config Config
	filter *capture.Filter

	mu     sync.Mutex
	cancel context.CancelFunc

	packetsReceived atomic.Uint64
	packetsFiltered atomic.Uint64
}

// NewPcapFileCapturer creates a new pcap file capturer.
func NewPcapFileCapturer() plugin.Capturer {
	return &Capturer{name: pluginName}
}

func (c *Capturer) Name() string { return c.name }

// Init decodes the configuration and compiles the filter.
func (c *Capturer) Init(cfg map[string]any) error {
	c.config = Config{SnapLen: defaultSnapLen}
	if err := mapstructure.WeakDecode(cfg, &c.config); err != nil {
		return fmt.Errorf("pcapfile config: %w", err)
	}
	if c.config.File == "" {
		return fmt.Errorf("pcapfile: file is required: %w", core.ErrConfigInvalid)
	}
	if c.config.BPFFilter != "" {
		f, err := capture.NewFilter(c.config.BPFFilter, c.config.SnapLen)
		if err != nil {
			return err
		}
		c.filter = f
	}
	return nil
}

// Start checks that the file is readable.
func (c *Capturer) Start(ctx context.Context) error {
	f, err := os.Open(c.config.File)
	if err != nil {
		return fmt.Errorf("pcapfile: %w", err)
	}
	return f.Close()
}

// Stop ends a running Capture.
func (c *Capturer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Capture sends every frame accepted by the filter. It blocks on a full
// output channel rather than dropping: a file can always wait.
func (c *Capturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	f, err := os.Open(c.config.File)
	if err != nil {
		return fmt.Errorf("pcapfile: %w", err)
	}
	defer f.Close()

	r, err := openReader(f)
	if err != nil {
		return fmt.Errorf("pcapfile %s: %w", c.config.File, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		return fmt.Errorf("pcapfile %s: link type %s: %w", c.config.File, lt, core.ErrUnsupportedProto)
	}

	slog.Info("pcap replay started", "file", c.config.File, "bpf_filter", c.config.BPFFilter)
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			slog.Info("pcap replay finished",
				"file", c.config.File,
				"packets", c.packetsReceived.Load(),
				"filtered", c.packetsFiltered.Load())
			return nil
		}
		if err != nil {
			return fmt.Errorf("pcapfile %s: %w", c.config.File, err)
		}
		c.packetsReceived.Add(1)

		if !c.filter.Match(data) {
			c.packetsFiltered.Add(1)
			continue
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
			return nil
		}
	}
}

// openReader accepts both classic pcap and pcapng.
func openReader(f *os.File) (packetReader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	// pcapng files start with a section header block.
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Stats returns replay statistics. PacketsDropped counts frames the
// filter rejected.
func (c *Capturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{
		PacketsReceived: c.packetsReceived.Load(),
		PacketsDropped:  c.packetsFiltered.Load(),
	}
}
