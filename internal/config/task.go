package config

import (
	"fmt"
	"time"
)

// CaptureConfig selects and configures the packet source.
type CaptureConfig struct {
	Type       string `mapstructure:"type" yaml:"type"` // afpacket | pcap
	Interface  string `mapstructure:"interface" yaml:"interface,omitempty"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	BPFFilter  string `mapstructure:"bpf_filter" yaml:"bpf_filter,omitempty"` // empty = "tcp port <http.port>"
	SnapLen    int    `mapstructure:"snap_len" yaml:"snap_len"`
	BlockSize  int    `mapstructure:"block_size" yaml:"block_size"`
	NumBlocks  int    `mapstructure:"num_blocks" yaml:"num_blocks"`
	FanoutID   int    `mapstructure:"fanout_id" yaml:"fanout_id"`
	FanoutType string `mapstructure:"fanout_type" yaml:"fanout_type"`
}

// DecoderConfig configures the L2-L4 decoder.
type DecoderConfig struct {
	DropFragments bool `mapstructure:"drop_fragments" yaml:"drop_fragments"`
	TCPOnly       bool `mapstructure:"tcp_only" yaml:"tcp_only"`
}

// HTTPConfig configures the HTTP response parser.
type HTTPConfig struct {
	Port             int      `mapstructure:"port" yaml:"port"`
	MaxHeaderEntries int      `mapstructure:"max_header_entries" yaml:"max_header_entries"`
	LabelHeaders     []string `mapstructure:"label_headers" yaml:"label_headers,omitempty"`
	BodyFields       []string `mapstructure:"body_fields" yaml:"body_fields,omitempty"`
}

// FlowConfig configures the flow state cache.
type FlowConfig struct {
	Capacity        int    `mapstructure:"capacity" yaml:"capacity"`
	TTL             string `mapstructure:"ttl" yaml:"ttl"`
	CleanupInterval string `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// StoreConfig configures the header store.
type StoreConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// BatchConfig configures reporter batching.
type BatchConfig struct {
	Size    int    `mapstructure:"size" yaml:"size"`
	Timeout string `mapstructure:"timeout" yaml:"timeout"`
}

// PluginConfig names a processor or reporter plugin and its settings.
type PluginConfig struct {
	Name   string         `mapstructure:"name" yaml:"name"`
	Config map[string]any `mapstructure:"config" yaml:"config,omitempty"`
	// Fallback names another configured reporter that receives batches
	// this one fails to deliver. Reporters only.
	Fallback string `mapstructure:"fallback" yaml:"fallback,omitempty"`
}

// TTLDuration returns the parsed flow TTL.
func (f FlowConfig) TTLDuration() time.Duration {
	return durationOr(f.TTL, 30*time.Second)
}

// CleanupDuration returns the parsed janitor interval.
func (f FlowConfig) CleanupDuration() time.Duration {
	return durationOr(f.CleanupInterval, 10*time.Second)
}

// TimeoutDuration returns the parsed batch timeout.
func (b BatchConfig) TimeoutDuration() time.Duration {
	return durationOr(b.Timeout, 50*time.Millisecond)
}

// Filter returns the BPF filter, defaulting to the monitored HTTP port.
func (c *Config) Filter() string {
	if c.Capture.BPFFilter != "" {
		return c.Capture.BPFFilter
	}
	return fmt.Sprintf("tcp port %d", c.HTTP.Port)
}

// CapturePluginConfig renders the capture section as plugin settings.
func (c *Config) CapturePluginConfig() map[string]any {
	return map[string]any{
		"interface":   c.Capture.Interface,
		"file":        c.Capture.File,
		"bpf_filter":  c.Filter(),
		"snap_len":    c.Capture.SnapLen,
		"block_size":  c.Capture.BlockSize,
		"num_blocks":  c.Capture.NumBlocks,
		"fanout_id":   c.Capture.FanoutID,
		"fanout_type": c.Capture.FanoutType,
	}
}

// ParserPluginConfig renders the http section as parser settings.
func (c *Config) ParserPluginConfig() map[string]any {
	return map[string]any{
		"port":               c.HTTP.Port,
		"max_header_entries": c.HTTP.MaxHeaderEntries,
		"label_headers":      c.HTTP.LabelHeaders,
		"body_fields":        c.HTTP.BodyFields,
	}
}

// CaptureName maps capture.type to the registered capturer name.
func (c *Config) CaptureName() string {
	if c.Capture.Type == "pcap" {
		return "pcapfile"
	}
	return c.Capture.Type
}

func (c *Config) validatePipeline() error {
	switch c.Capture.Type {
	case "afpacket":
	case "pcap":
		if c.Capture.File == "" {
			return invalid("capture.file is required for capture.type=pcap")
		}
	default:
		return invalid("capture.type %q (must be afpacket/pcap)", c.Capture.Type)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return invalid("http.port %d out of range", c.HTTP.Port)
	}
	if c.HTTP.MaxHeaderEntries <= 0 || c.HTTP.MaxHeaderEntries > 128 {
		c.HTTP.MaxHeaderEntries = 128
	}

	if c.Flow.Capacity <= 0 {
		c.Flow.Capacity = 8192
	}
	if c.Store.Capacity <= 0 {
		c.Store.Capacity = 8192
	}
	if _, err := time.ParseDuration(c.Flow.TTL); err != nil {
		return invalid("flow.ttl %q: %v", c.Flow.TTL, err)
	}

	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = 4096
	}
	switch c.Dispatch {
	case "", "flow-hash":
		c.Dispatch = "flow-hash"
	case "round-robin", "consistent-hash":
	default:
		return invalid("dispatch %q (must be flow-hash/round-robin/consistent-hash)", c.Dispatch)
	}

	if len(c.Reporters) == 0 {
		c.Reporters = []PluginConfig{{Name: "console"}}
	}
	for i, p := range c.Processors {
		if p.Name == "" {
			return invalid("processors[%d]: name is required", i)
		}
	}
	for i, r := range c.Reporters {
		if r.Name == "" {
			return invalid("reporters[%d]: name is required", i)
		}
	}
	return nil
}
