// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"firestige.xyz/pandit/internal/core"
)

// Config is the complete static configuration, found under the
// `pandit:` root key in YAML.
type Config struct {
	Node            NodeConfig      `mapstructure:"node" yaml:"node"`
	Kafka           KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Capture         CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Decoder         DecoderConfig   `mapstructure:"decoder" yaml:"decoder"`
	HTTP            HTTPConfig      `mapstructure:"http" yaml:"http"`
	Flow            FlowConfig      `mapstructure:"flow" yaml:"flow"`
	Store           StoreConfig     `mapstructure:"store" yaml:"store"`
	Workers         int             `mapstructure:"workers" yaml:"workers"`
	Dispatch        string          `mapstructure:"dispatch" yaml:"dispatch"` // flow-hash | round-robin | consistent-hash
	ChannelCapacity int             `mapstructure:"channel_capacity" yaml:"channel_capacity"`
	EmitRaw         bool            `mapstructure:"emit_raw" yaml:"emit_raw"`
	Processors      []PluginConfig  `mapstructure:"processors" yaml:"processors"`
	Reporters       []PluginConfig  `mapstructure:"reporters" yaml:"reporters"`
	ReporterBatch   BatchConfig     `mapstructure:"reporter_batch" yaml:"reporter_batch"`
	API             APIConfig       `mapstructure:"api" yaml:"api"`
	Log             LogConfig       `mapstructure:"log" yaml:"log"`
}

// NodeConfig identifies this agent in reported records.
type NodeConfig struct {
	IP       string            `mapstructure:"ip" yaml:"ip"`             // empty = first non-loopback IPv4
	Hostname string            `mapstructure:"hostname" yaml:"hostname"` // empty = os.Hostname()
	AgentID  string            `mapstructure:"agent_id" yaml:"agent_id"` // empty = random UUID
	Tags     map[string]string `mapstructure:"tags" yaml:"tags,omitempty"`
}

// KafkaConfig holds broker defaults inherited by the kafka reporter.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers,omitempty"`
}

// APIConfig configures the HTTP poll API and metrics endpoint.
type APIConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen      string `mapstructure:"listen" yaml:"listen"`
	MetricsPath string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

const rootKey = "pandit"

type configRoot struct {
	Pandit Config `mapstructure:"pandit"`
}

// Load reads the configuration file at path. An empty path loads defaults
// and environment overrides only. Environment variables follow the key
// path, e.g. PANDIT_HTTP_PORT overrides pandit.http.port.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Pandit

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration Load produces without a file.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always validate.
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := func(key string, value any) { v.SetDefault(rootKey+"."+key, value) }

	d("node.ip", "")
	d("node.hostname", "")
	d("node.agent_id", "")

	d("capture.type", "afpacket")
	d("capture.interface", "")
	d("capture.file", "")
	d("capture.bpf_filter", "")
	d("capture.snap_len", 65535)
	d("capture.block_size", 4*1024*1024)
	d("capture.num_blocks", 128)
	d("capture.fanout_id", 42)
	d("capture.fanout_type", "hash")

	d("decoder.drop_fragments", false)
	d("decoder.tcp_only", true)

	d("http.port", 8000)
	d("http.max_header_entries", 128)

	d("flow.capacity", 8192)
	d("flow.ttl", "30s")
	d("flow.cleanup_interval", "10s")
	d("store.capacity", 8192)

	d("workers", 1)
	d("dispatch", "flow-hash")
	d("channel_capacity", 4096)
	d("emit_raw", false)

	d("reporter_batch.size", 100)
	d("reporter_batch.timeout", "50ms")

	d("api.enabled", true)
	d("api.listen", ":9091")
	d("api.metrics_path", "/metrics")

	d("log.level", "info")
	d("log.format", "json")
	d("log.outputs.file.enabled", false)
	d("log.outputs.file.path", "/var/log/pandit/pandit.log")
	d("log.outputs.file.rotation.max_size_mb", 100)
	d("log.outputs.file.rotation.max_age_days", 30)
	d("log.outputs.file.rotation.max_backups", 5)
	d("log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates the configuration and fills in values
// resolved at runtime (hostname, node IP, agent ID, kafka brokers).
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("log level %q (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("log format %q (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}

	if err := cfg.validatePipeline(); err != nil {
		return err
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return invalid("api.listen is required when the api is enabled")
	}
	if cfg.API.MetricsPath == "" {
		cfg.API.MetricsPath = "/metrics"
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}
	if cfg.Node.IP == "" {
		cfg.Node.IP = detectNodeIP()
	}
	if cfg.Node.AgentID == "" {
		cfg.Node.AgentID = uuid.NewString()
	}

	applyKafkaInheritance(cfg)
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrConfigInvalid)
}

// detectNodeIP returns the first non-loopback, non-link-local IPv4 address
// or "" when there is none.
func detectNodeIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLinkLocalUnicast() {
				continue
			}
			return ip4.String()
		}
	}
	return ""
}

// applyKafkaInheritance copies the global brokers into kafka reporters
// that do not name their own.
func applyKafkaInheritance(cfg *Config) {
	if len(cfg.Kafka.Brokers) == 0 {
		return
	}
	for i := range cfg.Reporters {
		r := &cfg.Reporters[i]
		if r.Name != "kafka" {
			continue
		}
		if r.Config == nil {
			r.Config = make(map[string]any)
		}
		if _, ok := r.Config["brokers"]; !ok {
			r.Config["brokers"] = cfg.Kafka.Brokers
		}
	}
}

// durationOr parses s, returning fallback when s is empty or invalid.
func durationOr(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}
