package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pandit/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pandit.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
pandit:
  node:
    hostname: edge-1
    ip: 10.1.2.3
    agent_id: agent-a
  kafka:
    brokers: ["localhost:9092"]
  capture:
    type: afpacket
    interface: eth1
  http:
    port: 8080
    label_headers: [content-type]
    body_fields: [data.id]
  flow:
    capacity: 1024
    ttl: 5s
  workers: 4
  dispatch: consistent-hash
  processors:
    - name: statusfilter
      config:
        classes: [4, 5]
  reporters:
    - name: kafka
      config:
        topic: http-responses
  log:
    level: debug
    format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-1", cfg.Node.Hostname)
	assert.Equal(t, "agent-a", cfg.Node.AgentID)
	assert.Equal(t, "eth1", cfg.Capture.Interface)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"content-type"}, cfg.HTTP.LabelHeaders)
	assert.Equal(t, 128, cfg.HTTP.MaxHeaderEntries, "default applied")
	assert.Equal(t, 1024, cfg.Flow.Capacity)
	assert.Equal(t, 5*time.Second, cfg.Flow.TTLDuration())
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "consistent-hash", cfg.Dispatch)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Processors, 1)
	assert.Equal(t, "statusfilter", cfg.Processors[0].Name)

	require.Len(t, cfg.Reporters, 1)
	assert.Equal(t, "http-responses", cfg.Reporters[0].Config["topic"])
	assert.Equal(t, []string{"localhost:9092"}, cfg.Reporters[0].Config["brokers"], "brokers inherited")

	assert.Equal(t, "tcp port 8080", cfg.Filter())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "afpacket", cfg.Capture.Type)
	assert.Equal(t, 8000, cfg.HTTP.Port)
	assert.Equal(t, 8192, cfg.Flow.Capacity)
	assert.Equal(t, 8192, cfg.Store.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Flow.TTLDuration())
	assert.Equal(t, 10*time.Second, cfg.Flow.CleanupDuration())
	assert.Equal(t, "flow-hash", cfg.Dispatch)
	assert.Equal(t, 1, cfg.Workers)
	assert.True(t, cfg.Decoder.TCPOnly)
	assert.Equal(t, 50*time.Millisecond, cfg.ReporterBatch.TimeoutDuration())
	assert.Equal(t, "/metrics", cfg.API.MetricsPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "tcp port 8000", cfg.Filter())

	require.Len(t, cfg.Reporters, 1)
	assert.Equal(t, "console", cfg.Reporters[0].Name)

	assert.NotEmpty(t, cfg.Node.Hostname)
	_, err = uuid.Parse(cfg.Node.AgentID)
	assert.NoError(t, err, "agent id is generated")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PANDIT_HTTP_PORT", "9000")
	t.Setenv("PANDIT_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "pandit:\n  log:\n    level: loud\n"},
		{"log format", "pandit:\n  log:\n    format: xml\n"},
		{"capture type", "pandit:\n  capture:\n    type: dpdk\n"},
		{"pcap without file", "pandit:\n  capture:\n    type: pcap\n"},
		{"port", "pandit:\n  http:\n    port: 70000\n"},
		{"dispatch", "pandit:\n  dispatch: random\n"},
		{"ttl", "pandit:\n  flow:\n    ttl: soon\n"},
		{"reporter name", "pandit:\n  reporters:\n    - config: {}\n"},
		{"file log without path", "pandit:\n  log:\n    outputs:\n      file:\n        enabled: true\n        path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestCaptureName(t *testing.T) {
	cfg := &Config{Capture: CaptureConfig{Type: "pcap"}}
	assert.Equal(t, "pcapfile", cfg.CaptureName())
	cfg.Capture.Type = "afpacket"
	assert.Equal(t, "afpacket", cfg.CaptureName())
}

func TestPluginConfigs(t *testing.T) {
	cfg := Default()
	cfg.Capture.Interface = "eth0"
	cfg.HTTP.BodyFields = []string{"ok"}

	capture := cfg.CapturePluginConfig()
	assert.Equal(t, "eth0", capture["interface"])
	assert.Equal(t, "tcp port 8000", capture["bpf_filter"])

	parser := cfg.ParserPluginConfig()
	assert.Equal(t, 8000, parser["port"])
	assert.Equal(t, []string{"ok"}, parser["body_fields"])
}
