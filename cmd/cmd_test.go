package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pandit/internal/config"
)

func TestOverridesApply(t *testing.T) {
	tests := []struct {
		name     string
		o        overrides
		wantType string
		wantPort int
		wantErr  bool
	}{
		{name: "none", o: overrides{}, wantType: "afpacket", wantPort: 8000},
		{name: "interface", o: overrides{iface: "eth1", port: 8080}, wantType: "afpacket", wantPort: 8080},
		{name: "read", o: overrides{read: "a.pcap", workers: 3}, wantType: "pcap", wantPort: 8000},
		{name: "bad port", o: overrides{port: 70000}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			err := tt.o.apply(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, cfg.Capture.Type)
			assert.Equal(t, tt.wantPort, cfg.HTTP.Port)
			if tt.o.read != "" {
				assert.Equal(t, tt.o.read, cfg.Capture.File)
				assert.Equal(t, 3, cfg.Workers)
			}
			if tt.o.iface != "" {
				assert.Equal(t, tt.o.iface, cfg.Capture.Interface)
			}
		})
	}
}

func TestWriteEffectiveConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Node.AgentID = "agent-1"

	var buf bytes.Buffer
	require.NoError(t, writeEffectiveConfig(&buf, cfg))

	var out map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	root, ok := out["pandit"]
	require.True(t, ok, "pandit root key")
	assert.Equal(t, "agent-1", root["node"].(map[string]any)["agent_id"])
	assert.Equal(t, 8000, root["http"].(map[string]any)["port"])
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "pandit "+Version)
}
