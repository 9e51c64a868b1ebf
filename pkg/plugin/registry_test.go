package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pandit/internal/core"
)

func resetAll() {
	capturerReg.Reset()
	parserReg.Reset()
	processorReg.Reset()
	reporterReg.Reset()
}

func TestRegisterAndGet(t *testing.T) {
	resetAll()
	t.Cleanup(resetAll)

	RegisterCapturer("cap", func() Capturer { return &mockCapturer{mockPlugin{name: "cap"}} })
	RegisterParser("http", func() Parser { return &mockParser{mockPlugin: mockPlugin{name: "http"}} })
	RegisterProcessor("proc", func() Processor { return &mockProcessor{mockPlugin{name: "proc"}} })
	RegisterReporter("rep", func() Reporter { return &mockReporter{mockPlugin{name: "rep"}} })

	capF, err := GetCapturerFactory("cap")
	require.NoError(t, err)
	assert.Equal(t, "cap", capF().Name())

	parserF, err := GetParserFactory("http")
	require.NoError(t, err)
	parser := parserF()
	assert.Equal(t, "http", parser.Name())
	_, aware := parser.(FlowStateAware)
	assert.True(t, aware)

	procF, err := GetProcessorFactory("proc")
	require.NoError(t, err)
	assert.Equal(t, "proc", procF().Name())

	repF, err := GetReporterFactory("rep")
	require.NoError(t, err)
	assert.Equal(t, "rep", repF().Name())
}

func TestFactoryReturnsFreshInstances(t *testing.T) {
	resetAll()
	t.Cleanup(resetAll)

	RegisterParser("p", func() Parser { return &mockParser{mockPlugin: mockPlugin{name: "p"}} })
	f, err := GetParserFactory("p")
	require.NoError(t, err)

	if f() == f() {
		t.Error("factory returned the same instance twice")
	}
}

func TestGetNotFound(t *testing.T) {
	resetAll()

	lookups := map[string]func() error{
		"capturer":  func() error { _, err := GetCapturerFactory("nope"); return err },
		"parser":    func() error { _, err := GetParserFactory("nope"); return err },
		"processor": func() error { _, err := GetProcessorFactory("nope"); return err },
		"reporter":  func() error { _, err := GetReporterFactory("nope"); return err },
	}
	for kind, lookup := range lookups {
		t.Run(kind, func(t *testing.T) {
			err := lookup()
			assert.ErrorIs(t, err, core.ErrPluginNotFound)
			assert.Contains(t, err.Error(), kind)
		})
	}
}

func TestRegisterPanics(t *testing.T) {
	resetAll()
	t.Cleanup(resetAll)

	RegisterCapturer("dup", func() Capturer { return &mockCapturer{} })

	tests := []struct {
		name string
		fn   func()
	}{
		{"duplicate", func() { RegisterCapturer("dup", func() Capturer { return &mockCapturer{} }) }},
		{"empty name", func() { RegisterCapturer("", func() Capturer { return &mockCapturer{} }) }},
		{"nil factory", func() { RegisterCapturer("nil", nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, tt.fn)
		})
	}
}

func TestListIsSorted(t *testing.T) {
	resetAll()
	t.Cleanup(resetAll)

	for _, name := range []string{"cap_c", "cap_a", "cap_b"} {
		RegisterCapturer(name, func() Capturer { return &mockCapturer{mockPlugin{name: name}} })
	}
	RegisterParser("parser_z", func() Parser { return &mockParser{} })
	RegisterParser("parser_x", func() Parser { return &mockParser{} })

	assert.Equal(t, []string{"cap_a", "cap_b", "cap_c"}, ListCapturers())
	assert.Equal(t, []string{"parser_x", "parser_z"}, ListParsers())
	assert.Empty(t, ListProcessors())
	assert.Empty(t, ListReporters())
}

func TestSameNameAcrossKinds(t *testing.T) {
	resetAll()
	t.Cleanup(resetAll)

	const name = "common"
	RegisterCapturer(name, func() Capturer { return &mockCapturer{mockPlugin{name: "cap"}} })
	RegisterReporter(name, func() Reporter { return &mockReporter{mockPlugin{name: "rep"}} })

	capF, err := GetCapturerFactory(name)
	require.NoError(t, err)
	repF, err := GetReporterFactory(name)
	require.NoError(t, err)

	assert.Equal(t, "cap", capF().Name())
	assert.Equal(t, "rep", repF().Name())
}
