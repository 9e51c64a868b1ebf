package plugin

import (
	"fmt"
	"slices"
	"sync"

	"firestige.xyz/pandit/internal/core"
)

// Factory creates a fresh plugin instance.
type Factory[T Plugin] func() T

type registry[T Plugin] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

func newRegistry[T Plugin](kind string) *registry[T] {
	return &registry[T]{kind: kind, factories: make(map[string]Factory[T])}
}

// register panics on programmer errors; it is called from init functions.
func (r *registry[T]) register(name string, f Factory[T]) {
	if name == "" {
		panic(fmt.Sprintf("plugin: %s registered with empty name", r.kind))
	}
	if f == nil {
		panic(fmt.Sprintf("plugin: %s %q registered with nil factory", r.kind, name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("plugin: %s %q registered twice", r.kind, name))
	}
	r.factories[name] = f
}

func (r *registry[T]) get(name string) (Factory[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", r.kind, name, core.ErrPluginNotFound)
	}
	return f, nil
}

func (r *registry[T]) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Reset removes every registration. Tests only.
func (r *registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]Factory[T])
}

var (
	capturerReg  = newRegistry[Capturer]("capturer")
	parserReg    = newRegistry[Parser]("parser")
	processorReg = newRegistry[Processor]("processor")
	reporterReg  = newRegistry[Reporter]("reporter")
)

func RegisterCapturer(name string, f Factory[Capturer])   { capturerReg.register(name, f) }
func RegisterParser(name string, f Factory[Parser])       { parserReg.register(name, f) }
func RegisterProcessor(name string, f Factory[Processor]) { processorReg.register(name, f) }
func RegisterReporter(name string, f Factory[Reporter])   { reporterReg.register(name, f) }

func GetCapturerFactory(name string) (Factory[Capturer], error)   { return capturerReg.get(name) }
func GetParserFactory(name string) (Factory[Parser], error)       { return parserReg.get(name) }
func GetProcessorFactory(name string) (Factory[Processor], error) { return processorReg.get(name) }
func GetReporterFactory(name string) (Factory[Reporter], error)   { return reporterReg.get(name) }

func ListCapturers() []string  { return capturerReg.list() }
func ListParsers() []string    { return parserReg.list() }
func ListProcessors() []string { return processorReg.list() }
func ListReporters() []string  { return reporterReg.list() }
