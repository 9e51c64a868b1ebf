package task

import (
	"fmt"
	"log/slog"
	"strconv"

	"firestige.xyz/pandit/internal/config"
	"firestige.xyz/pandit/internal/core/decoder"
	"firestige.xyz/pandit/internal/flow"
	"firestige.xyz/pandit/internal/pipeline"
	"firestige.xyz/pandit/pkg/plugin"
)

// ParserName is the registered name of the HTTP response parser every
// pipeline runs.
const ParserName = "http"

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	taskID    string
	capturer  plugin.Capturer
	reporters []plugin.Reporter
}

// WithTaskID overrides the task ID derived from the configuration.
func WithTaskID(id string) Option {
	return func(o *buildOptions) { o.taskID = id }
}

// WithCapturer uses c instead of the capturer named by capture.type.
func WithCapturer(c plugin.Capturer) Option {
	return func(o *buildOptions) { o.capturer = c }
}

// WithReporters uses rs instead of the configured reporters. Injected
// reporters are not initialized by Build.
func WithReporters(rs ...plugin.Reporter) Option {
	return func(o *buildOptions) { o.reporters = rs }
}

// Build assembles a task in the Created state. Call Start to run it.
func Build(cfg *config.Config, opts ...Option) (*Task, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	// ========== Phase 1: Validate ==========
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if o.taskID == "" {
		o.taskID = "http-" + strconv.Itoa(cfg.HTTP.Port)
	}
	numPipelines := cfg.Workers

	slog.Info("building task", "task_id", o.taskID, "workers", numPipelines)

	// ========== Phase 2: Resolve ==========
	// Look up every factory before creating any instance.
	var capFactory plugin.Factory[plugin.Capturer]
	if o.capturer == nil {
		f, err := plugin.GetCapturerFactory(cfg.CaptureName())
		if err != nil {
			return nil, fmt.Errorf("capturer %q: %w", cfg.CaptureName(), err)
		}
		capFactory = f
	}

	parserFactory, err := plugin.GetParserFactory(ParserName)
	if err != nil {
		return nil, fmt.Errorf("parser %q: %w", ParserName, err)
	}

	processorFactories := make([]plugin.Factory[plugin.Processor], len(cfg.Processors))
	for i, pc := range cfg.Processors {
		f, err := plugin.GetProcessorFactory(pc.Name)
		if err != nil {
			return nil, fmt.Errorf("processor %q: %w", pc.Name, err)
		}
		processorFactories[i] = f
	}

	var repFactories []plugin.Factory[plugin.Reporter]
	if o.reporters == nil {
		repFactories = make([]plugin.Factory[plugin.Reporter], len(cfg.Reporters))
		for i, rc := range cfg.Reporters {
			f, err := plugin.GetReporterFactory(rc.Name)
			if err != nil {
				return nil, fmt.Errorf("reporter %q: %w", rc.Name, err)
			}
			repFactories[i] = f
		}
	}

	// ========== Phase 3: Construct ==========
	t := newTask(o.taskID, cfg.Node.AgentID, numPipelines, cfg.ChannelCapacity)
	t.dispatcher = NewDispatchStrategy(cfg.Dispatch)

	t.capturer = o.capturer
	if t.capturer == nil {
		t.capturer = capFactory()
	}

	t.reporters = o.reporters
	if t.reporters == nil {
		t.reporters = make([]plugin.Reporter, len(repFactories))
		for i, f := range repFactories {
			t.reporters[i] = f()
		}
	}

	t.store = flow.NewStore(cfg.Store.Capacity)
	t.cache = flow.NewCache(flow.CacheConfig{
		Capacity:        cfg.Flow.Capacity,
		TTL:             cfg.Flow.TTLDuration(),
		CleanupInterval: cfg.Flow.CleanupDuration(),
		OnEvict:         func(k flow.Key) { t.store.DeleteFlow(k) },
	})

	// The decoder is stateless and shared.
	sharedDecoder := decoder.NewStandardDecoder(decoder.Config{
		DropFragments: cfg.Decoder.DropFragments,
		TCPOnly:       cfg.Decoder.TCPOnly,
	})

	t.parsers = make([][]plugin.Parser, numPipelines)
	t.processors = make([][]plugin.Processor, numPipelines)
	for i := 0; i < numPipelines; i++ {
		t.parsers[i] = []plugin.Parser{parserFactory()}
		t.processors[i] = make([]plugin.Processor, len(processorFactories))
		for j, f := range processorFactories {
			t.processors[i][j] = f()
		}
	}

	// ========== Phase 4: Init ==========
	if o.capturer == nil {
		if err := t.capturer.Init(cfg.CapturePluginConfig()); err != nil {
			return nil, fmt.Errorf("capturer %q init failed: %w", cfg.CaptureName(), err)
		}
	}
	if o.reporters == nil {
		for i, rep := range t.reporters {
			if err := rep.Init(cfg.Reporters[i].Config); err != nil {
				return nil, fmt.Errorf("reporter %q init failed: %w", cfg.Reporters[i].Name, err)
			}
		}
	}
	parserCfg := cfg.ParserPluginConfig()
	for i := 0; i < numPipelines; i++ {
		for _, p := range t.parsers[i] {
			if err := p.Init(parserCfg); err != nil {
				return nil, fmt.Errorf("pipeline %d parser %q init failed: %w", i, p.Name(), err)
			}
		}
		for j, proc := range t.processors[i] {
			if err := proc.Init(cfg.Processors[j].Config); err != nil {
				return nil, fmt.Errorf("pipeline %d processor %q init failed: %w", i, cfg.Processors[j].Name, err)
			}
		}
	}

	// ========== Phase 5: Wire ==========
	// Every parser of the task sees the same flows.
	for i := 0; i < numPipelines; i++ {
		for _, p := range t.parsers[i] {
			if fsa, ok := p.(plugin.FlowStateAware); ok {
				fsa.SetFlowState(t.cache, t.store)
			}
		}
	}

	// ========== Phase 6: Assemble ==========
	for i := 0; i < numPipelines; i++ {
		t.pipelines = append(t.pipelines, pipeline.New(pipeline.Config{
			ID:         i,
			TaskID:     t.id,
			AgentID:    cfg.Node.AgentID,
			Decoder:    sharedDecoder,
			Parsers:    t.parsers[i],
			Processors: t.processors[i],
			EmitRaw:    cfg.EmitRaw,
		}))
	}
	t.wrappers = buildWrappers(t, cfg, o.reporters != nil)

	slog.Info("task built",
		"task_id", t.id,
		"pipelines", numPipelines,
		"reporters", len(t.reporters),
		"dispatch", t.dispatcher.Name())
	return t, nil
}

// buildWrappers wraps each reporter and resolves its fallback by name.
func buildWrappers(t *Task, cfg *config.Config, injected bool) []*ReporterWrapper {
	batchTimeout := cfg.ReporterBatch.TimeoutDuration()

	byName := make(map[string]plugin.Reporter, len(t.reporters))
	for _, rep := range t.reporters {
		byName[rep.Name()] = rep
	}

	wrappers := make([]*ReporterWrapper, 0, len(t.reporters))
	for i, rep := range t.reporters {
		var fallback plugin.Reporter
		if !injected && cfg.Reporters[i].Fallback != "" {
			fb, ok := byName[cfg.Reporters[i].Fallback]
			if ok && fb != rep {
				fallback = fb
			} else {
				slog.Warn("fallback reporter not found, ignoring",
					"task_id", t.id, "reporter", rep.Name(), "fallback", cfg.Reporters[i].Fallback)
			}
		}
		wrappers = append(wrappers, NewReporterWrapper(WrapperConfig{
			Primary:      rep,
			Fallback:     fallback,
			TaskID:       t.id,
			BatchSize:    cfg.ReporterBatch.Size,
			BatchTimeout: batchTimeout,
		}))
	}
	return wrappers
}
