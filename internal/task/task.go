package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/internal/flow"
	"firestige.xyz/pandit/internal/metrics"
	"firestige.xyz/pandit/internal/pipeline"
	"firestige.xyz/pandit/pkg/plugin"
)

// TaskState represents the state of a task in its lifecycle.
type TaskState string

const (
	StateCreated  TaskState = "created"
	StateStarting TaskState = "starting"
	StateRunning  TaskState = "running"
	StateStopping TaskState = "stopping"
	StateStopped  TaskState = "stopped"
	StateFailed   TaskState = "failed"
)

const (
	gaugeInterval = time.Second
	flushTimeout  = 5 * time.Second
)

// Task owns one capture source and everything behind it:
//
//	Capturer → captureCh → dispatch → rawStreams[i] → Pipeline[i] → sendBuffer → sender → ReporterWrappers
//
// Flow cache and header store are shared by the parsers of all pipelines.
type Task struct {
	id      string
	agentID string

	capturer   plugin.Capturer
	parsers    [][]plugin.Parser
	processors [][]plugin.Processor
	reporters  []plugin.Reporter
	wrappers   []*ReporterWrapper
	pipelines  []*pipeline.Pipeline
	dispatcher DispatchStrategy

	cache *flow.Cache
	store *flow.Store

	captureCh  chan core.RawPacket
	rawStreams []chan core.RawPacket
	sendBuffer chan core.OutputPacket
	pipelineWG sync.WaitGroup
	doneCh     chan struct{} // closed once the sender has drained

	dispatchDrops atomic.Uint64
	launched      bool

	mu            sync.RWMutex
	state         TaskState
	createdAt     time.Time
	startedAt     time.Time
	stoppedAt     time.Time
	failureReason string

	// ctx stops capture and pipelines; reportCtx outlives it so the final
	// flush can still reach the reporters.
	ctx          context.Context
	cancel       context.CancelFunc
	reportCtx    context.Context
	reportCancel context.CancelFunc
}

func newTask(id, agentID string, numPipelines, channelCap int) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	reportCtx, reportCancel := context.WithCancel(context.Background())

	rawStreams := make([]chan core.RawPacket, numPipelines)
	for i := range rawStreams {
		rawStreams[i] = make(chan core.RawPacket, channelCap)
	}

	return &Task{
		id:           id,
		agentID:      agentID,
		pipelines:    make([]*pipeline.Pipeline, 0, numPipelines),
		captureCh:    make(chan core.RawPacket, channelCap),
		rawStreams:   rawStreams,
		sendBuffer:   make(chan core.OutputPacket, channelCap),
		doneCh:       make(chan struct{}),
		state:        StateCreated,
		createdAt:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		reportCtx:    reportCtx,
		reportCancel: reportCancel,
	}
}

// ID returns the task ID.
func (t *Task) ID() string { return t.id }

// Cache returns the shared flow state cache.
func (t *Task) Cache() *flow.Cache { return t.cache }

// Store returns the shared header store.
func (t *Task) Store() *flow.Store { return t.store }

// Done is closed when the capture source is exhausted and every captured
// packet has reached the reporters, or after Stop.
func (t *Task) Done() <-chan struct{} { return t.doneCh }

// State returns the current task state.
func (t *Task) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// setState must be called with mu held.
func (t *Task) setState(s TaskState) {
	t.state = s
	switch s {
	case StateRunning:
		metrics.TaskStatus.WithLabelValues(t.id).Set(metrics.TaskStatusRunning)
	case StateFailed:
		metrics.TaskStatus.WithLabelValues(t.id).Set(metrics.TaskStatusError)
	case StateStopped:
		metrics.TaskStatus.WithLabelValues(t.id).Set(metrics.TaskStatusStopped)
	}
	slog.Info("task state changed", "task_id", t.id, "state", s)
}

func (t *Task) fail(reason string) {
	t.setState(StateFailed)
	t.failureReason = reason
}

// Start starts every plugin first, then the goroutines sink first, so data
// has a destination before the source produces: sender → pipelines →
// dispatch → capture.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateCreated {
		return fmt.Errorf("cannot start task in state %s: %w", t.state, core.ErrTaskStartFailed)
	}
	t.setState(StateStarting)
	t.startedAt = time.Now()

	if err := t.startPlugins(); err != nil {
		t.fail(err.Error())
		t.cancel()
		t.reportCancel()
		return fmt.Errorf("%w: %w", core.ErrTaskStartFailed, err)
	}

	for _, w := range t.wrappers {
		w.Start(t.reportCtx)
	}
	go t.senderLoop()

	for i, p := range t.pipelines {
		t.pipelineWG.Add(1)
		go func(p *pipeline.Pipeline, in <-chan core.RawPacket) {
			defer t.pipelineWG.Done()
			p.Run(t.ctx, in, t.sendBuffer)
		}(p, t.rawStreams[i])
	}
	go func() {
		t.pipelineWG.Wait()
		close(t.sendBuffer)
	}()

	go t.dispatchLoop()
	go t.captureLoop()
	go t.gaugeLoop()
	t.launched = true

	t.setState(StateRunning)
	slog.Info("task started",
		"task_id", t.id,
		"pipelines", len(t.pipelines),
		"dispatch", t.dispatcher.Name(),
		"capturer", t.capturer.Name())
	return nil
}

func (t *Task) startPlugins() error {
	for _, rep := range t.reporters {
		if err := rep.Start(t.reportCtx); err != nil {
			return fmt.Errorf("reporter %s start: %w", rep.Name(), err)
		}
	}
	for i := range t.pipelines {
		for _, pl := range t.parsers[i] {
			if err := pl.Start(t.ctx); err != nil {
				return fmt.Errorf("pipeline %d parser %s start: %w", i, pl.Name(), err)
			}
		}
		for _, pr := range t.processors[i] {
			if err := pr.Start(t.ctx); err != nil {
				return fmt.Errorf("pipeline %d processor %s start: %w", i, pr.Name(), err)
			}
		}
	}
	if err := t.capturer.Start(t.ctx); err != nil {
		return fmt.Errorf("capturer %s start: %w", t.capturer.Name(), err)
	}
	return nil
}

// Stop stops the task: capture ends, in-flight packets drain through the
// pipelines, and reporters are flushed before they stop.
func (t *Task) Stop() error {
	t.mu.Lock()
	if t.state != StateRunning && t.state != StateFailed {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("cannot stop task in state %s", state)
	}
	if !t.launched {
		// Start failed before any goroutine ran.
		t.mu.Unlock()
		return nil
	}
	t.setState(StateStopping)
	t.mu.Unlock()

	slog.Info("stopping task", "task_id", t.id)

	if err := t.capturer.Stop(t.ctx); err != nil {
		slog.Warn("capturer stop error", "task_id", t.id, "error", err)
	}
	t.cancel()
	<-t.doneCh

	for _, w := range t.wrappers {
		w.Close()
	}

	flushCtx, cancel := context.WithTimeout(t.reportCtx, flushTimeout)
	defer cancel()
	for _, rep := range t.reporters {
		if err := rep.Flush(flushCtx); err != nil {
			slog.Warn("reporter flush error", "task_id", t.id, "reporter", rep.Name(), "error", err)
		}
		if err := rep.Stop(flushCtx); err != nil {
			slog.Warn("reporter stop error", "task_id", t.id, "reporter", rep.Name(), "error", err)
		}
	}
	t.reportCancel()

	stopCtx := context.Background()
	for i := range t.pipelines {
		for _, pl := range t.parsers[i] {
			if err := pl.Stop(stopCtx); err != nil {
				slog.Warn("parser stop error", "task_id", t.id, "parser", pl.Name(), "error", err)
			}
		}
		for _, pr := range t.processors[i] {
			if err := pr.Stop(stopCtx); err != nil {
				slog.Warn("processor stop error", "task_id", t.id, "processor", pr.Name(), "error", err)
			}
		}
	}

	t.mu.Lock()
	t.setState(StateStopped)
	t.stoppedAt = time.Now()
	t.mu.Unlock()

	slog.Info("task stopped", "task_id", t.id, "stats", t.Stats().Pipelines.String())
	return nil
}

// captureLoop closes captureCh when the capturer returns, which drains the
// rest of the chain.
func (t *Task) captureLoop() {
	defer close(t.captureCh)

	err := t.capturer.Capture(t.ctx, t.captureCh)
	if err == nil || t.ctx.Err() != nil {
		slog.Debug("capture finished", "task_id", t.id)
		return
	}

	slog.Error("capturer error", "task_id", t.id, "error", err)
	t.mu.Lock()
	if t.state == StateRunning || t.state == StateStarting {
		t.fail(fmt.Sprintf("capturer error: %v", err))
	}
	t.mu.Unlock()
}

// dispatchLoop never blocks the capturer: a full pipeline channel drops
// the packet.
func (t *Task) dispatchLoop() {
	defer func() {
		for _, ch := range t.rawStreams {
			close(ch)
		}
	}()

	n := len(t.rawStreams)
	drops := metrics.CaptureDropsTotal.WithLabelValues(t.id, "dispatch")
	captured := metrics.CapturePacketsTotal.WithLabelValues(t.id, t.capturer.Name())
	for pkt := range t.captureCh {
		captured.Inc()
		idx := t.dispatcher.Dispatch(pkt, n)
		select {
		case t.rawStreams[idx] <- pkt:
		default:
			t.dispatchDrops.Add(1)
			drops.Inc()
		}
	}
}

func (t *Task) senderLoop() {
	defer close(t.doneCh)

	for pkt := range t.sendBuffer {
		for _, w := range t.wrappers {
			out := pkt
			w.Send(&out)
		}
	}
	slog.Debug("sender loop exited", "task_id", t.id)
}

func (t *Task) gaugeLoop() {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	cacheSize := metrics.FlowCacheSize.WithLabelValues(t.id)
	storeSize := metrics.HeaderStoreSize.WithLabelValues(t.id)
	for {
		cacheSize.Set(float64(t.cache.Len()))
		storeSize.Set(float64(t.store.Len()))
		select {
		case <-t.ctx.Done():
			return
		case <-t.doneCh:
			return
		case <-ticker.C:
		}
	}
}

// Status returns a snapshot of task status.
type Status struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	State         TaskState `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	StoppedAt     time.Time `json:"stopped_at,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Uptime        string    `json:"uptime,omitempty"`
	PipelineCount int       `json:"pipeline_count"`
	Dispatch      string    `json:"dispatch"`
}

// GetStatus returns current task status.
func (t *Task) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := Status{
		ID:            t.id,
		AgentID:       t.agentID,
		State:         t.state,
		CreatedAt:     t.createdAt,
		StartedAt:     t.startedAt,
		StoppedAt:     t.stoppedAt,
		FailureReason: t.failureReason,
		PipelineCount: len(t.pipelines),
		Dispatch:      t.dispatcher.Name(),
	}
	if t.state == StateRunning && !t.startedAt.IsZero() {
		status.Uptime = time.Since(t.startedAt).String()
	}
	return status
}

// Stats aggregates counters across the task.
type Stats struct {
	Pipelines     pipeline.Stats      `json:"pipelines"`
	Capture       plugin.CaptureStats `json:"capture"`
	DispatchDrops uint64              `json:"dispatch_drops"`
	FlowCacheSize int                 `json:"flow_cache_size"`
	HeaderEntries int                 `json:"header_entries"`
	Reporters     []WrapperStats      `json:"reporters"`
}

// Stats returns aggregated counters.
func (t *Task) Stats() Stats {
	var s Stats
	for _, p := range t.pipelines {
		s.Pipelines = s.Pipelines.Add(p.Stats())
	}
	s.Capture = t.capturer.Stats()
	s.DispatchDrops = t.dispatchDrops.Load()
	s.FlowCacheSize = t.cache.Len()
	s.HeaderEntries = t.store.Len()
	for _, w := range t.wrappers {
		s.Reporters = append(s.Reporters, w.Stats())
	}
	return s
}
