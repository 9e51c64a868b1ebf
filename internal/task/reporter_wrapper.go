package task

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/internal/metrics"
	"firestige.xyz/pandit/pkg/plugin"
)

const (
	defaultWrapperBatchSize    = 100
	defaultWrapperBatchTimeout = 50 * time.Millisecond
	defaultWrapperChanCap      = 10000
)

// ReporterWrapper batches output packets for one reporter:
//
//	senderLoop → Send() → batchLoop → ReportBatch()/Report()
//	                                └→ fallback.Report() on primary failure
type ReporterWrapper struct {
	primary  plugin.Reporter
	fallback plugin.Reporter

	taskID       string
	batchSize    int
	batchTimeout time.Duration

	batchCh chan *core.OutputPacket
	doneCh  chan struct{}

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// WrapperConfig contains configuration for creating a ReporterWrapper.
type WrapperConfig struct {
	Primary      plugin.Reporter
	Fallback     plugin.Reporter // nil if no fallback
	TaskID       string
	BatchSize    int
	BatchTimeout time.Duration
}

// WrapperStats counts packets by delivery outcome.
type WrapperStats struct {
	Reporter  string `json:"reporter"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// NewReporterWrapper creates a new wrapper around a Reporter.
func NewReporterWrapper(cfg WrapperConfig) *ReporterWrapper {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultWrapperBatchSize
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultWrapperBatchTimeout
	}

	return &ReporterWrapper{
		primary:      cfg.Primary,
		fallback:     cfg.Fallback,
		taskID:       cfg.TaskID,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		batchCh:      make(chan *core.OutputPacket, defaultWrapperChanCap),
		doneCh:       make(chan struct{}),
	}
}

// Start starts the batch loop. The wrapped reporters are started by the task.
func (w *ReporterWrapper) Start(ctx context.Context) {
	go w.batchLoop(ctx)
}

// Send enqueues a packet; it blocks while the batch queue is full.
func (w *ReporterWrapper) Send(pkt *core.OutputPacket) {
	w.batchCh <- pkt
}

// Close drains the queue and waits for the final flush.
func (w *ReporterWrapper) Close() {
	close(w.batchCh)
	<-w.doneCh
}

// Stats returns delivery counters.
func (w *ReporterWrapper) Stats() WrapperStats {
	return WrapperStats{
		Reporter:  w.primary.Name(),
		Delivered: w.delivered.Load(),
		Failed:    w.failed.Load(),
	}
}

func (w *ReporterWrapper) batchLoop(ctx context.Context) {
	defer close(w.doneCh)

	batch := make([]*core.OutputPacket, 0, w.batchSize)
	ticker := time.NewTicker(w.batchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		failures, err := w.sendBatch(ctx, batch)
		if err != nil {
			slog.Warn("reporter batch failed",
				"task_id", w.taskID,
				"reporter", w.primary.Name(),
				"batch_size", len(batch),
				"error", err)
			w.sendFallback(ctx, batch)
		} else {
			w.failed.Add(uint64(failures))
			w.delivered.Add(uint64(len(batch) - failures))
		}
		batch = batch[:0]
	}

	for {
		select {
		case pkt, ok := <-w.batchCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, pkt)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *ReporterWrapper) sendFallback(ctx context.Context, batch []*core.OutputPacket) {
	if w.fallback == nil {
		w.failed.Add(uint64(len(batch)))
		return
	}
	for _, pkt := range batch {
		if err := w.fallback.Report(ctx, pkt); err != nil {
			w.failed.Add(1)
			metrics.ReporterErrorsTotal.WithLabelValues(w.taskID, w.fallback.Name(), "fallback").Inc()
			slog.Debug("fallback reporter failed", "reporter", w.fallback.Name(), "error", err)
			continue
		}
		w.delivered.Add(1)
	}
}

// sendBatch prefers BatchReporter and otherwise calls Report per packet.
// It returns an error only when nothing in the batch was delivered; partial
// per-packet failures are returned as a count.
func (w *ReporterWrapper) sendBatch(ctx context.Context, batch []*core.OutputPacket) (int, error) {
	name := w.primary.Name()
	metrics.ReporterBatchSize.WithLabelValues(w.taskID, name).Observe(float64(len(batch)))

	if br, ok := w.primary.(plugin.BatchReporter); ok {
		if err := br.ReportBatch(ctx, batch); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(w.taskID, name, "batch").Inc()
			return 0, err
		}
		return 0, nil
	}

	var lastErr error
	failures := 0
	for _, pkt := range batch {
		if err := w.primary.Report(ctx, pkt); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(w.taskID, name, "report").Inc()
			lastErr = err
			failures++
		}
	}
	if failures == len(batch) {
		return 0, lastErr
	}
	return failures, nil
}
