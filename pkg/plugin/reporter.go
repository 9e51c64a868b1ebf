package plugin

import (
	"context"

	"firestige.xyz/pandit/internal/core"
)

// Reporter sends output packets to external systems.
type Reporter interface {
	Plugin
	Report(ctx context.Context, pkt *core.OutputPacket) error
	Flush(ctx context.Context) error
}

// BatchReporter is an optional interface for reporters that write in
// batches. Reporters without it receive packets one by one via Report.
type BatchReporter interface {
	Reporter
	ReportBatch(ctx context.Context, pkts []*core.OutputPacket) error
}
