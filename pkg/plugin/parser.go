package plugin

import (
	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/internal/flow"
)

// Parser parses application-layer protocols.
type Parser interface {
	Plugin
	CanHandle(pkt *core.DecodedPacket) bool
	Handle(pkt *core.DecodedPacket) (payload any, labels core.Labels, err error)
}

// FlowStateAware is implemented by parsers that keep per-response state.
// The task injects its shared flow cache and header store before Start, so
// all pipelines of a task see the same flows.
type FlowStateAware interface {
	SetFlowState(cache *flow.Cache, store *flow.Store)
}
