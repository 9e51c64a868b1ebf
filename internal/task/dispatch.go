// Package task assembles and runs one capture task: a capturer, N packet
// pipelines sharing flow state, and the reporters behind them.
package task

import (
	"hash/fnv"
	"strconv"
	"sync/atomic"

	"github.com/serialx/hashring"

	"firestige.xyz/pandit/internal/core"
	"firestige.xyz/pandit/internal/core/decoder"
)

// Dispatch strategy names accepted by NewDispatchStrategy.
const (
	DispatchFlowHash       = "flow-hash"
	DispatchRoundRobin     = "round-robin"
	DispatchConsistentHash = "consistent-hash"
)

// DispatchStrategy determines how packets are distributed across pipelines.
type DispatchStrategy interface {
	// Dispatch returns the pipeline index (0-based) for the given packet.
	// numPipelines is guaranteed to be > 0.
	Dispatch(pkt core.RawPacket, numPipelines int) int

	// Name returns the strategy name for logging/metrics.
	Name() string
}

// affinityHash hashes the response key (destination address, ack) of a
// frame. ok is false for frames that carry no such key.
func affinityHash(frame []byte) (h uint32, ok bool) {
	var buf [20]byte
	key := decoder.AffinityKey(buf[:0], frame)
	if len(key) == 0 {
		return 0, false
	}
	f := fnv.New32a()
	f.Write(key)
	return f.Sum32(), true
}

// FlowHashStrategy keeps every segment of one HTTP response on the same
// pipeline. Frames without a response key go to pipeline 0.
type FlowHashStrategy struct{}

func (s *FlowHashStrategy) Dispatch(pkt core.RawPacket, numPipelines int) int {
	h, ok := affinityHash(pkt.Data)
	if !ok {
		return 0
	}
	return int(h % uint32(numPipelines))
}

func (s *FlowHashStrategy) Name() string { return DispatchFlowHash }

// RoundRobinStrategy distributes packets in round-robin order.
// Provides even load distribution but no flow affinity.
type RoundRobinStrategy struct {
	counter atomic.Uint64
}

func (s *RoundRobinStrategy) Dispatch(_ core.RawPacket, numPipelines int) int {
	return int(s.counter.Add(1) % uint64(numPipelines))
}

func (s *RoundRobinStrategy) Name() string { return DispatchRoundRobin }

// ConsistentHashStrategy places pipelines on a hash ring keyed by the
// response key. Changing the worker count moves only the flows owned by
// the added or removed pipelines.
type ConsistentHashStrategy struct {
	ring atomic.Pointer[ringState]
}

type ringState struct {
	size  int
	ring  *hashring.HashRing
	index map[string]int
}

func newRing(n int) *ringState {
	nodes := make([]string, n)
	index := make(map[string]int, n)
	for i := range nodes {
		nodes[i] = "pipeline-" + strconv.Itoa(i)
		index[nodes[i]] = i
	}
	return &ringState{size: n, ring: hashring.New(nodes), index: index}
}

func (s *ConsistentHashStrategy) Dispatch(pkt core.RawPacket, numPipelines int) int {
	rs := s.ring.Load()
	if rs == nil || rs.size != numPipelines {
		rs = newRing(numPipelines)
		s.ring.Store(rs)
	}

	var buf [20]byte
	key := decoder.AffinityKey(buf[:0], pkt.Data)
	if len(key) == 0 {
		return 0
	}
	node, ok := rs.ring.GetNode(string(key))
	if !ok {
		return 0
	}
	return rs.index[node]
}

func (s *ConsistentHashStrategy) Name() string { return DispatchConsistentHash }

// NewDispatchStrategy creates a dispatch strategy by name.
// Unknown names fall back to flow-hash.
func NewDispatchStrategy(name string) DispatchStrategy {
	switch name {
	case DispatchRoundRobin:
		return &RoundRobinStrategy{}
	case DispatchConsistentHash:
		return &ConsistentHashStrategy{}
	default:
		return &FlowHashStrategy{}
	}
}
