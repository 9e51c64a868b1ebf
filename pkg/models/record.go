// Package models defines the record reporters emit for each output packet.
package models

import (
	"fmt"
	"time"

	"firestige.xyz/pandit/internal/core"
)

// Record is the serialized form of one output packet.
type Record struct {
	TaskID      string      `json:"task_id"`
	AgentID     string      `json:"agent_id"`
	PipelineID  int         `json:"pipeline_id"`
	Timestamp   int64       `json:"timestamp"` // unix milliseconds
	SrcIP       string      `json:"src_ip"`
	DstIP       string      `json:"dst_ip"`
	SrcPort     uint16      `json:"src_port"`
	DstPort     uint16      `json:"dst_port"`
	Protocol    uint8       `json:"protocol"`
	PayloadType string      `json:"payload_type"`
	Flow        string      `json:"flow,omitempty"`
	Labels      core.Labels `json:"labels,omitempty"`
	PayloadLen  int         `json:"payload_len,omitempty"`
}

// FromOutput builds the record for pkt.
func FromOutput(pkt *core.OutputPacket) Record {
	return Record{
		TaskID:      pkt.TaskID,
		AgentID:     pkt.AgentID,
		PipelineID:  pkt.PipelineID,
		Timestamp:   pkt.Timestamp.UnixMilli(),
		SrcIP:       pkt.SrcIP.String(),
		DstIP:       pkt.DstIP.String(),
		SrcPort:     pkt.SrcPort,
		DstPort:     pkt.DstPort,
		Protocol:    pkt.Protocol,
		PayloadType: pkt.PayloadType,
		Flow:        pkt.Labels[core.LabelHTTPFlow],
		Labels:      pkt.Labels,
		PayloadLen:  len(pkt.RawPayload),
	}
}

// Time returns the record timestamp.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// PartitionKey groups all records of one response: the flow when known,
// otherwise the address/port 4-tuple.
func (r Record) PartitionKey() string {
	if r.Flow != "" {
		return r.Flow
	}
	return fmt.Sprintf("%s:%d-%s:%d", r.SrcIP, r.SrcPort, r.DstIP, r.DstPort)
}
