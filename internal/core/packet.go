// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// RawPacket is one captured L2 frame.
type RawPacket struct {
	Data           []byte    // Raw frame data
	Timestamp      time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index
}

// DecodedPacket is the result of L2-L4 protocol stack decoding.
//
// Frame is the undecoded frame and PayloadOffset the index of the first
// application byte inside it, so that Payload == Frame[PayloadOffset:].
type DecodedPacket struct {
	Timestamp     time.Time
	Ethernet      EthernetHeader
	IP            IPHeader
	Transport     TransportHeader
	Frame         []byte
	PayloadOffset int
	Payload       []byte // Application layer payload, zero-copy slice of Frame
	CaptureLen    uint32
	OrigLen       uint32
}

// OutputPacket is the final output sent to reporters.
type OutputPacket struct {
	// Envelope
	TaskID     string
	AgentID    string
	PipelineID int
	Timestamp  time.Time

	// Network context
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8

	// Labels attached by parsers and processors
	Labels Labels

	// Typed payload produced by the parser that handled the packet
	PayloadType string // e.g. "http", "raw"
	Payload     any    // Concrete type determined by PayloadType
	RawPayload  []byte
}
