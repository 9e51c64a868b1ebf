// Package decoder implements L2-L4 protocol stack decoding.
//
// Each layer reports its header length instead of re-slicing the frame, so
// the decoded packet carries the absolute payload offset and the payload
// stays a view of the captured frame.
package decoder

import (
	"fmt"

	"firestige.xyz/pandit/internal/core"
)

// Decoder decodes raw packets into structured format.
type Decoder interface {
	Decode(raw core.RawPacket) (core.DecodedPacket, error)
}

// Config controls which packets the decoder accepts.
type Config struct {
	// DropFragments rejects IPv4 fragments. Only the first fragment of a
	// datagram carries the transport header, so later ones can never be
	// attributed to a flow.
	DropFragments bool `mapstructure:"drop_fragments"`
	// TCPOnly rejects every non-TCP transport.
	TCPOnly bool `mapstructure:"tcp_only"`
}

// StandardDecoder decodes Ethernet (with VLAN/QinQ), IPv4/IPv6 and TCP/UDP.
type StandardDecoder struct {
	config Config
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	return &StandardDecoder{config: cfg}
}

// Decode decodes one frame. Ethernet trailer padding is trimmed using the
// IP total length so that Payload ends with the last transport byte.
func (d *StandardDecoder) Decode(raw core.RawPacket) (core.DecodedPacket, error) {
	frame := raw.Data
	pkt := core.DecodedPacket{
		Timestamp:  raw.Timestamp,
		CaptureLen: raw.CaptureLen,
		OrigLen:    raw.OrigLen,
	}

	eth, l2Len, err := decodeEthernet(frame)
	if err != nil {
		return pkt, err
	}
	pkt.Ethernet = eth
	if eth.EtherType != etherTypeIPv4 && eth.EtherType != etherTypeIPv6 {
		return pkt, fmt.Errorf("ethertype 0x%04x: %w", eth.EtherType, core.ErrUnsupportedProto)
	}

	ip, l3Len, err := decodeIP(frame[l2Len:])
	if err != nil {
		return pkt, err
	}
	pkt.IP = ip
	if d.config.DropFragments && isIPFragment(frame[l2Len:], ip.Version) {
		return pkt, fmt.Errorf("ip fragment: %w", core.ErrUnsupportedProto)
	}
	if d.config.TCPOnly && ip.Protocol != core.ProtoTCP {
		return pkt, fmt.Errorf("ip protocol %d: %w", ip.Protocol, core.ErrUnsupportedProto)
	}

	// Trim link-layer padding; keep the capture as-is when it is shorter
	// than the IP datagram (snaplen).
	if end := l2Len + int(ip.TotalLen); ip.TotalLen != 0 && end >= l2Len+l3Len && end < len(frame) {
		frame = frame[:end]
	}

	transport, l4Len, err := decodeTransport(frame[l2Len+l3Len:], ip.Protocol)
	if err != nil {
		return pkt, err
	}
	pkt.Transport = transport

	pkt.Frame = frame
	pkt.PayloadOffset = l2Len + l3Len + l4Len
	pkt.Payload = frame[pkt.PayloadOffset:]
	return pkt, nil
}
