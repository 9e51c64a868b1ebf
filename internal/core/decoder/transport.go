package decoder

import (
	"encoding/binary"

	"firestige.xyz/pandit/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
)

// decodeTransport decodes a TCP or UDP header and returns its length.
// Other protocols decode to an empty header of length zero.
func decodeTransport(data []byte, protocol uint8) (core.TransportHeader, int, error) {
	switch protocol {
	case core.ProtoTCP:
		return decodeTCP(data)
	case core.ProtoUDP:
		return decodeUDP(data)
	}
	return core.TransportHeader{Protocol: protocol}, 0, nil
}

func decodeUDP(data []byte) (core.TransportHeader, int, error) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{}, 0, core.ErrPacketTooShort
	}
	return core.TransportHeader{
		Protocol: core.ProtoUDP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
	}, udpHeaderLen, nil
}

func decodeTCP(data []byte) (core.TransportHeader, int, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TransportHeader{}, 0, core.ErrPacketTooShort
	}

	// Data offset counts 32-bit words and includes options.
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(data) < headerLen {
		return core.TransportHeader{}, 0, core.ErrPacketTooShort
	}

	return core.TransportHeader{
		Protocol: core.ProtoTCP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		SeqNum:   binary.BigEndian.Uint32(data[4:8]),
		AckNum:   binary.BigEndian.Uint32(data[8:12]),
		TCPFlags: data[13] & 0x3F,
	}, headerLen, nil
}
