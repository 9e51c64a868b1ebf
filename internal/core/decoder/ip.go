package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/pandit/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
)

// decodeIP dispatches on the version nibble and returns the header and its length.
func decodeIP(data []byte) (core.IPHeader, int, error) {
	if len(data) < 1 {
		return core.IPHeader{}, 0, core.ErrPacketTooShort
	}
	switch data[0] >> 4 {
	case 4:
		return decodeIPv4(data)
	case 6:
		return decodeIPv6(data)
	}
	return core.IPHeader{}, 0, core.ErrUnsupportedProto
}

func decodeIPv4(data []byte) (core.IPHeader, int, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, 0, core.ErrPacketTooShort
	}
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.IPHeader{}, 0, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  4,
		TotalLen: binary.BigEndian.Uint16(data[2:4]),
		TTL:      data[8],
		Protocol: data[9],
		SrcIP:    netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:    netip.AddrFrom4([4]byte(data[16:20])),
	}
	return ip, headerLen, nil
}

// decodeIPv6 decodes the fixed IPv6 header. Extension headers are not
// walked; Protocol is the first Next Header value.
func decodeIPv6(data []byte) (core.IPHeader, int, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPHeader{}, 0, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  6,
		TotalLen: ipv6HeaderLen + binary.BigEndian.Uint16(data[4:6]),
		Protocol: data[6],
		TTL:      data[7],
		SrcIP:    netip.AddrFrom16([16]byte(data[8:24])),
		DstIP:    netip.AddrFrom16([16]byte(data[24:40])),
	}
	return ip, ipv6HeaderLen, nil
}

// isIPFragment reports whether an IPv4 packet is part of a fragmented datagram.
func isIPFragment(data []byte, version uint8) bool {
	if version != 4 || len(data) < ipv4HeaderMinLen {
		return false
	}
	flags := binary.BigEndian.Uint16(data[6:8])
	return flags&0x2000 != 0 || flags&0x1FFF != 0
}
