package decoder

import (
	"encoding/binary"

	"firestige.xyz/pandit/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	maxVLANTags       = 2

	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet decodes the Ethernet header and up to two VLAN tags.
// It returns the header and its length including tags.
func decodeEthernet(data []byte) (core.EthernetHeader, int, error) {
	if len(data) < ethernetHeaderLen {
		return core.EthernetHeader{}, 0, core.ErrPacketTooShort
	}

	var eth core.EthernetHeader
	copy(eth.DstMAC[:], data[0:6])
	copy(eth.SrcMAC[:], data[6:12])

	etherType := binary.BigEndian.Uint16(data[12:14])
	n := ethernetHeaderLen
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(eth.VLANs) == maxVLANTags {
			return eth, 0, core.ErrUnsupportedProto
		}
		if len(data) < n+vlanHeaderLen {
			return eth, 0, core.ErrPacketTooShort
		}
		tci := binary.BigEndian.Uint16(data[n : n+2])
		eth.VLANs = append(eth.VLANs, tci&0x0FFF)
		etherType = binary.BigEndian.Uint16(data[n+2 : n+4])
		n += vlanHeaderLen
	}

	eth.EtherType = etherType
	return eth, n, nil
}
