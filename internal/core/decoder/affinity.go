package decoder

import (
	"encoding/binary"

	"firestige.xyz/pandit/internal/core"
)

// AffinityKey appends to dst the bytes that tie a frame to one HTTP
// response: the destination address and the TCP acknowledgment number,
// the same fields flow.Key is built from. Frames that are not TCP over
// IP yield dst unchanged.
func AffinityKey(dst, frame []byte) []byte {
	eth, l2Len, err := decodeEthernet(frame)
	if err != nil || (eth.EtherType != etherTypeIPv4 && eth.EtherType != etherTypeIPv6) {
		return dst
	}
	ip, l3Len, err := decodeIP(frame[l2Len:])
	if err != nil || ip.Protocol != core.ProtoTCP {
		return dst
	}
	tcp := frame[l2Len+l3Len:]
	if len(tcp) < tcpHeaderMinLen {
		return dst
	}
	addr := ip.DstIP.As16()
	dst = append(dst, addr[:]...)
	return binary.BigEndian.AppendUint32(dst, binary.BigEndian.Uint32(tcp[8:12]))
}

