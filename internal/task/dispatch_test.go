package task

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pandit/internal/core"
)

// responseFrame builds a server→client TCP frame on port 8000.
func responseFrame(t testing.TB, client string, ack, seq uint32, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP(client).To4(),
	}
	tcp := &layers.TCP{SrcPort: 8000, DstPort: 50000, Seq: seq, Ack: ack, ACK: true, PSH: true, Window: 65535}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestDispatchAffinity(t *testing.T) {
	for _, name := range []string{DispatchFlowHash, DispatchConsistentHash} {
		t.Run(name, func(t *testing.T) {
			s := NewDispatchStrategy(name)
			assert.Equal(t, name, s.Name())

			head := core.RawPacket{Data: responseFrame(t, "10.0.0.2", 777, 1, []byte("HTTP/1.1 200 OK\r\n"))}
			tail := core.RawPacket{Data: responseFrame(t, "10.0.0.2", 777, 5000, []byte("more body"))}

			first := s.Dispatch(head, 4)
			require.GreaterOrEqual(t, first, 0)
			require.Less(t, first, 4)
			for i := 0; i < 50; i++ {
				assert.Equal(t, first, s.Dispatch(head, 4))
				assert.Equal(t, first, s.Dispatch(tail, 4), "segments of one response stay together")
			}
		})
	}
}

func TestDispatchSpreadsFlows(t *testing.T) {
	for _, name := range []string{DispatchFlowHash, DispatchConsistentHash} {
		t.Run(name, func(t *testing.T) {
			s := NewDispatchStrategy(name)
			used := make(map[int]bool)
			for ack := uint32(0); ack < 256; ack++ {
				pkt := core.RawPacket{Data: responseFrame(t, "10.0.0.2", ack*7919, 1, []byte("x"))}
				idx := s.Dispatch(pkt, 4)
				require.GreaterOrEqual(t, idx, 0)
				require.Less(t, idx, 4)
				used[idx] = true
			}
			assert.Greater(t, len(used), 1)
		})
	}
}

func TestDispatchUnkeyedFrameGoesToFirstPipeline(t *testing.T) {
	pkt := core.RawPacket{Data: []byte{0x01, 0x02}}
	assert.Equal(t, 0, (&FlowHashStrategy{}).Dispatch(pkt, 4))
	assert.Equal(t, 0, (&ConsistentHashStrategy{}).Dispatch(pkt, 4))
}

func TestConsistentHashRebuildsOnResize(t *testing.T) {
	s := &ConsistentHashStrategy{}
	pkt := core.RawPacket{Data: responseFrame(t, "10.0.0.9", 42, 1, []byte("x"))}

	assert.Less(t, s.Dispatch(pkt, 2), 2)
	assert.Less(t, s.Dispatch(pkt, 8), 8)
	assert.Equal(t, 0, s.Dispatch(pkt, 1))
}

func TestRoundRobinStrategy_Distributes(t *testing.T) {
	s := &RoundRobinStrategy{}
	numPipelines := 3
	counts := make([]int, numPipelines)

	pkt := core.RawPacket{Data: []byte{0x01}}

	for i := 0; i < 30; i++ {
		idx := s.Dispatch(pkt, numPipelines)
		if idx < 0 || idx >= numPipelines {
			t.Fatalf("Dispatch returned out-of-range index: %d", idx)
		}
		counts[idx]++
	}

	for i, c := range counts {
		if c != 10 {
			t.Errorf("pipeline %d received %d packets, expected 10", i, c)
		}
	}
}

func TestNewDispatchStrategy_DefaultFallback(t *testing.T) {
	for _, name := range []string{"", "unknown"} {
		if got := NewDispatchStrategy(name).Name(); got != DispatchFlowHash {
			t.Errorf("NewDispatchStrategy(%q) = %q, want flow-hash", name, got)
		}
	}
	if got := NewDispatchStrategy(DispatchRoundRobin).Name(); got != DispatchRoundRobin {
		t.Errorf("got %q", got)
	}
}
