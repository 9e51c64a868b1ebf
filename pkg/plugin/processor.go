package plugin

import "firestige.xyz/pandit/internal/core"

// Processor inspects output packets. Returning false drops the packet.
type Processor interface {
	Plugin
	Process(pkt *core.OutputPacket) (keep bool)
}
