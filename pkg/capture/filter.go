// Package capture holds helpers shared by capture plugins.
package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileFilter compiles a pcap filter expression for Ethernet frames into
// classic BPF.
func CompileFilter(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter %q: %w", expr, err)
	}

	// Same layout: Code→Op, Jt, Jf, K.
	raw := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		raw[i] = bpf.RawInstruction{Op: insn.Code, Jt: insn.Jt, Jf: insn.Jf, K: insn.K}
	}
	return raw, nil
}

// Filter runs a compiled program in user space, for sources that cannot
// attach it to a socket.
type Filter struct {
	vm *bpf.VM
}

// NewFilter compiles expr into a user-space filter.
func NewFilter(expr string, snapLen int) (*Filter, error) {
	raw, err := CompileFilter(expr, snapLen)
	if err != nil {
		return nil, err
	}
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("BPF filter %q: program does not disassemble", expr)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("BPF filter %q: %w", expr, err)
	}
	return &Filter{vm: vm}, nil
}

// Match reports whether the filter accepts frame. A nil Filter accepts
// everything.
func (f *Filter) Match(frame []byte) bool {
	if f == nil {
		return true
	}
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}
