package ike

import (
	"net"
	"testing"

	"github.com/msgboxio/ike/protocol"
)

// Building a child session with only a proposal (no AddSelector call)
// yields the wide-open IPv4+IPv6 default traffic selector array on both
// sides, in transport mode off.
func TestDefaultSelectors(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TsI != nil || cfg.TsR != nil {
		t.Fatal("DefaultConfig must not pre-populate selectors; SendAuth defaults them lazily")
	}
	if cfg.IsTransportMode {
		t.Fatal("default config must be tunnel mode")
	}

	sel := DefaultSelectors()
	if len(sel) != 2 {
		t.Fatalf("got %d selectors, want 2", len(sel))
	}
	v4, v6 := sel[0], sel[1]
	if v4.Type != protocol.TS_IPV4_ADDR_RANGE || v6.Type != protocol.TS_IPV6_ADDR_RANGE {
		t.Fatalf("selector types = [%d,%d], want [%d,%d]",
			v4.Type, v6.Type, protocol.TS_IPV4_ADDR_RANGE, protocol.TS_IPV6_ADDR_RANGE)
	}
	if v4.StartPort != 0 || v4.Endport != 65535 {
		t.Errorf("v4 ports = [%d,%d], want [0,65535]", v4.StartPort, v4.Endport)
	}
	if !v4.StartAddress.Equal(net.IPv4zero) || !v4.EndAddress.Equal(net.IPv4bcast) {
		t.Errorf("v4 range = [%v,%v], want [0.0.0.0,255.255.255.255]", v4.StartAddress, v4.EndAddress)
	}
	if v6.StartPort != 0 || v6.Endport != 65535 {
		t.Errorf("v6 ports = [%d,%d], want [0,65535]", v6.StartPort, v6.Endport)
	}
	if !v6.StartAddress.Equal(net.IPv6zero) {
		t.Errorf("v6 start = %v, want ::", v6.StartAddress)
	}
	if !v6.EndAddress.Equal(net.ParseIP("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff")) {
		t.Errorf("v6 end = %v, want ffff:...:ffff", v6.EndAddress)
	}
}

// Offered selectors wider than the configured ones fail narrowing.
func TestCheckromAuthRejectsUnnarrowedSelectors(t *testing.T) {
	cfg := DefaultConfig()
	narrow, err := protocol.NewSelector(protocol.TS_IPV4_ADDR_RANGE, 0, 1024, 2048,
		net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.1"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.TsI = []*protocol.Selector{narrow}
	cfg.TsR = []*protocol.Selector{narrow}

	wide := DefaultSelectors()
	authI := &Message{
		Payloads: protocol.MakePayloads(),
	}
	sa := &protocol.SaPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Proposals:     ProposalFromTransform(protocol.ESP, cfg.ProposalEsp, []byte{1, 2, 3, 4}),
	}
	authI.Payloads.Add(sa)
	authI.Payloads.Add(protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSi, wide))
	authI.Payloads.Add(protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSr, wide))

	if err := cfg.CheckromAuth(authI); err == nil {
		t.Fatal("expected narrowing failure when offered selectors exceed configured ones")
	}
}
