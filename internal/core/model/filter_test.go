package model

import (
	"net/netip"
	"testing"
)

func sampleFlow() *Flow {
	return &Flow{
		FirstSeen:   5.0,
		Proto:       ProtocolTCP,
		Source:      Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 12345},
		Destination: Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 80},
	}
}

func TestFilterMatchAllOnBlankQuery(t *testing.T) {
	filter := NewFlowFilter("   ", nil)
	if !filter.MatchAll() {
		t.Error("whitespace query should match everything")
	}
	if !filter.Matches(sampleFlow()) {
		t.Error("match-all filter rejected a flow")
	}
}

func TestFilterMatchesAddressPortAndProtocol(t *testing.T) {
	flow := sampleFlow()

	for _, query := range []string{"10.0.0.1", "80", "tcp", "10.0.0.2:80"} {
		if !NewFlowFilter(query, nil).Matches(flow) {
			t.Errorf("query %q should match flow", query)
		}
	}
	if NewFlowFilter("192.168", nil).Matches(flow) {
		t.Error("query for absent address should not match")
	}
}

func TestFilterMatchesRelativeTimestamp(t *testing.T) {
	flow := sampleFlow()
	format := &FlowFormatter{Origin: 2.0, HasOrigin: true}

	if !NewFlowFilter("3.000000", format).Matches(flow) {
		t.Error("relative timestamp should match with origin applied")
	}
	if !NewFlowFilter("5.000000", nil).Matches(flow) {
		t.Error("absolute timestamp should match without origin")
	}
}

func TestFilterMatchesIPv6AndOtherProtocol(t *testing.T) {
	flow := &Flow{
		FirstSeen:   1.0,
		Proto:       Protocol(99),
		Source:      Endpoint{Addr: netip.MustParseAddr("fe80::1"), Port: 443},
		Destination: Endpoint{Addr: netip.MustParseAddr("fe80::2"), Port: 8443},
	}

	if !NewFlowFilter("fe80::1", nil).Matches(flow) {
		t.Error("IPv6 address should match")
	}
	if !NewFlowFilter("proto-99", nil).Matches(flow) {
		t.Error("other-protocol string should match case-insensitively")
	}
}

func TestFormatterPrefersResolvedNames(t *testing.T) {
	addr := netip.MustParseAddr("192.168.0.42")
	format := &FlowFormatter{
		PreferNames: true,
		Names:       map[netip.Addr][]string{addr: {"host.local", "alias"}},
	}

	if got := format.Address(addr); got != "host.local" {
		t.Errorf("expected first resolved name, got %q", got)
	}

	other := netip.MustParseAddr("192.168.0.43")
	if got := format.Address(other); got != "192.168.0.43" {
		t.Errorf("unresolved address should render literally, got %q", got)
	}

	format.PreferNames = false
	if got := format.Address(addr); got != "192.168.0.42" {
		t.Errorf("names disabled should render literally, got %q", got)
	}
}

func TestFormatterRendersPlaceholderEndpoint(t *testing.T) {
	format := &FlowFormatter{}
	if got := format.Endpoint(Endpoint{}); got != "-" {
		t.Errorf("unresolved endpoint should render as \"-\", got %q", got)
	}
}

func TestFormatterPacketEndpoint(t *testing.T) {
	format := &FlowFormatter{}
	addr := netip.MustParseAddr("10.0.0.1")

	if got := format.PacketEndpoint(addr, 443, true); got != "10.0.0.1:443" {
		t.Errorf("with port = %q, want 10.0.0.1:443", got)
	}
	if got := format.PacketEndpoint(addr, 0, false); got != "10.0.0.1" {
		t.Errorf("without port = %q, want bare address", got)
	}
	if got := format.PacketEndpoint(netip.Addr{}, 0, false); got != "-" {
		t.Errorf("unresolved = %q, want \"-\"", got)
	}
}
