package model

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// FlowFormatter renders flows for tables and filters. When HasOrigin is
// set, timestamps display relative to Origin (normally the capture start).
// When PreferNames is set, addresses with a resolved name display the
// first name instead of the literal address.
type FlowFormatter struct {
	Origin      float64
	HasOrigin   bool
	PreferNames bool
	Names       map[netip.Addr][]string
}

// Timestamp renders a timestamp with microsecond precision, relative to
// the origin when one is set.
func (f *FlowFormatter) Timestamp(ts float64) string {
	if f.HasOrigin {
		ts -= f.Origin
	}
	return fmt.Sprintf("%.6f", ts)
}

// Address renders an address, preferring its resolved name when enabled.
func (f *FlowFormatter) Address(addr netip.Addr) string {
	if f.PreferNames {
		if names := f.Names[addr]; len(names) > 0 {
			return names[0]
		}
	}
	if !addr.IsValid() {
		return "-"
	}
	return addr.String()
}

// Endpoint renders an endpoint as addr:port, or "-" when unresolved.
func (f *FlowFormatter) Endpoint(e Endpoint) string {
	if !e.Addr.IsValid() {
		return "-"
	}
	return fmt.Sprintf("%s:%d", f.Address(e.Addr), e.Port)
}

// PacketEndpoint renders one side of a packet. Packets that never reached
// a transport header carry no port, so only the address displays.
func (f *FlowFormatter) PacketEndpoint(addr netip.Addr, port uint16, hasPort bool) string {
	if !hasPort {
		return f.Address(addr)
	}
	return f.Endpoint(Endpoint{Addr: addr, Port: port})
}

// FlowFilter matches flows against a case-insensitive substring needle.
// The needle is compared to everything the formatter displays for a flow:
// relative timestamp, addresses, endpoint strings, ports, and protocol.
type FlowFilter struct {
	needle string
	format *FlowFormatter
}

// NewFlowFilter builds a filter from a raw query; the query is trimmed and
// lowercased. A nil formatter means plain absolute rendering.
func NewFlowFilter(query string, format *FlowFormatter) *FlowFilter {
	if format == nil {
		format = &FlowFormatter{}
	}
	return &FlowFilter{
		needle: strings.ToLower(strings.TrimSpace(query)),
		format: format,
	}
}

// MatchAll reports whether the filter accepts every flow.
func (f *FlowFilter) MatchAll() bool {
	return f.needle == ""
}

// Matches reports whether the flow's displayed fields contain the needle.
func (f *FlowFilter) Matches(flow *Flow) bool {
	if f.MatchAll() {
		return true
	}
	if f.contains(f.format.Timestamp(flow.FirstSeen)) {
		return true
	}
	if f.contains(f.format.Address(flow.Source.Addr)) {
		return true
	}
	if f.contains(f.format.Endpoint(flow.Source)) {
		return true
	}
	if f.contains(strconv.Itoa(int(flow.Source.Port))) {
		return true
	}
	if f.contains(f.format.Address(flow.Destination.Addr)) {
		return true
	}
	if f.contains(f.format.Endpoint(flow.Destination)) {
		return true
	}
	if f.contains(strconv.Itoa(int(flow.Destination.Port))) {
		return true
	}
	return f.contains(flow.Proto.String())
}

func (f *FlowFilter) contains(value string) bool {
	return strings.Contains(strings.ToLower(value), f.needle)
}
