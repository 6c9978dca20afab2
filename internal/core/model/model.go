package model

import (
	"fmt"
	"math"
	"net/netip"
	"sort"
)

// Protocol carries the raw IP protocol number of a conversation. The zero
// value means the protocol was never resolved during decode.
type Protocol uint8

const (
	ProtocolUnknown Protocol = 0
	ProtocolTCP     Protocol = 6
	ProtocolUDP     Protocol = 17
)

// String renders TCP and UDP by name and any other value as Proto-N.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return fmt.Sprintf("Proto-%d", uint8(p))
	}
}

// Endpoint identifies one side of a conversation. The zero value (invalid
// address, port 0) stands for an endpoint that never resolved.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// Less orders endpoints by address first (IPv4 sorts before IPv6, then by
// byte value, per netip.Addr.Compare), then by port. FlowKey
// canonicalization depends on this exact total order.
func (e Endpoint) Less(other Endpoint) bool {
	if c := e.Addr.Compare(other.Addr); c != 0 {
		return c < 0
	}
	return e.Port < other.Port
}

// String renders the endpoint as addr:port, or "-" when unresolved.
func (e Endpoint) String() string {
	if !e.Addr.IsValid() {
		return "-"
	}
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// FlowKey is the canonical identity of a conversation: the endpoint pair
// in canonical order plus the protocol. Both directions of the same
// conversation map to the same key.
type FlowKey struct {
	A     Endpoint
	B     Endpoint
	Proto Protocol
}

// NewFlowKey builds the canonical key for an endpoint pair, swapping the
// endpoints when needed so direction does not matter.
func NewFlowKey(a, b Endpoint, proto Protocol) FlowKey {
	if b.Less(a) {
		a, b = b, a
	}
	return FlowKey{A: a, B: b, Proto: proto}
}

// PlaceholderKey is the shared key for frames whose decode resolved no
// network address. Such frames are coalesced under it, never dropped.
func PlaceholderKey() FlowKey {
	return FlowKey{Proto: ProtocolUnknown}
}

// String renders the key as "A <-> B proto".
func (k FlowKey) String() string {
	return fmt.Sprintf("%s <-> %s %s", k.A, k.B, k.Proto)
}

// Packet is one captured frame after decoding.
//
// Length is the on-wire length saturated to 16 bits; Data holds the bytes
// the capture actually recorded and may be shorter than Length when the
// snapshot length truncated the frame. The two truncations are
// independent.
type Packet struct {
	Timestamp float64 // absolute seconds
	Length    uint16
	Data      []byte
	Src       netip.Addr
	Dst       netip.Addr
	SrcPort   uint16
	DstPort   uint16
	HasPorts  bool
	Tags      []string
}

// NewPacket consumes a decode context into the single Packet built for a
// frame. wireLength is the original on-wire length, which may exceed both
// the saturation bound and len(data).
func NewPacket(timestamp float64, wireLength uint32, data []byte, ctx *PacketContext) *Packet {
	length := uint16(math.MaxUint16)
	if wireLength < math.MaxUint16 {
		length = uint16(wireLength)
	}
	return &Packet{
		Timestamp: timestamp,
		Length:    length,
		Data:      data,
		Src:       ctx.SrcAddr,
		Dst:       ctx.DstAddr,
		SrcPort:   ctx.SrcPort,
		DstPort:   ctx.DstPort,
		HasPorts:  ctx.HasPorts,
		Tags:      ctx.Tags,
	}
}

// Flow is a bidirectional conversation. Source and Destination are fixed
// when the flow is created and never change afterwards, even if traffic
// later reverses.
type Flow struct {
	FirstSeen   float64
	Proto       Protocol
	Source      Endpoint
	Destination Endpoint
	Packets     []*Packet
}

// Append adds a packet to the flow in reader emission order.
func (f *Flow) Append(p *Packet) {
	f.Packets = append(f.Packets, p)
}

// TotalBytes sums the saturated packet lengths. Computed on demand, never
// stored.
func (f *Flow) TotalBytes() uint64 {
	var total uint64
	for _, p := range f.Packets {
		total += uint64(p.Length)
	}
	return total
}

// SortFlows flattens a flow map into a slice ordered by first appearance,
// breaking ties on the source endpoint so renders stay stable.
func SortFlows(m map[FlowKey]*Flow) []*Flow {
	flows := make([]*Flow, 0, len(m))
	for _, f := range m {
		flows = append(flows, f)
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].FirstSeen != flows[j].FirstSeen {
			return flows[i].FirstSeen < flows[j].FirstSeen
		}
		return flows[i].Source.String() < flows[j].Source.String()
	})
	return flows
}
