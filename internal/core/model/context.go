package model

import "net/netip"

// PacketContext accumulates per-layer decode results for a single frame.
// One context is created per frame, threaded through the decode chain, and
// consumed into exactly one Packet, even when the chain stopped early.
type PacketContext struct {
	SrcAddr  netip.Addr
	DstAddr  netip.Addr
	SrcPort  uint16
	DstPort  uint16
	HasPorts bool
	Proto    Protocol

	// SYN marks a TCP segment with SYN set and ACK clear, the segment
	// that opens a conversation. ACK marks any segment with ACK set.
	SYN bool
	ACK bool

	Tags []string
}

// HasAddresses reports whether both network addresses were resolved.
func (c *PacketContext) HasAddresses() bool {
	return c.SrcAddr.IsValid() && c.DstAddr.IsValid()
}

// AddTag records a heuristic tag in decode order.
func (c *PacketContext) AddTag(tag string) {
	c.Tags = append(c.Tags, tag)
}
