package decoder

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"flowlens/internal/core/model"
)

// ipv4Decoder records the address pair and IP protocol number, then hands
// off to the transport decoder for that protocol when one exists.
type ipv4Decoder struct{}

func (ipv4Decoder) Decode(data []byte, ctx *model.PacketContext) (Kind, []byte, error) {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return KindNone, nil, fmt.Errorf("ipv4: %w", err)
	}
	ctx.SrcAddr = addrFromIP(ip.SrcIP)
	ctx.DstAddr = addrFromIP(ip.DstIP)
	ctx.Proto = model.Protocol(ip.Protocol)
	return transportKind(ip.Protocol), ip.Payload, nil
}

type ipv6Decoder struct{}

func (ipv6Decoder) Decode(data []byte, ctx *model.PacketContext) (Kind, []byte, error) {
	var ip layers.IPv6
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return KindNone, nil, fmt.Errorf("ipv6: %w", err)
	}
	ctx.SrcAddr = addrFromIP(ip.SrcIP)
	ctx.DstAddr = addrFromIP(ip.DstIP)
	ctx.Proto = model.Protocol(ip.NextHeader)
	return transportKind(ip.NextHeader), ip.Payload, nil
}

// transportKind names the decoder for an IP protocol number. Protocols
// without a decoder end the chain with the protocol number still recorded.
func transportKind(proto layers.IPProtocol) Kind {
	switch proto {
	case layers.IPProtocolTCP:
		return KindTCP
	case layers.IPProtocolUDP:
		return KindUDP
	}
	return KindNone
}

// addrFromIP converts a raw header address. An address of unexpected
// length becomes the zero Addr, which downstream treats as absent.
func addrFromIP(ip net.IP) netip.Addr {
	addr, _ := netip.AddrFromSlice(ip)
	return addr
}
