package decoder

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"flowlens/internal/core/model"
)

// tcpDecoder records ports and handshake flags, tags the segment's role,
// and sniffs the payload for a TLS record header.
type tcpDecoder struct{}

func (tcpDecoder) Decode(data []byte, ctx *model.PacketContext) (Kind, []byte, error) {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return KindNone, nil, fmt.Errorf("tcp: %w", err)
	}
	ctx.SrcPort = uint16(tcp.SrcPort)
	ctx.DstPort = uint16(tcp.DstPort)
	ctx.HasPorts = true
	ctx.Proto = model.ProtocolTCP
	ctx.SYN = tcp.SYN && !tcp.ACK
	ctx.ACK = tcp.ACK

	if tag := segmentTag(&tcp); tag != "" {
		ctx.AddTag(tag)
	}
	if looksLikeTLS(tcp.Payload) {
		return KindTLS, tcp.Payload, nil
	}
	return KindNone, nil, nil
}

// segmentTag names the handshake or teardown role of a segment. Plain
// data-bearing segments get no tag.
func segmentTag(tcp *layers.TCP) string {
	switch {
	case tcp.SYN && tcp.ACK:
		return "SYN-ACK"
	case tcp.SYN:
		return "SYN"
	case tcp.FIN:
		return "FIN"
	case tcp.RST:
		return "RST"
	case tcp.ACK && len(tcp.Payload) == 0:
		return "ACK"
	}
	return ""
}

// looksLikeTLS reports whether payload opens like a TLS record: a known
// content type followed by record version major 3.
func looksLikeTLS(payload []byte) bool {
	return len(payload) >= 5 && payload[0] >= 20 && payload[0] <= 23 && payload[1] == 3
}

type udpDecoder struct{}

func (udpDecoder) Decode(data []byte, ctx *model.PacketContext) (Kind, []byte, error) {
	var udp layers.UDP
	if err := udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return KindNone, nil, fmt.Errorf("udp: %w", err)
	}
	ctx.SrcPort = uint16(udp.SrcPort)
	ctx.DstPort = uint16(udp.DstPort)
	ctx.HasPorts = true
	ctx.Proto = model.ProtocolUDP
	return KindNone, nil, nil
}
