package decoder

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"flowlens/internal/core/model"
)

// ethernetDecoder decodes an Ethernet II header and hands the payload to
// the network layer it announces.
type ethernetDecoder struct{}

func (ethernetDecoder) Decode(data []byte, _ *model.PacketContext) (Kind, []byte, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return KindNone, nil, fmt.Errorf("ethernet: %w", err)
	}
	switch eth.EthernetType {
	case layers.EthernetTypeIPv4:
		return KindIPv4, eth.Payload, nil
	case layers.EthernetTypeIPv6:
		return KindIPv6, eth.Payload, nil
	}
	return KindNone, nil, nil
}
