// Package decoder turns raw frame bytes into packet context through a
// chain of per-layer decoders.
//
// Each decoder parses one layer, records what it learned, and names the
// layer that owns the remaining payload. The chain stops at the first
// layer that ends it, fails, or has no decoder registered; whatever the
// earlier layers recorded stands, so a partially decodable frame still
// produces usable context.
package decoder

import (
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog/log"

	"flowlens/internal/core/model"
)

// Kind identifies one decodable layer.
type Kind int

const (
	// KindNone terminates a decode chain.
	KindNone Kind = iota
	KindEthernet
	KindIPv4
	KindIPv6
	KindTCP
	KindUDP
	KindTLS
)

var kindNames = [...]string{"none", "ethernet", "ipv4", "ipv6", "tcp", "udp", "tls"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Decoder parses one layer of a frame into ctx and names the layer that
// should consume the returned payload. Returning KindNone ends the chain.
type Decoder interface {
	Decode(data []byte, ctx *model.PacketContext) (next Kind, payload []byte, err error)
}

// Registry maps layer kinds to their decoders. Registration and decoding
// may happen from different goroutines.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Kind]Decoder
}

// NewRegistry returns a registry with no decoders installed.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Kind]Decoder)}
}

// Default returns a registry with the built-in link, network, transport,
// and TLS decoders installed.
func Default() *Registry {
	r := NewRegistry()
	r.Register(KindEthernet, ethernetDecoder{})
	r.Register(KindIPv4, ipv4Decoder{})
	r.Register(KindIPv6, ipv6Decoder{})
	r.Register(KindTCP, tcpDecoder{})
	r.Register(KindUDP, udpDecoder{})
	r.Register(KindTLS, tlsDecoder{})
	return r
}

// Register installs d as the decoder for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[kind] = d
}

func (r *Registry) lookup(kind Kind) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[kind]
	return d, ok
}

// Run decodes data starting at the given layer, following the chain until
// it ends. Decode errors are absorbed after a debug log.
func (r *Registry) Run(kind Kind, data []byte, ctx *model.PacketContext) {
	for kind != KindNone {
		d, ok := r.lookup(kind)
		if !ok {
			return
		}
		next, payload, err := d.Decode(data, ctx)
		if err != nil {
			log.Debug().Err(err).Stringer("layer", kind).Msg("layer decode failed")
			return
		}
		kind = next
		data = payload
	}
}

// RootKind maps a capture link type to the decoder that can root its
// frames. Frames from unmapped link types decode to nothing.
func RootKind(linkType uint16) Kind {
	if linkType == uint16(layers.LinkTypeEthernet) {
		return KindEthernet
	}
	return KindNone
}
