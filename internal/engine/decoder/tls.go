package decoder

import (
	"encoding/binary"
	"fmt"

	"flowlens/internal/core/model"
)

// TLS record content types.
const (
	tlsChangeCipherSpec = 20
	tlsAlert            = 21
	tlsHandshake        = 22
	tlsApplicationData  = 23
)

// tlsDecoder tags the packet with the type and version of the first TLS
// record in the payload. It inspects only that record; records split
// across segments produce no tag.
type tlsDecoder struct{}

func (tlsDecoder) Decode(data []byte, ctx *model.PacketContext) (Kind, []byte, error) {
	if len(data) < 5 {
		return KindNone, nil, nil
	}
	contentType := data[0]
	version := tlsVersion(data[1], data[2])
	length := int(binary.BigEndian.Uint16(data[3:5]))
	if len(data) < 5+length {
		return KindNone, nil, nil
	}

	switch contentType {
	case tlsChangeCipherSpec:
		ctx.AddTag(fmt.Sprintf("ChangeCipherSpec (%s)", version))
	case tlsAlert:
		ctx.AddTag(fmt.Sprintf("Alert (%s)", version))
	case tlsHandshake:
		name := "Handshake"
		if length > 0 {
			name = handshakeName(data[5])
		}
		ctx.AddTag(fmt.Sprintf("%s (%s)", name, version))
	case tlsApplicationData:
		ctx.AddTag(fmt.Sprintf("Application Data (%s)", version))
	}
	return KindNone, nil, nil
}

func tlsVersion(major, minor byte) string {
	if major != 3 {
		return "TLS Unknown"
	}
	switch minor {
	case 0:
		return "SSL 3.0"
	case 1:
		return "TLS 1.0"
	case 2:
		return "TLS 1.1"
	case 3:
		return "TLS 1.2"
	case 4:
		return "TLS 1.3"
	}
	return "TLS Unknown"
}

func handshakeName(typ byte) string {
	switch typ {
	case 1:
		return "Client Hello"
	case 2:
		return "Server Hello"
	case 11:
		return "Certificate"
	case 12:
		return "Server Key Exchange"
	case 13:
		return "Certificate Request"
	case 14:
		return "Server Hello Done"
	case 15:
		return "Certificate Verify"
	case 16:
		return "Client Key Exchange"
	case 20:
		return "Finished"
	}
	return "Handshake"
}
