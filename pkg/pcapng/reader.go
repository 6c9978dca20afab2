// Package pcapng reads pcapng capture containers block by block.
//
// The reader resolves per-interface timestamp metadata, honors per-section
// byte order, accumulates name-resolution records, and tracks bytes
// consumed against the file size so callers can report load progress.
package pcapng

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/netip"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Block type codes and the section byte-order magic, per the pcapng
// container format.
const (
	blockSectionHeader  = 0x0A0D0D0A
	blockInterfaceDesc  = 0x00000001
	blockSimplePacket   = 0x00000003
	blockNameResolution = 0x00000004
	blockEnhancedPacket = 0x00000006

	byteOrderMagic = 0x1A2B3C4D

	optEndOfOptions = 0
	optTSResol      = 9
	optTSOffset     = 14

	nrbRecordEnd  = 0
	nrbRecordIPv4 = 1
	nrbRecordIPv6 = 2

	// Legacy pcap file magics; such files are rejected as an unsupported
	// container version rather than corruption.
	pcapMagicUsec = 0xA1B2C3D4
	pcapMagicNsec = 0xA1B23C4D
)

// maxBlockLen bounds a single block's allocation. Declared lengths beyond
// it are treated as corruption.
const maxBlockLen = 1 << 24

// LinkTypeEthernet identifies Ethernet interfaces. Frames from other link
// types are still yielded; callers decide how far they can decode them.
const LinkTypeEthernet = 1

var (
	// ErrMalformed reports a corrupt or truncated container. Fatal to the
	// whole load.
	ErrMalformed = errors.New("pcapng: malformed capture")
	// ErrUnsupportedVersion reports an unrecognized container version or
	// magic. Fatal to the whole load.
	ErrUnsupportedVersion = errors.New("pcapng: unsupported capture format version")
)

// shbTypeBytes is the section header block type on disk; the value is a
// palindrome, so it reads identically in either byte order.
var shbTypeBytes = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// Frame is one captured packet as the container recorded it.
type Frame struct {
	Timestamp  float64 // absolute seconds
	Data       []byte  // captured bytes; may be shorter than WireLength
	WireLength uint32  // original on-wire length
	LinkType   uint16
	Interface  int
}

// iface holds the per-interface metadata needed to place packets in time.
type iface struct {
	linkType    uint16
	snapLen     uint32
	ticksPerSec float64
	tsOffset    int64
}

// Reader iterates the packet blocks of one pcapng file in file order. It
// is not safe for concurrent use and cannot be restarted.
type Reader struct {
	f       *os.File
	br      *bufio.Reader
	size    int64
	read    int64
	order   binary.ByteOrder
	started bool
	ifaces  []iface
	names   map[netip.Addr][]string
}

// Open prepares a reader over the file at path. No blocks are parsed until
// the first call to Next, so an unsupported or corrupt file surfaces there.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{
		f:     f,
		br:    bufio.NewReaderSize(f, 64*1024),
		size:  stat.Size(),
		names: make(map[netip.Addr][]string),
	}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Progress reports the fraction of the file consumed so far, 0.0 to 1.0.
func (r *Reader) Progress() float64 {
	if r.size <= 0 {
		return 1
	}
	p := float64(r.read) / float64(r.size)
	if p > 1 {
		p = 1
	}
	return p
}

// Names returns the address-to-hostnames map accumulated from
// name-resolution blocks. The map is owned by the reader while reading is
// in progress.
func (r *Reader) Names() map[netip.Addr][]string {
	return r.names
}

// Next returns the next captured frame in file order, io.EOF at the end of
// the container, or a fatal error wrapping ErrMalformed or
// ErrUnsupportedVersion. Non-packet blocks are consumed silently.
func (r *Reader) Next() (*Frame, error) {
	for {
		var rawType [4]byte
		if _, err := io.ReadFull(r.br, rawType[:]); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: truncated block header at offset %d", ErrMalformed, r.read)
		}

		if !r.started {
			if isLegacyPcapMagic(rawType[:]) {
				return nil, fmt.Errorf("%w: legacy pcap file", ErrUnsupportedVersion)
			}
			if !bytes.Equal(rawType[:], shbTypeBytes) {
				return nil, fmt.Errorf("%w: file does not begin with a section header", ErrMalformed)
			}
		}

		if bytes.Equal(rawType[:], shbTypeBytes) {
			if err := r.beginSection(); err != nil {
				return nil, err
			}
			continue
		}

		blockType := r.order.Uint32(rawType[:])
		body, err := r.readBlockBody()
		if err != nil {
			return nil, err
		}

		switch blockType {
		case blockInterfaceDesc:
			if err := r.parseInterface(body); err != nil {
				return nil, err
			}
		case blockEnhancedPacket:
			frame, err := r.parsePacket(body)
			if err != nil {
				return nil, err
			}
			if frame != nil {
				return frame, nil
			}
		case blockNameResolution:
			r.parseNameRecords(body)
		case blockSimplePacket:
			log.Debug().Msg("skipping simple packet block")
		default:
			log.Debug().Uint32("type", blockType).Msg("skipping unsupported block")
		}
	}
}

// beginSection parses a section header block after its type bytes were
// consumed. A new section switches byte order and resets the interfaces.
func (r *Reader) beginSection() error {
	var fixed [8]byte // total length + byte-order magic
	if _, err := io.ReadFull(r.br, fixed[:]); err != nil {
		return fmt.Errorf("%w: truncated section header at offset %d", ErrMalformed, r.read)
	}

	switch {
	case binary.LittleEndian.Uint32(fixed[4:8]) == byteOrderMagic:
		r.order = binary.LittleEndian
	case binary.BigEndian.Uint32(fixed[4:8]) == byteOrderMagic:
		r.order = binary.BigEndian
	default:
		return fmt.Errorf("%w: unrecognized byte-order magic %#x", ErrUnsupportedVersion, fixed[4:8])
	}

	totalLen := r.order.Uint32(fixed[0:4])
	if totalLen < 28 || totalLen%4 != 0 || totalLen > maxBlockLen {
		return fmt.Errorf("%w: section header declares length %d", ErrMalformed, totalLen)
	}

	// Type, length, and magic are consumed; the rest runs to the trailer.
	rest := make([]byte, totalLen-12)
	if _, err := io.ReadFull(r.br, rest); err != nil {
		return fmt.Errorf("%w: truncated section header at offset %d", ErrMalformed, r.read)
	}
	if trailer := r.order.Uint32(rest[len(rest)-4:]); trailer != totalLen {
		return fmt.Errorf("%w: section header trailer %d does not match length %d", ErrMalformed, trailer, totalLen)
	}

	major := r.order.Uint16(rest[0:2])
	minor := r.order.Uint16(rest[2:4])
	if major != 1 {
		return fmt.Errorf("%w: container version %d.%d", ErrUnsupportedVersion, major, minor)
	}

	// Interfaces are scoped to their section.
	r.ifaces = r.ifaces[:0]
	r.started = true
	r.read += int64(totalLen)
	return nil
}

// readBlockBody reads the remainder of a non-SHB block after its type
// bytes, validates the framing, and returns the body without the trailer.
func (r *Reader) readBlockBody() ([]byte, error) {
	var rawLen [4]byte
	if _, err := io.ReadFull(r.br, rawLen[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated block header at offset %d", ErrMalformed, r.read)
	}
	totalLen := r.order.Uint32(rawLen[:])
	if totalLen < 12 || totalLen%4 != 0 || totalLen > maxBlockLen {
		return nil, fmt.Errorf("%w: block at offset %d declares length %d", ErrMalformed, r.read, totalLen)
	}

	buf := make([]byte, totalLen-8)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated block body at offset %d", ErrMalformed, r.read)
	}
	body := buf[:len(buf)-4]
	if trailer := r.order.Uint32(buf[len(buf)-4:]); trailer != totalLen {
		return nil, fmt.Errorf("%w: block trailer %d does not match length %d at offset %d", ErrMalformed, trailer, totalLen, r.read)
	}

	r.read += int64(totalLen)
	return body, nil
}

// parseInterface registers an interface description block, extracting the
// timestamp resolution and offset options that drive timestamp math.
func (r *Reader) parseInterface(body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("%w: interface description too short", ErrMalformed)
	}

	resol := byte(6) // default: microseconds
	var tsOffset int64

	opts := body[8:]
	for len(opts) >= 4 {
		code := r.order.Uint16(opts[0:2])
		optLen := int(r.order.Uint16(opts[2:4]))
		opts = opts[4:]
		if code == optEndOfOptions {
			break
		}
		if optLen > len(opts) {
			return fmt.Errorf("%w: interface option overruns block", ErrMalformed)
		}
		switch code {
		case optTSResol:
			if optLen >= 1 {
				resol = opts[0]
			}
		case optTSOffset:
			if optLen >= 8 {
				tsOffset = int64(r.order.Uint64(opts[:8]))
			}
		}
		advance := pad4(optLen)
		if advance > len(opts) {
			advance = len(opts)
		}
		opts = opts[advance:]
	}

	r.ifaces = append(r.ifaces, iface{
		linkType:    r.order.Uint16(body[0:2]),
		snapLen:     r.order.Uint32(body[4:8]),
		ticksPerSec: ticksPerSecond(resol),
		tsOffset:    tsOffset,
	})
	return nil
}

// parsePacket decodes an enhanced packet block into a Frame. Packets that
// reference an unregistered interface are skipped with a warning, since
// their timestamps cannot be resolved; nil, nil signals such a skip.
func (r *Reader) parsePacket(body []byte) (*Frame, error) {
	if len(body) < 20 {
		return nil, fmt.Errorf("%w: packet block too short", ErrMalformed)
	}

	ifaceID := r.order.Uint32(body[0:4])
	tsHigh := r.order.Uint32(body[4:8])
	tsLow := r.order.Uint32(body[8:12])
	capLen := r.order.Uint32(body[12:16])
	wireLen := r.order.Uint32(body[16:20])

	if int(capLen) > len(body)-20 {
		return nil, fmt.Errorf("%w: packet data overruns block", ErrMalformed)
	}
	if int(ifaceID) >= len(r.ifaces) {
		log.Warn().Uint32("interface", ifaceID).Msg("packet references unknown interface; skipping")
		return nil, nil
	}

	in := r.ifaces[ifaceID]
	ticks := uint64(tsHigh)<<32 | uint64(tsLow)
	data := make([]byte, capLen)
	copy(data, body[20:20+capLen])

	return &Frame{
		Timestamp:  float64(in.tsOffset) + float64(ticks)/in.ticksPerSec,
		Data:       data,
		WireLength: wireLen,
		LinkType:   in.linkType,
		Interface:  int(ifaceID),
	}, nil
}

// parseNameRecords accumulates address-to-name mappings from a
// name-resolution block. Records are supplementary, so damage inside a
// well-framed block stops record parsing instead of failing the load.
func (r *Reader) parseNameRecords(body []byte) {
	rest := body
	for len(rest) >= 4 {
		recType := r.order.Uint16(rest[0:2])
		recLen := int(r.order.Uint16(rest[2:4]))
		rest = rest[4:]
		if recType == nrbRecordEnd {
			return
		}
		if recLen > len(rest) {
			log.Debug().Msg("name record overruns block; ignoring remainder")
			return
		}
		switch recType {
		case nrbRecordIPv4:
			r.addName(rest[:recLen], 4)
		case nrbRecordIPv6:
			r.addName(rest[:recLen], 16)
		}
		advance := pad4(recLen)
		if advance > len(rest) {
			advance = len(rest)
		}
		rest = rest[advance:]
	}
}

// addName records the first NUL-terminated name of one record, trimmed and
// deduplicated per address.
func (r *Reader) addName(value []byte, addrLen int) {
	if len(value) < addrLen+1 {
		return
	}
	var addr netip.Addr
	switch addrLen {
	case 4:
		addr = netip.AddrFrom4([4]byte(value[:4]))
	case 16:
		addr = netip.AddrFrom16([16]byte(value[:16]))
	default:
		return
	}

	name := value[addrLen:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	trimmed := strings.TrimSpace(string(name))
	if trimmed == "" {
		return
	}
	for _, existing := range r.names[addr] {
		if existing == trimmed {
			return
		}
	}
	r.names[addr] = append(r.names[addr], trimmed)
}

// ticksPerSecond converts an if_tsresol option byte into ticks per second:
// with the high bit set the low bits are a power of two, otherwise a power
// of ten.
func ticksPerSecond(resol byte) float64 {
	if resol&0x80 != 0 {
		return math.Pow(2, float64(resol&0x7F))
	}
	return math.Pow(10, float64(resol))
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

func isLegacyPcapMagic(raw []byte) bool {
	le := binary.LittleEndian.Uint32(raw)
	be := binary.BigEndian.Uint32(raw)
	return le == pcapMagicUsec || le == pcapMagicNsec || be == pcapMagicUsec || be == pcapMagicNsec
}
