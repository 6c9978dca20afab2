// Command pcapgen writes a synthetic pcapng capture of TCP, TLS and UDP
// conversations for exercising the loader and the UIs.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	tlsHandshake       = 22
	tlsApplicationData = 23
)

func main() {
	outputFile := flag.String("o", "test.pcapng", "Output pcapng file path")
	conversations := flag.Int("c", 20, "Number of conversations to generate")
	seed := flag.Int64("seed", 0, "Random seed (0 seeds from the clock)")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	ng, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	if err != nil {
		log.Fatalf("Failed to create pcapng writer: %v", err)
	}

	g := &generator{
		ng:  ng,
		ts:  time.Now().Add(-time.Hour),
		rng: rand.New(rand.NewSource(*seed)),
	}

	log.Printf("Generating %d conversations into %s...", *conversations, *outputFile)

	packets := 0
	for i := 0; i < *conversations; i++ {
		if g.rng.Intn(4) == 0 {
			packets += g.udpExchange()
		} else {
			packets += g.tcpConversation()
		}
	}

	if err := ng.Flush(); err != nil {
		log.Fatalf("Failed to flush output: %v", err)
	}

	log.Printf("Successfully generated %d packets into %s.", packets, *outputFile)
}

type generator struct {
	ng  *pcapgo.NgWriter
	ts  time.Time
	rng *rand.Rand
}

// step advances the capture clock so every frame carries a distinct,
// strictly increasing timestamp.
func (g *generator) step() time.Time {
	g.ts = g.ts.Add(time.Duration(g.rng.Intn(900)+100) * time.Microsecond)
	return g.ts
}

func (g *generator) hosts() (client, server net.IP) {
	client = net.IP{10, 0, byte(g.rng.Intn(256)), byte(g.rng.Intn(254) + 1)}
	server = net.IP{192, 0, 2, byte(g.rng.Intn(254) + 1)}
	return client, server
}

func (g *generator) writeFrame(data []byte) {
	ci := gopacket.CaptureInfo{
		Timestamp:     g.step(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := g.ng.WritePacket(ci, data); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
}

// tcpConversation emits a full handshake, a few payload exchanges and a
// FIN teardown. Port 443 conversations carry TLS-shaped payloads.
func (g *generator) tcpConversation() int {
	clientIP, serverIP := g.hosts()
	clientPort := layers.TCPPort(g.rng.Intn(65535-1024) + 1024)
	serverPorts := []layers.TCPPort{443, 443, 8080, 80}
	serverPort := serverPorts[g.rng.Intn(len(serverPorts))]

	clientSeq := g.rng.Uint32()
	serverSeq := g.rng.Uint32()

	frames := 0
	send := func(fromClient bool, syn, ack, fin bool, payload []byte) {
		srcIP, dstIP := clientIP, serverIP
		srcPort, dstPort := clientPort, serverPort
		seq, ackNum := clientSeq, serverSeq
		if !fromClient {
			srcIP, dstIP = serverIP, clientIP
			srcPort, dstPort = serverPort, clientPort
			seq, ackNum = serverSeq, clientSeq
		}

		g.writeFrame(g.tcpFrame(srcIP, dstIP, srcPort, dstPort, seq, ackNum, syn, ack, fin, payload))
		frames++

		advance := uint32(len(payload))
		if syn || fin {
			advance++
		}
		if fromClient {
			clientSeq += advance
		} else {
			serverSeq += advance
		}
	}

	send(true, true, false, false, nil)
	send(false, true, true, false, nil)
	send(true, false, true, false, nil)

	exchanges := g.rng.Intn(3) + 1
	for i := 0; i < exchanges; i++ {
		switch {
		case serverPort == 443 && i == 0:
			send(true, false, true, false, g.tlsRecord(tlsHandshake, 1, g.rng.Intn(200)+60))  // Client Hello
			send(false, false, true, false, g.tlsRecord(tlsHandshake, 2, g.rng.Intn(600)+60)) // Server Hello
		case serverPort == 443:
			send(true, false, true, false, g.tlsRecord(tlsApplicationData, 0, g.rng.Intn(400)+40))
			send(false, false, true, false, g.tlsRecord(tlsApplicationData, 0, g.rng.Intn(1000)+40))
		default:
			send(true, false, true, false, g.payload(g.rng.Intn(400)+40))
			send(false, false, true, false, g.payload(g.rng.Intn(1000)+40))
		}
	}

	send(true, false, true, true, nil)
	send(false, false, true, true, nil)
	send(true, false, true, false, nil)

	return frames
}

// udpExchange emits a query/response pair against port 53.
func (g *generator) udpExchange() int {
	clientIP, serverIP := g.hosts()
	clientPort := layers.UDPPort(g.rng.Intn(65535-1024) + 1024)

	g.writeFrame(g.udpFrame(clientIP, serverIP, clientPort, 53, g.payload(g.rng.Intn(40)+20)))
	g.writeFrame(g.udpFrame(serverIP, clientIP, 53, clientPort, g.payload(g.rng.Intn(160)+40)))
	return 2
}

func (g *generator) payload(size int) []byte {
	data := make([]byte, size)
	g.rng.Read(data)
	return data
}

// tlsRecord builds one complete record: content type, version 1.2, big
// endian length, body. Handshake bodies start with the handshake type.
func (g *generator) tlsRecord(contentType, handshakeType byte, size int) []byte {
	body := make([]byte, size)
	g.rng.Read(body)
	if contentType == tlsHandshake && size > 0 {
		body[0] = handshakeType
	}
	rec := make([]byte, 0, 5+size)
	rec = append(rec, contentType, 3, 3, byte(size>>8), byte(size))
	return append(rec, body...)
}

func (g *generator) tcpFrame(srcIP, dstIP net.IP, srcPort, dstPort layers.TCPPort, seq, ack uint32, syn, ackFlag, fin bool, payload []byte) []byte {
	ethLayer := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		SrcIP:    srcIP,
		DstIP:    dstIP,
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
	}
	tcpLayer := &layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     seq,
		Ack:     ack,
		SYN:     syn,
		ACK:     ackFlag,
		FIN:     fin,
		Window:  14600,
	}
	tcpLayer.SetNetworkLayerForChecksum(ipLayer)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, tcpLayer, gopacket.Payload(payload)); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}
	return buf.Bytes()
}

func (g *generator) udpFrame(srcIP, dstIP net.IP, srcPort, dstPort layers.UDPPort, payload []byte) []byte {
	ethLayer := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		SrcIP:    srcIP,
		DstIP:    dstIP,
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
	}
	udpLayer := &layers.UDP{
		SrcPort: srcPort,
		DstPort: dstPort,
	}
	udpLayer.SetNetworkLayerForChecksum(ipLayer)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, udpLayer, gopacket.Payload(payload)); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}
	return buf.Bytes()
}
