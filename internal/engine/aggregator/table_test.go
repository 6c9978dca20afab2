package aggregator

import (
	"net/netip"
	"testing"

	"flowlens/internal/core/model"
)

func tcpCtx(src string, srcPort uint16, dst string, dstPort uint16, syn, ack bool) *model.PacketContext {
	return &model.PacketContext{
		SrcAddr:  netip.MustParseAddr(src),
		DstAddr:  netip.MustParseAddr(dst),
		SrcPort:  srcPort,
		DstPort:  dstPort,
		HasPorts: true,
		Proto:    model.ProtocolTCP,
		SYN:      syn,
		ACK:      ack,
	}
}

func packet(ts float64, length uint32, ctx *model.PacketContext) *model.Packet {
	return model.NewPacket(ts, length, nil, ctx)
}

func TestHandshakeFormsSingleFlow(t *testing.T) {
	const (
		a = "198.51.100.5" // server, port 443
		b = "203.0.113.9"  // client, port 52344
	)
	table := NewTable()

	steps := []struct {
		ts     float64
		length uint32
		ctx    *model.PacketContext
	}{
		{1.0, 60, tcpCtx(b, 52344, a, 443, true, false)},  // SYN
		{1.1, 60, tcpCtx(a, 443, b, 52344, false, true)},  // SYN-ACK
		{1.2, 54, tcpCtx(b, 52344, a, 443, false, true)},  // ACK
		{1.3, 200, tcpCtx(b, 52344, a, 443, false, true)}, // payload
	}
	for _, s := range steps {
		table.Add(packet(s.ts, s.length, s.ctx), s.ctx)
	}

	if table.Len() != 1 {
		t.Fatalf("flow count = %d, want 1", table.Len())
	}
	if table.PacketCount() != 4 {
		t.Errorf("packet count = %d, want 4", table.PacketCount())
	}

	var flow *model.Flow
	for _, f := range table.Flows() {
		flow = f
	}
	if got, want := flow.Source.String(), b+":52344"; got != want {
		t.Errorf("source = %s, want %s", got, want)
	}
	if got, want := flow.Destination.String(), a+":443"; got != want {
		t.Errorf("destination = %s, want %s", got, want)
	}
	if len(flow.Packets) != 4 {
		t.Errorf("flow packets = %d, want 4", len(flow.Packets))
	}
	if got, want := flow.TotalBytes(), uint64(60+60+54+200); got != want {
		t.Errorf("total bytes = %d, want %d", got, want)
	}
	if flow.FirstSeen != 1.0 {
		t.Errorf("first seen = %v, want 1.0", flow.FirstSeen)
	}
	if start, ok := table.StartTime(); !ok || start != 1.0 {
		t.Errorf("start time = %v, %v, want 1.0, true", start, ok)
	}
}

func TestCanonicalKeyMergesDirections(t *testing.T) {
	table := NewTable()
	forward := tcpCtx("10.0.0.1", 1234, "10.0.0.2", 80, false, true)
	reverse := tcpCtx("10.0.0.2", 80, "10.0.0.1", 1234, false, true)

	table.Add(packet(1.0, 100, forward), forward)
	table.Add(packet(2.0, 100, reverse), reverse)

	if table.Len() != 1 {
		t.Fatalf("flow count = %d, want 1", table.Len())
	}
	for _, f := range table.Flows() {
		if got := f.Source.String(); got != "10.0.0.1:1234" {
			t.Errorf("source = %s, want first sender 10.0.0.1:1234", got)
		}
		if len(f.Packets) != 2 {
			t.Errorf("flow packets = %d, want 2", len(f.Packets))
		}
	}
}

func TestDirectionFrozenAfterCreation(t *testing.T) {
	table := NewTable()

	// Capture joined mid-handshake: the server's SYN-ACK creates the
	// flow, then the client's retransmitted SYN arrives.
	synAck := tcpCtx("10.0.0.2", 80, "10.0.0.1", 1234, false, true)
	lateSyn := tcpCtx("10.0.0.1", 1234, "10.0.0.2", 80, true, false)

	table.Add(packet(1.0, 60, synAck), synAck)
	table.Add(packet(1.5, 60, lateSyn), lateSyn)

	if table.Len() != 1 {
		t.Fatalf("flow count = %d, want 1", table.Len())
	}
	for _, f := range table.Flows() {
		if got := f.Source.String(); got != "10.0.0.2:80" {
			t.Errorf("source = %s, want creation sender 10.0.0.2:80", got)
		}
	}
}

func TestProtocolSplitsFlows(t *testing.T) {
	table := NewTable()
	tcp := tcpCtx("10.0.0.1", 5000, "10.0.0.2", 53, false, false)
	udp := &model.PacketContext{
		SrcAddr:  netip.MustParseAddr("10.0.0.1"),
		DstAddr:  netip.MustParseAddr("10.0.0.2"),
		SrcPort:  5000,
		DstPort:  53,
		HasPorts: true,
		Proto:    model.ProtocolUDP,
	}

	table.Add(packet(1.0, 80, tcp), tcp)
	table.Add(packet(1.1, 80, udp), udp)

	if table.Len() != 2 {
		t.Errorf("flow count = %d, want 2", table.Len())
	}
}

func TestPlaceholderCollectsUnattributable(t *testing.T) {
	table := NewTable()
	blank := &model.PacketContext{}

	table.Add(packet(1.0, 10, blank), blank)
	table.Add(packet(1.1, 12, blank), blank)
	table.Add(packet(1.2, 14, blank), blank)
	known := tcpCtx("10.0.0.1", 1, "10.0.0.2", 2, false, false)
	table.Add(packet(1.3, 100, known), known)

	if table.Len() != 2 {
		t.Fatalf("flow count = %d, want 2", table.Len())
	}
	if table.PacketCount() != 4 {
		t.Errorf("packet count = %d, want 4", table.PacketCount())
	}

	bucket := table.Flows()[model.PlaceholderKey()]
	if bucket == nil {
		t.Fatal("placeholder flow missing")
	}
	if len(bucket.Packets) != 3 {
		t.Errorf("placeholder packets = %d, want 3", len(bucket.Packets))
	}
	if got := bucket.Source.String(); got != "-" {
		t.Errorf("placeholder source = %s, want -", got)
	}
	if bucket.Proto != model.ProtocolUnknown {
		t.Errorf("placeholder proto = %v, want unknown", bucket.Proto)
	}
}

func TestStartTimeTracksEarliest(t *testing.T) {
	table := NewTable()
	if _, ok := table.StartTime(); ok {
		t.Fatal("empty table reports a start time")
	}

	ctx := tcpCtx("10.0.0.1", 1, "10.0.0.2", 2, false, false)
	for _, ts := range []float64{5.0, 3.0, 4.0} {
		table.Add(packet(ts, 60, ctx), ctx)
	}
	if start, ok := table.StartTime(); !ok || start != 3.0 {
		t.Errorf("start time = %v, %v, want 3.0, true", start, ok)
	}
}

func TestResultTransfersOwnership(t *testing.T) {
	table := NewTable()
	ctx := tcpCtx("10.0.0.1", 1, "10.0.0.2", 2, false, false)
	table.Add(packet(1.0, 60, ctx), ctx)

	flows := table.Result()
	if len(flows) != 1 {
		t.Fatalf("result flows = %d, want 1", len(flows))
	}
	if table.Len() != 0 || table.PacketCount() != 0 {
		t.Errorf("table not reset: len=%d packets=%d", table.Len(), table.PacketCount())
	}
	if _, ok := table.StartTime(); ok {
		t.Error("reset table reports a start time")
	}

	// Feeding again must not touch the transferred map.
	table.Add(packet(2.0, 60, ctx), ctx)
	for _, f := range flows {
		if len(f.Packets) != 1 {
			t.Errorf("transferred flow packets = %d, want 1", len(f.Packets))
		}
	}
}

func TestAppendPreservesEmissionOrder(t *testing.T) {
	table := NewTable()
	forward := tcpCtx("10.0.0.1", 1234, "10.0.0.2", 80, false, true)
	reverse := tcpCtx("10.0.0.2", 80, "10.0.0.1", 1234, false, true)

	for i := 0; i < 10; i++ {
		ctx := forward
		if i%2 == 1 {
			ctx = reverse
		}
		table.Add(packet(float64(i), 60, ctx), ctx)
	}

	for _, f := range table.Flows() {
		for i, p := range f.Packets {
			if p.Timestamp != float64(i) {
				t.Fatalf("packet %d timestamp = %v, want %d", i, p.Timestamp, i)
			}
		}
	}
}
