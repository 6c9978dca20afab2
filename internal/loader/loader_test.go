package loader

import (
	"errors"
	"math"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"flowlens/internal/core/model"
	"flowlens/internal/engine/decoder"
	"flowlens/pkg/pcapng"
)

const captureBase = 1700000000 // seconds, timestamp of the first test frame

func writeCapture(t *testing.T, linkType layers.LinkType, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcapng")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	w, err := pcapgo.NewNgWriter(f, linkType)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	base := time.Unix(captureBase, 0)
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * 100 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func tcpFrame(t *testing.T, srcIP string, srcPort uint16, dstIP string, dstPort uint16, syn, ack bool, payload []byte) []byte {
	t.Helper()
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	tcp := layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		SYN:     syn,
		ACK:     ack,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
		t.Fatalf("set network layer: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

// handshakeFrames is a four-frame TCP conversation: SYN, SYN-ACK, ACK,
// then one payload segment, opened by 203.0.113.9:52344.
func handshakeFrames(t *testing.T) [][]byte {
	t.Helper()
	const (
		server = "198.51.100.5"
		client = "203.0.113.9"
	)
	return [][]byte{
		tcpFrame(t, client, 52344, server, 443, true, false, nil),
		tcpFrame(t, server, 443, client, 52344, true, true, nil),
		tcpFrame(t, client, 52344, server, 443, false, true, nil),
		tcpFrame(t, client, 52344, server, 443, false, true, []byte("hello over tcp")),
	}
}

func pollUntilTerminal(t *testing.T, c *Controller) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := c.Poll()
		if st.State == StateLoaded || st.State == StateError {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("load did not reach a terminal state in time")
	return Status{}
}

func TestLoadHandshakeCapture(t *testing.T) {
	path := writeCapture(t, layers.LinkTypeEthernet, handshakeFrames(t)...)
	c := StartLoad(path)

	st := pollUntilTerminal(t, c)
	if st.State != StateLoaded {
		t.Fatalf("state = %v, want loaded (err: %v)", st.State, st.Err)
	}
	if st.Result == nil {
		t.Fatal("loaded status carries no result")
	}
	if len(st.Result.Flows) != 1 {
		t.Fatalf("flows = %d, want 1", len(st.Result.Flows))
	}
	if st.Result.Packets != 4 {
		t.Errorf("packets = %d, want 4", st.Result.Packets)
	}
	if !st.Result.HasStart {
		t.Error("HasStart = false, want true")
	}
	if math.Abs(st.Result.StartTime-captureBase) > 0.001 {
		t.Errorf("start time = %v, want about %d", st.Result.StartTime, captureBase)
	}
	if st.Result.Names == nil {
		t.Error("names map is nil")
	}

	for _, flow := range st.Result.Flows {
		if got := flow.Source.String(); got != "203.0.113.9:52344" {
			t.Errorf("source = %s, want 203.0.113.9:52344", got)
		}
		if got := flow.Destination.String(); got != "198.51.100.5:443" {
			t.Errorf("destination = %s, want 198.51.100.5:443", got)
		}
		if len(flow.Packets) != 4 {
			t.Errorf("flow packets = %d, want 4", len(flow.Packets))
		}
	}

	if st := c.Poll(); st.State != StateIdle {
		t.Errorf("state after terminal = %v, want idle", st.State)
	}
}

func TestLoadRuntFrameLandsInPlaceholder(t *testing.T) {
	runt := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}
	path := writeCapture(t, layers.LinkTypeEthernet, runt)
	c := StartLoad(path)

	st := pollUntilTerminal(t, c)
	if st.State != StateLoaded {
		t.Fatalf("state = %v, want loaded (err: %v)", st.State, st.Err)
	}
	flow, ok := st.Result.Flows[model.PlaceholderKey()]
	if !ok {
		t.Fatal("placeholder flow missing")
	}
	if len(flow.Packets) != 1 {
		t.Fatalf("placeholder packets = %d, want 1", len(flow.Packets))
	}
	pkt := flow.Packets[0]
	if pkt.Length != 10 || len(pkt.Data) != 10 {
		t.Errorf("packet length = %d, data = %d bytes, want 10 and 10", pkt.Length, len(pkt.Data))
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcapng")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	st := pollUntilTerminal(t, StartLoad(path))
	if st.State != StateLoaded {
		t.Fatalf("state = %v, want loaded (err: %v)", st.State, st.Err)
	}
	if len(st.Result.Flows) != 0 {
		t.Errorf("flows = %d, want 0", len(st.Result.Flows))
	}
	if st.Result.HasStart {
		t.Error("HasStart = true, want false")
	}
	if st.Result.Packets != 0 {
		t.Errorf("packets = %d, want 0", st.Result.Packets)
	}
}

func TestLoadMissingFile(t *testing.T) {
	st := pollUntilTerminal(t, StartLoad(filepath.Join(t.TempDir(), "no-such.pcapng")))
	if st.State != StateError {
		t.Fatalf("state = %v, want error", st.State)
	}
	if st.Err == nil {
		t.Fatal("error status carries no error")
	}
	if st.Result != nil {
		t.Error("error status carries a result")
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	// A legacy pcap header, not pcapng.
	legacy := append([]byte{0xD4, 0xC3, 0xB2, 0xA1}, make([]byte, 20)...)
	path := filepath.Join(t.TempDir(), "legacy.pcap")
	if err := os.WriteFile(path, legacy, 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}

	st := pollUntilTerminal(t, StartLoad(path))
	if st.State != StateError {
		t.Fatalf("state = %v, want error", st.State)
	}
	if !errors.Is(st.Err, pcapng.ErrUnsupportedVersion) {
		t.Errorf("err = %v, want ErrUnsupportedVersion", st.Err)
	}
}

func TestLoadCorruptCapture(t *testing.T) {
	path := writeCapture(t, layers.LinkTypeEthernet, handshakeFrames(t)...)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-6], 0o644); err != nil {
		t.Fatalf("truncate capture: %v", err)
	}

	st := pollUntilTerminal(t, StartLoad(path))
	if st.State != StateError {
		t.Fatalf("state = %v, want error", st.State)
	}
	if !errors.Is(st.Err, pcapng.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", st.Err)
	}
}

func TestPollBeforeStart(t *testing.T) {
	c := NewController(nil)
	for i := 0; i < 3; i++ {
		if st := c.Poll(); st.State != StateIdle {
			t.Fatalf("poll %d state = %v, want idle", i, st.State)
		}
	}
}

func TestTerminalStatusReturnedOnce(t *testing.T) {
	path := writeCapture(t, layers.LinkTypeEthernet, handshakeFrames(t)...)
	c := StartLoad(path)

	if st := pollUntilTerminal(t, c); st.State != StateLoaded {
		t.Fatalf("state = %v, want loaded", st.State)
	}
	for i := 0; i < 10; i++ {
		if st := c.Poll(); st.State != StateIdle {
			t.Fatalf("poll %d after terminal = %v, want idle", i, st.State)
		}
	}
}

// gateDecoder blocks every decode until release is closed, pinning the
// worker mid-load for lifecycle tests.
type gateDecoder struct {
	release chan struct{}
}

func (d gateDecoder) Decode(_ []byte, _ *model.PacketContext) (decoder.Kind, []byte, error) {
	<-d.release
	return decoder.KindNone, nil, nil
}

func gatedController(t *testing.T) (*Controller, string, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	reg := decoder.NewRegistry()
	reg.Register(decoder.KindEthernet, gateDecoder{release: release})
	path := writeCapture(t, layers.LinkTypeEthernet, handshakeFrames(t)...)
	return NewController(reg), path, release
}

func TestStartWhileRunning(t *testing.T) {
	c, path, release := gatedController(t)
	if err := c.Start(path); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := c.Start(path); !errors.Is(err, ErrAlreadyLoading) {
		t.Errorf("second start err = %v, want ErrAlreadyLoading", err)
	}
	if st := c.Poll(); st.State != StateRunning {
		t.Errorf("state = %v, want running", st.State)
	}

	close(release)
	if st := pollUntilTerminal(t, c); st.State != StateLoaded {
		t.Fatalf("state = %v, want loaded (err: %v)", st.State, st.Err)
	}

	// The controller is free again after the terminal status.
	if err := c.Start(path); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if st := pollUntilTerminal(t, c); st.State != StateLoaded {
		t.Fatalf("state after restart = %v, want loaded", st.State)
	}
}

func TestCancelReturnsToIdle(t *testing.T) {
	c, path, release := gatedController(t)
	if err := c.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := c.Poll(); st.State != StateRunning {
		t.Fatalf("state = %v, want running", st.State)
	}

	c.Cancel()
	if st := c.Poll(); st.State != StateIdle {
		t.Fatalf("state after cancel = %v, want idle", st.State)
	}

	// Let the canceled worker run to completion; nothing it publishes
	// may surface.
	close(release)
	time.Sleep(30 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if st := c.Poll(); st.State != StateIdle {
			t.Fatalf("poll %d after cancel = %v, want idle", i, st.State)
		}
	}

	if err := c.Start(path); err != nil {
		t.Fatalf("start after cancel: %v", err)
	}
	if st := pollUntilTerminal(t, c); st.State != StateLoaded {
		t.Fatalf("state = %v, want loaded (err: %v)", st.State, st.Err)
	}
}

// slowDecoder spreads a load out in time so polls observe progress.
type slowDecoder struct{}

func (slowDecoder) Decode(_ []byte, _ *model.PacketContext) (decoder.Kind, []byte, error) {
	time.Sleep(time.Millisecond)
	return decoder.KindNone, nil, nil
}

func TestProgressIsMonotonic(t *testing.T) {
	frames := make([][]byte, 100)
	for i := range frames {
		frames[i] = make([]byte, 64)
	}
	path := writeCapture(t, layers.LinkTypeEthernet, frames...)

	reg := decoder.NewRegistry()
	reg.Register(decoder.KindEthernet, slowDecoder{})
	c := NewController(reg)
	if err := c.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}

	last := 0.0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := c.Poll()
		if st.State == StateRunning {
			if st.Progress < last {
				t.Fatalf("progress went backwards: %v after %v", st.Progress, last)
			}
			if st.Progress < 0 || st.Progress > 1 {
				t.Fatalf("progress %v out of range", st.Progress)
			}
			last = st.Progress
			time.Sleep(time.Millisecond)
			continue
		}
		if st.State == StateLoaded {
			if st.Progress != 1 {
				t.Errorf("terminal progress = %v, want 1", st.Progress)
			}
			if st.Result.Packets != len(frames) {
				t.Errorf("packets = %d, want %d", st.Result.Packets, len(frames))
			}
			return
		}
		t.Fatalf("unexpected state %v (err: %v)", st.State, st.Err)
	}
	t.Fatal("load did not finish in time")
}

func TestLoadYieldsUnknownLinkTypes(t *testing.T) {
	// Raw IP link type: no root decoder, so every frame lands in the
	// placeholder flow rather than being dropped.
	frames := [][]byte{make([]byte, 40), make([]byte, 60)}
	path := writeCapture(t, layers.LinkTypeRaw, frames...)

	st := pollUntilTerminal(t, StartLoad(path))
	if st.State != StateLoaded {
		t.Fatalf("state = %v, want loaded (err: %v)", st.State, st.Err)
	}
	if st.Result.Packets != 2 {
		t.Errorf("packets = %d, want 2", st.Result.Packets)
	}
	flow, ok := st.Result.Flows[model.PlaceholderKey()]
	if !ok {
		t.Fatal("placeholder flow missing")
	}
	if len(flow.Packets) != 2 {
		t.Errorf("placeholder packets = %d, want 2", len(flow.Packets))
	}
}

func TestReloadSameCaptureIsDeterministic(t *testing.T) {
	path := writeCapture(t, layers.LinkTypeEthernet, handshakeFrames(t)...)
	c := NewController(nil)

	for round := 0; round < 2; round++ {
		if err := c.Start(path); err != nil {
			t.Fatalf("round %d start: %v", round, err)
		}
		st := pollUntilTerminal(t, c)
		if st.State != StateLoaded {
			t.Fatalf("round %d state = %v, want loaded (err: %v)", round, st.State, st.Err)
		}
		if len(st.Result.Flows) != 1 || st.Result.Packets != 4 {
			t.Errorf("round %d flows = %d packets = %d, want 1 and 4",
				round, len(st.Result.Flows), st.Result.Packets)
		}
	}
}
