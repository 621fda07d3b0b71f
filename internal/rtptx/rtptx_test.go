package rtptx

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func newLoopbackTransmitter(t *testing.T) (*Transmitter, *net.UDPConn) {
	t.Helper()
	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { recv.Close() })

	tx, err := New(recv.LocalAddr().(*net.UDPAddr), Unicast, 0, false, nil, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { tx.Close() })
	return tx, recv
}

func TestSendProducesValidRTPPacket(t *testing.T) {
	tx, recv := newLoopbackTransmitter(t)
	pcm := make([]byte, 8) // 2 stereo frames
	if err := tx.Send(pcm); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 2048)
	recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := recv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if pkt.Version != 2 {
		t.Fatalf("expected version 2, got %d", pkt.Version)
	}
	if pkt.PayloadType != PayloadTypeStereo {
		t.Fatalf("expected stereo payload type, got %d", pkt.PayloadType)
	}
	if !pkt.Marker {
		t.Fatal("expected marker bit set on first packet")
	}
}

func TestSecondPacketDoesNotSetMarker(t *testing.T) {
	tx, recv := newLoopbackTransmitter(t)
	pcm := make([]byte, 8)
	if err := tx.Send(pcm); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := tx.Send(pcm); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var last rtp.Packet
	buf := make([]byte, 2048)
	for i := 0; i < 2; i++ {
		recv.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := recv.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("ReadFromUDP: %v", err)
		}
		if err := last.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
	}
	if last.Marker {
		t.Fatal("expected marker bit clear on steady-state packet")
	}
}

func TestErrorBudgetGoesFatalAfterTenFailures(t *testing.T) {
	tx, recv := newLoopbackTransmitter(t)
	recv.Close() // force every subsequent write to fail... not guaranteed on all platforms,
	// so drive the counters directly instead of relying on OS write failures.
	for i := 0; i < 9; i++ {
		tx.recordFailure()
	}
	if tx.Fatal() {
		t.Fatal("should not be fatal at 9 failures")
	}
	tx.recordFailure()
	if !tx.Fatal() {
		t.Fatal("should be fatal at 10 consecutive failures")
	}
	tx.recordSuccess()
	if tx.Fatal() {
		t.Fatal("a success should roll the counter back under threshold")
	}
}

func TestBehindBeforeFirstSend(t *testing.T) {
	tx, _ := newLoopbackTransmitter(t)
	if !tx.Behind() {
		t.Fatal("expected Behind() true before any Send")
	}
}
