// Package rtptx implements the RTP transmitter (spec.md §4.4): it
// packetizes decoded PCM using github.com/pion/rtp for header
// encode/decode (carried from the iamprashant-voice-ai example, which
// already depends on it for RTP packetization) instead of hand-rolled
// byte-packing, wrapped around the timestamp-repair, ahead-of-wall-clock
// scheduling, and error-budget logic spec.md §4.4 specifies.
package rtptx

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/pion/rtp"

	"github.com/crazyscot/disorder/internal/logger"
)

// Sample rate/channel constants for the one format this transmitter
// carries: 44.1kHz 16-bit PCM, mono or stereo (spec.md §4.4).
const (
	SampleRate     = 44100
	PayloadTypeStereo = 10
	PayloadTypeMono   = 11
	BytesPerSample    = 2
)

// MaxPayload bounds per-packet payload size (spec.md §4.4 default 1444 =
// 1500 - UDP - IP - margin).
const MaxPayload = 1444

// AheadTarget is how far ahead of wall-clock the transmitter tries to stay
// (spec.md §4.4 "RTP_AHEAD_MS ≈ 1s").
const AheadTarget = 1 * time.Second

// MaxConsecutiveErrors is the error-budget fatal threshold (spec.md §4.4).
const MaxConsecutiveErrors = 10

// sndBufSize is the SO_SNDBUF enlargement target (spec.md §4.4).
const sndBufSize = 128 * 1024

// Addressing describes how outbound packets are sent.
type Addressing int

const (
	Unicast Addressing = iota
	Broadcast
	Multicast
)

// Transmitter maintains the RTP session state and sends packetized PCM to
// one or more UDP destinations.
type Transmitter struct {
	conn    *net.UDPConn
	stereo  bool
	ssrc    uint32
	baseSeq uint16
	seq     uint16

	// rtpTime is the 64-bit running sample counter (spec.md §4.4 keeps it
	// 64-bit internally to avoid wraparound ambiguity over long sessions).
	rtpTime    uint64
	tsOffset   uint32
	lastSend   time.Time
	idleSince  time.Time
	wasIdle    bool
	markNext   bool

	recipients map[string]*net.UDPAddr
	errorCount int
}

// New opens a UDP socket for dest using addressing to decide socket
// options (SO_BROADCAST for a matching broadcast interface, multicast TTL/
// loopback for a multicast group, plain unicast otherwise), grounded on
// spec.md §4.4 "Addressing modes". source, if non-nil, binds the socket
// locally before any implicit connect.
func New(dest *net.UDPAddr, addressing Addressing, ttl int, loopback bool, source *net.UDPAddr, stereo bool) (*Transmitter, error) {
	conn, err := net.ListenUDP("udp", source)
	if err != nil {
		return nil, fmt.Errorf("rtptx: listen: %w", err)
	}
	if err := conn.SetWriteBuffer(sndBufSize); err != nil {
		logger.Logger().Warn("rtptx: could not enlarge SO_SNDBUF", "err", err)
	}

	t := &Transmitter{
		conn:       conn,
		stereo:     stereo,
		recipients: make(map[string]*net.UDPAddr),
		markNext:   true,
		idleSince:  time.Now(),
		wasIdle:    true,
	}
	if err := t.initRandomState(); err != nil {
		conn.Close()
		return nil, err
	}

	switch addressing {
	case Multicast:
		if err := setMulticastOptions(conn, ttl, loopback); err != nil {
			logger.Logger().Warn("rtptx: could not set multicast options", "err", err)
		}
	case Broadcast:
		if err := setBroadcast(conn); err != nil {
			logger.Logger().Warn("rtptx: could not enable SO_BROADCAST", "err", err)
		}
	}

	if dest != nil {
		t.recipients[dest.String()] = dest
	}
	return t, nil
}

func (t *Transmitter) initRandomState() error {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Errorf("rtptx: seeding random state: %w", err)
	}
	t.ssrc = binary.BigEndian.Uint32(buf[0:4])
	t.baseSeq = binary.BigEndian.Uint16(buf[4:6])
	t.seq = t.baseSeq
	t.tsOffset = binary.BigEndian.Uint32(buf[8:12])
	return nil
}

// AddRecipient registers addr as a unicast recipient (spec.md §4.4
// `rtp-request`).
func (t *Transmitter) AddRecipient(addr *net.UDPAddr) {
	t.recipients[addr.String()] = addr
}

// RemoveRecipient drops addr (spec.md §4.4 `rtp-cancel` or connection
// close).
func (t *Transmitter) RemoveRecipient(addr *net.UDPAddr) {
	delete(t.recipients, addr.String())
}

func (t *Transmitter) payloadType() uint8 {
	if t.stereo {
		return PayloadTypeStereo
	}
	return PayloadTypeMono
}

func (t *Transmitter) channels() int {
	if t.stereo {
		return 2
	}
	return 1
}

// repairTimestamp advances rtpTime to reflect real elapsed time across an
// idle gap (spec.md §4.4 "Timestamp repair across gaps"). Call once when
// resuming playback after idleness, before the first Send.
func (t *Transmitter) repairTimestamp(now time.Time) {
	if !t.wasIdle {
		return
	}
	elapsedMicros := now.Sub(t.idleSince).Microseconds()
	target := uint64(elapsedMicros) * uint64(SampleRate) * uint64(t.channels()) / 1_000_000
	if t.channels() == 2 && target%2 != 0 {
		target++
	}
	if target > t.rtpTime {
		t.rtpTime = target
	} else if t.rtpTime-target > uint64(AheadTarget.Milliseconds())*uint64(SampleRate)*uint64(t.channels())/1000 {
		logger.Logger().Warn("rtptx: timestamp would move backward across resume; holding", "delta", t.rtpTime-target)
	}
	t.wasIdle = false
	t.markNext = true
}

// MarkIdle records that the transmitter has gone idle (no playing track);
// the next Send will repair the timestamp gap.
func (t *Transmitter) MarkIdle() {
	t.wasIdle = true
}

// Send packetizes pcm (raw interleaved 16-bit samples) into one or more
// RTP packets bounded by MaxPayload, each containing a whole number of
// frames, and transmits them to every registered recipient.
func (t *Transmitter) Send(pcm []byte) error {
	now := time.Now()
	t.repairTimestamp(now)

	frameSize := BytesPerSample * t.channels()
	maxBytes := (MaxPayload / frameSize) * frameSize
	if maxBytes == 0 {
		return fmt.Errorf("rtptx: frame size %d exceeds MaxPayload", frameSize)
	}

	for off := 0; off < len(pcm); off += maxBytes {
		end := off + maxBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := pcm[off:end]
		if err := t.sendPacket(chunk); err != nil {
			t.recordFailure()
			return err
		}
		t.recordSuccess()
		samples := len(chunk) / BytesPerSample
		t.rtpTime += uint64(samples)
	}
	t.lastSend = now
	return nil
}

func (t *Transmitter) sendPacket(payload []byte) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         t.markNext,
			PayloadType:    t.payloadType(),
			SequenceNumber: t.seq,
			Timestamp:      uint32(t.rtpTime) + t.tsOffset,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}
	t.markNext = false
	t.seq++

	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtptx: marshal packet: %w", err)
	}
	var firstErr error
	for _, addr := range t.recipients {
		if _, err := t.conn.WriteToUDP(buf, addr); err != nil {
			firstErr = err
		}
	}
	return firstErr
}

// recordFailure/recordSuccess implement the error budget (spec.md §4.4):
// each failure increments the counter, each success halves it, and 10
// consecutive failures is fatal — checked via Fatal().
func (t *Transmitter) recordFailure() { t.errorCount++ }
func (t *Transmitter) recordSuccess() { t.errorCount /= 2 }

// Fatal reports whether the error budget has been exhausted.
func (t *Transmitter) Fatal() bool { return t.errorCount >= MaxConsecutiveErrors }

// Behind reports whether the transmitter has fallen behind its
// stay-ahead-of-wall-clock target and should be polled again soon (spec.md
// §4.4 "Scheduling").
func (t *Transmitter) Behind() bool {
	if t.lastSend.IsZero() {
		return true
	}
	return time.Since(t.lastSend) >= AheadTarget
}

// Close releases the underlying socket.
func (t *Transmitter) Close() error { return t.conn.Close() }

// LocalAddr returns the UDP address packets are sent from, so a client
// asking "rtp-address" can learn where to expect them from (useful behind
// NAT/multihomed hosts where the configured destination doesn't imply it).
func (t *Transmitter) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}
