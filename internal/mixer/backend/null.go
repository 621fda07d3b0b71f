// Package backend ships the mixer.Backend implementations: null (discard,
// used in tests/CI), command (pipe PCM to a configured shell command), and
// rtp (delegate to the RTP transmitter).
package backend

import "time"

// Null discards every frame offered to it. Used as the default backend in
// tests and in CI where no real sink (this module has no ALSA/OSS/CoreAudio
// backend) or RTP destination is configured.
type Null struct {
	active bool
}

func NewNull() *Null { return &Null{} }

func (n *Null) Init() error     { return nil }
func (n *Null) Activate() error { n.active = true; return nil }
func (n *Null) Play(pcm []byte) (int, error) {
	if len(pcm) == 0 {
		return 0, nil
	}
	return len(pcm) / BytesPerFrame, nil
}
func (n *Null) Deactivate() error            { n.active = false; return nil }
func (n *Null) BeforePoll() *time.Duration   { return nil }
func (n *Null) Ready() bool                  { return n.active }

// BytesPerFrame mirrors mixer.BytesPerFrame; duplicated as an untyped
// constant here so this package has no import-cycle risk back to mixer
// (mixer imports backend implementations from cmd/disorderd, not the
// reverse).
const BytesPerFrame = 4
