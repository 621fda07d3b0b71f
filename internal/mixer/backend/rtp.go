package backend

import "time"

// transmitter is the slice of rtptx.Transmitter this backend needs,
// expressed as an interface so mixer/backend does not import rtptx
// directly — cmd/disorderd wires a concrete *rtptx.Transmitter in.
type transmitter interface {
	Send(pcm []byte) error
	MarkIdle()
	Behind() bool
	Fatal() bool
}

// RTP delegates Play to an RTP transmitter, turning the mixer's
// decoder-fed PCM stream into the network broadcast spec.md §4.4
// describes.
type RTP struct {
	tx     transmitter
	active bool
}

func NewRTP(tx transmitter) *RTP { return &RTP{tx: tx} }

func (b *RTP) Init() error     { return nil }
func (b *RTP) Activate() error { b.active = true; return nil }

func (b *RTP) Play(pcm []byte) (int, error) {
	if !b.active {
		return 0, nil
	}
	if err := b.tx.Send(pcm); err != nil {
		return 0, err
	}
	return len(pcm) / BytesPerFrame, nil
}

func (b *RTP) Deactivate() error {
	b.active = false
	b.tx.MarkIdle()
	return nil
}

func (b *RTP) BeforePoll() *time.Duration {
	if b.tx.Behind() {
		d := time.Duration(0)
		return &d
	}
	return nil
}

func (b *RTP) Ready() bool { return b.active && !b.tx.Fatal() }
