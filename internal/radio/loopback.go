package radio

import (
	"time"
)

// loopFrame is one in-flight transmission on a loopback channel.
type loopFrame struct {
	data []byte
	dst  byte
}

// Loopback is an in-memory Transceiver wired to a peer. It stands in for
// real modems in tests and lets the two control loops run end to end in one
// process. The channel is lossy like the real one: a frame transmitted while
// the peer's inbox is full is silently dropped.
type Loopback struct {
	out chan<- loopFrame
	in  <-chan loopFrame

	asleep bool

	// TransmitErr, when set, fails the next Transmit and then clears.
	TransmitErr error
	// ReceiveErr, when set, fails the next Receive and then clears.
	ReceiveErr error
	// RSSI and SNR are reported on every received frame.
	RSSI int
	SNR  int
}

// NewLoopbackPair returns two transceivers wired back to back, each holding
// up to depth undelivered frames.
func NewLoopbackPair(depth int) (*Loopback, *Loopback) {
	if depth < 1 {
		depth = 1
	}
	ab := make(chan loopFrame, depth)
	ba := make(chan loopFrame, depth)
	a := &Loopback{out: ab, in: ba, RSSI: -42, SNR: 9}
	b := &Loopback{out: ba, in: ab, RSSI: -42, SNR: 9}
	return a, b
}

func (lb *Loopback) Configure(Params) error { return nil }

func (lb *Loopback) Transmit(data []byte, dst byte) error {
	if err := lb.TransmitErr; err != nil {
		lb.TransmitErr = nil
		return err
	}
	if lb.asleep {
		return ErrLinkUnavailable
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case lb.out <- loopFrame{data: buf, dst: dst}:
	default:
		// Peer inbox full; the frame is lost on air.
	}
	return nil
}

func (lb *Loopback) Receive(timeout time.Duration) (*Frame, error) {
	if err := lb.ReceiveErr; err != nil {
		lb.ReceiveErr = nil
		return nil, err
	}
	if lb.asleep {
		return nil, ErrLinkUnavailable
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-lb.in:
		return &Frame{Data: f.data, RSSI: lb.RSSI, SNR: lb.SNR}, nil
	case <-timer.C:
		return nil, nil
	}
}

func (lb *Loopback) SetTxPower(int) error { return nil }

func (lb *Loopback) Sleep() error {
	lb.asleep = true
	return nil
}

func (lb *Loopback) Wake() error {
	lb.asleep = false
	return nil
}

func (lb *Loopback) Close() error { return nil }
