// Package radio models the half-duplex long-range radio as an explicit
// state machine over a physical transceiver. The state machine prevents
// overlapping transmit/receive on the shared channel and makes power-mode
// transitions observable to the control loops.
package radio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Broadcast is the destination address every node accepts.
const Broadcast byte = 0xFF

// State is the link's position in its finite-state machine.
type State int

const (
	StateIdle State = iota
	StateTransmitting
	StateListening
	StateLowPower
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransmitting:
		return "transmitting"
	case StateListening:
		return "listening"
	case StateLowPower:
		return "low-power"
	}
	return "unknown"
}

var (
	// ErrTransmitTimeout means the modem did not confirm the
	// transmission within its deadline.
	ErrTransmitTimeout = errors.New("radio: transmit timeout")
	// ErrLinkUnavailable means the link is not in a state that allows
	// the requested operation (half-duplex or low-power).
	ErrLinkUnavailable = errors.New("radio: link unavailable")
	// ErrHardwareFault means the modem itself failed.
	ErrHardwareFault = errors.New("radio: hardware fault")
	// ErrNotConfigured means Configure was not called yet.
	ErrNotConfigured = errors.New("radio: not configured")
)

// Params are the node's address and channel parameters, fixed at startup.
type Params struct {
	Address         byte
	NetworkID       uint8
	FrequencyHz     uint32
	SpreadingFactor uint8
	Bandwidth       uint8
	CodingRate      uint8
	Preamble        uint8
	TxPowerDBm      int
	// Promiscuous disables destination-address filtering on receive.
	Promiscuous bool
}

// Frame is one received radio transmission with its signal quality.
type Frame struct {
	Data []byte
	RSSI int
	SNR  int
}

// Transceiver is the physical modem. Implementations block with their own
// timeouts and are owned by exactly one Link.
type Transceiver interface {
	// Configure applies the node address and channel parameters.
	Configure(p Params) error
	// Transmit sends one frame to dst and blocks until it is on air.
	Transmit(data []byte, dst byte) error
	// Receive waits up to timeout for one frame. It returns (nil, nil)
	// when the window closes with no data.
	Receive(timeout time.Duration) (*Frame, error)
	// SetTxPower adjusts the transmit power in dBm.
	SetTxPower(dbm int) error
	// Sleep puts the modem into its low-power state; Wake restores it.
	Sleep() error
	Wake() error
	Close() error
}

// Link enforces the half-duplex state machine over a Transceiver. A Link has
// exactly one owner (its node's control loop); it is not safe for concurrent
// use and does not need to be.
type Link struct {
	tr     Transceiver
	logger *slog.Logger

	state      State
	params     Params
	configured bool
}

// NewLink wraps a transceiver. Configure must be called before any
// transmit or receive.
func NewLink(tr Transceiver, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{tr: tr, logger: logger, state: StateIdle}
}

// Configure sets the node's own address and channel parameters.
func (l *Link) Configure(p Params) error {
	if l.state != StateIdle {
		return fmt.Errorf("%w: configure in state %s", ErrLinkUnavailable, l.state)
	}
	if err := l.tr.Configure(p); err != nil {
		return fmt.Errorf("configure transceiver: %w", err)
	}
	l.params = p
	l.configured = true
	l.logger.Info("radio configured",
		"address", p.Address,
		"network_id", p.NetworkID,
		"frequency_hz", p.FrequencyHz,
		"tx_power_dbm", p.TxPowerDBm,
	)
	return nil
}

// State reports the link's current state.
func (l *Link) State() State {
	return l.state
}

// Address returns the configured node address.
func (l *Link) Address() byte {
	return l.params.Address
}

// Send transmits one frame to dst, blocking until the transmission
// completes. The link must be Idle.
func (l *Link) Send(data []byte, dst byte) error {
	if !l.configured {
		return ErrNotConfigured
	}
	if l.state != StateIdle {
		return fmt.Errorf("%w: send in state %s", ErrLinkUnavailable, l.state)
	}
	l.state = StateTransmitting
	err := l.tr.Transmit(data, dst)
	l.state = StateIdle
	if err != nil {
		return err
	}
	return nil
}

// TryReceive listens for up to timeout and returns the first frame addressed
// to this node, or nil when the window closes empty. Frames for other nodes
// are discarded here unless the link is promiscuous.
func (l *Link) TryReceive(timeout time.Duration) (*Frame, error) {
	if !l.configured {
		return nil, ErrNotConfigured
	}
	if l.state != StateIdle {
		return nil, fmt.Errorf("%w: receive in state %s", ErrLinkUnavailable, l.state)
	}
	l.state = StateListening
	defer func() { l.state = StateIdle }()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		frame, err := l.tr.Receive(remaining)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			return nil, nil
		}
		if l.params.Promiscuous || l.acceptsFrame(frame.Data) {
			return frame, nil
		}
		l.logger.Debug("discarding frame for other node", "len", len(frame.Data))
	}
}

// acceptsFrame peeks at the wire header's destination byte. Anything too
// short to carry a destination is kept for the codec to reject.
func (l *Link) acceptsFrame(data []byte) bool {
	if len(data) < 3 {
		return true
	}
	dst := data[2]
	return dst == l.params.Address || dst == Broadcast
}

// SetTxPower adjusts the transmit power; the link must be Idle.
func (l *Link) SetTxPower(dbm int) error {
	if !l.configured {
		return ErrNotConfigured
	}
	if l.state != StateIdle {
		return fmt.Errorf("%w: set tx power in state %s", ErrLinkUnavailable, l.state)
	}
	if err := l.tr.SetTxPower(dbm); err != nil {
		return err
	}
	l.params.TxPowerDBm = dbm
	l.logger.Info("radio tx power changed", "tx_power_dbm", dbm)
	return nil
}

// EnterLowPower puts the radio to sleep. Send and TryReceive fail with
// ErrLinkUnavailable until ExitLowPower.
func (l *Link) EnterLowPower() error {
	if l.state == StateLowPower {
		return nil
	}
	if l.state != StateIdle {
		return fmt.Errorf("%w: sleep in state %s", ErrLinkUnavailable, l.state)
	}
	if err := l.tr.Sleep(); err != nil {
		return err
	}
	l.state = StateLowPower
	l.logger.Info("radio entering low power")
	return nil
}

// ExitLowPower wakes the radio back to Idle.
func (l *Link) ExitLowPower() error {
	if l.state != StateLowPower {
		return nil
	}
	if err := l.tr.Wake(); err != nil {
		return err
	}
	l.state = StateIdle
	l.logger.Info("radio leaving low power")
	return nil
}

// Close releases the transceiver.
func (l *Link) Close() error {
	return l.tr.Close()
}
