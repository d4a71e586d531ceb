// Package command defines the uplink command payload exchanged between the
// ground station and the satellite.
package command

import (
	"encoding/json"
	"fmt"
)

// Kind identifies an uplink command.
type Kind string

const (
	// KindLowPower toggles the satellite's low-power mode. Arg is 1 to
	// enter low-power mode, 0 to leave it.
	KindLowPower Kind = "lpm"
	// KindRequestTelemetry asks for an immediate telemetry transmission.
	KindRequestTelemetry Kind = "tlm"
	// KindPing asks the satellite to answer with an ack carrying its clock.
	KindPing Kind = "ping"
	// KindTxPower sets the radio TX power. Arg is the power in dBm (5-23).
	KindTxPower Kind = "txp"
)

// ErrUnknownKind is returned when a decoded command carries a kind this
// build does not recognise. Unknown commands are rejected, never applied.
var ErrUnknownKind = fmt.Errorf("unknown command kind")

// Command is a small tagged payload addressed from ground to satellite.
type Command struct {
	Kind Kind     `json:"cmd"`
	Arg  *float64 `json:"arg,omitempty"`
}

// New returns a command without an argument.
func New(kind Kind) Command {
	return Command{Kind: kind}
}

// NewWithArg returns a command carrying a scalar argument.
func NewWithArg(kind Kind, arg float64) Command {
	return Command{Kind: kind, Arg: &arg}
}

// ArgValue returns the argument, or 0 when none was sent.
func (c Command) ArgValue() float64 {
	if c.Arg == nil {
		return 0
	}
	return *c.Arg
}

// Validate rejects unknown kinds and out-of-range arguments.
func (c Command) Validate() error {
	switch c.Kind {
	case KindLowPower:
		if v := c.ArgValue(); v != 0 && v != 1 {
			return fmt.Errorf("lpm arg must be 0 or 1, got %v", v)
		}
	case KindRequestTelemetry, KindPing:
	case KindTxPower:
		if c.Arg == nil {
			return fmt.Errorf("tx-power requires a value (5-23)")
		}
		if v := *c.Arg; v < 5 || v > 23 {
			return fmt.Errorf("tx-power must be between 5 and 23 dBm, got %v", v)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	return nil
}

// Marshal serialises the command for the radio payload.
func (c Command) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	return data, nil
}

// Unmarshal parses and validates a command payload.
func Unmarshal(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("unmarshal command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}
