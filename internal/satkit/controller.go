// Package satkit runs the satellite-side control loop: sense, build, encode,
// transmit, listen, apply commands. Everything happens on one goroutine; the
// processor budget of the flight board is spent cycling through these steps.
package satkit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tm2space/tm2-manha-firmware/internal/command"
	"github.com/tm2space/tm2-manha-firmware/internal/config"
	"github.com/tm2space/tm2-manha-firmware/internal/packet"
	"github.com/tm2space/tm2-manha-firmware/internal/radio"
	"github.com/tm2space/tm2-manha-firmware/internal/sensor"
	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

// faultEscalation is the consecutive-hardware-fault count at which the
// controller reports a node-health condition. The surrounding firmware owns
// the actual reset decision.
const faultEscalation = 10

// Stats are cumulative loop counters, readable between cycles.
type Stats struct {
	Cycles           uint64
	RecordsSent      uint64
	TransmitFailures uint64
	CommandsApplied  uint64
	CommandsRejected uint64
	BadPackets       uint64
}

// Controller owns the satellite's radio link, sensor suite and scheduling
// state. It is single-owner: Run and all observables are called from the
// same goroutine except FaultCount, which is read-only on an int and only
// consulted by the reset supervisor after Run returns.
type Controller struct {
	cfg     config.SatKit
	link    *radio.Link
	sensors []sensor.Sensor
	stamper *telemetry.Stamper
	reasm   *packet.Reassembler
	logger  *slog.Logger

	peer      byte
	seq       uint8
	lowPower  bool
	immediate bool
	faults    int
	stats     Stats
}

// New builds a controller. The link must already be configured; peer is the
// ground station's radio address.
func New(cfg config.SatKit, link *radio.Link, sensors []sensor.Sensor, peer byte, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		link:    link,
		sensors: sensors,
		stamper: telemetry.NewStamper(nil),
		reasm:   packet.NewReassembler(cfg.ReassemblyWindowCycles),
		logger:  logger,
		peer:    peer,
	}
}

// Run cycles until ctx is cancelled. A bad packet, a missing sensor or a
// transient radio fault never terminates the loop.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("satkit loop starting",
		"peer", c.peer,
		"cycle_interval", c.cfg.CycleInterval.Std(),
		"sensors", len(c.sensors),
	)
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("satkit loop stopping")
			return err
		}
		c.cycle()
		if c.immediate {
			c.immediate = false
			continue
		}
		if err := c.sleep(ctx); err != nil {
			c.logger.Info("satkit loop stopping")
			return err
		}
	}
}

// FaultCount reports how many consecutive cycles ended in a hardware fault.
// The surrounding firmware uses it to decide on a hardware reset.
func (c *Controller) FaultCount() int { return c.faults }

// Stats returns a snapshot of the loop counters.
func (c *Controller) Stats() Stats { return c.stats }

// LowPower reports whether low-power mode is active.
func (c *Controller) LowPower() bool { return c.lowPower }

func (c *Controller) cycle() {
	c.stats.Cycles++

	if c.link.State() == radio.StateLowPower {
		if err := c.link.ExitLowPower(); err != nil {
			c.radioFault(err)
			return
		}
	}

	rec := c.sense()
	c.transmit(rec)

	if !c.lowPower || !c.cfg.LowPower.SkipListen {
		c.listen()
	}

	if dropped := c.reasm.Sweep(); dropped > 0 {
		c.logger.Warn("dropped incomplete command fragments", "count", dropped)
	}

	if c.lowPower {
		if err := c.link.EnterLowPower(); err != nil {
			c.radioFault(err)
		}
	}

	if c.faults >= faultEscalation {
		c.logger.Error("radio persistently faulted, node health degraded",
			"consecutive_faults", c.faults,
		)
	}
}

// sense queries every sensor and assembles the record. A failed read leaves
// that sensor's fields at their sentinels and the cycle continues.
func (c *Controller) sense() telemetry.Record {
	rec := telemetry.NewRecord()
	for _, s := range c.sensors {
		reading, err := s.Read()
		if err != nil {
			c.logger.Warn("sensor read failed", "sensor", s.Name(), "error", err)
			continue
		}
		reading(&rec)
	}
	rec.LowPower = c.lowPower
	c.stamper.Stamp(&rec)
	return rec
}

func (c *Controller) transmit(rec telemetry.Record) {
	payload, err := rec.Marshal()
	if err != nil {
		c.logger.Error("encode telemetry", "error", err)
		return
	}
	seq := c.seq
	c.seq++

	packets, err := packet.Fragment(packet.TypeTelemetry, c.link.Address(), c.peer, seq, payload)
	if err != nil {
		c.logger.Error("fragment telemetry", "error", err, "payload_len", len(payload))
		return
	}
	for _, p := range packets {
		if !c.sendWithRetry(p) {
			c.stats.TransmitFailures++
			c.logger.Warn("telemetry transmit failed, skipping cycle",
				"seq", seq,
				"fragment", p.FragIndex,
				"fragments", p.FragTotal,
			)
			return
		}
	}
	c.stats.RecordsSent++
	c.logger.Debug("telemetry sent", "seq", seq, "fragments", len(packets), "ts", rec.Timestamp)
}

// sendWithRetry marshals and transmits one packet with a bounded retry
// count. It reports success and maintains the consecutive-fault counter.
func (c *Controller) sendWithRetry(p packet.Packet) bool {
	frame, err := p.Marshal()
	if err != nil {
		c.logger.Error("marshal packet", "error", err)
		return false
	}
	var lastErr error
	for attempt := 0; attempt <= c.cfg.TransmitRetries; attempt++ {
		lastErr = c.link.Send(frame, p.Dst)
		if lastErr == nil {
			c.faults = 0
			return true
		}
		c.logger.Debug("transmit attempt failed", "attempt", attempt, "error", lastErr)
	}
	c.radioFault(lastErr)
	return false
}

func (c *Controller) radioFault(err error) {
	if errors.Is(err, radio.ErrHardwareFault) {
		c.faults++
	}
	c.logger.Warn("radio operation failed", "error", err, "consecutive_faults", c.faults)
}

// listen keeps the receive window open for inbound commands. Low-power mode
// shortens the window to a quarter.
func (c *Controller) listen() {
	window := c.cfg.ListenWindow.Std()
	if c.lowPower {
		window /= 4
	}
	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		frame, err := c.link.TryReceive(remaining)
		if err != nil {
			c.radioFault(err)
			return
		}
		if frame == nil {
			return
		}
		c.faults = 0
		c.handleFrame(frame)
	}
}

func (c *Controller) handleFrame(frame *radio.Frame) {
	p, err := packet.Decode(frame.Data)
	if err != nil {
		c.stats.BadPackets++
		c.logger.Debug("discarding bad packet", "error", err, "rssi", frame.RSSI)
		return
	}
	if p.Type != packet.TypeCommand {
		return
	}
	payload, err := c.reasm.Add(p)
	if err != nil {
		if !errors.Is(err, packet.ErrIncompleteMessage) {
			c.stats.BadPackets++
			c.logger.Debug("discarding command fragment", "error", err)
		}
		return
	}
	cmd, err := command.Unmarshal(payload)
	if err != nil {
		c.stats.CommandsRejected++
		c.logger.Warn("rejecting command", "error", err, "from", p.Src)
		return
	}
	c.apply(cmd, p.Seq)
}

// apply mutates the controller's scheduling state, never the telemetry
// record, then acknowledges the command.
func (c *Controller) apply(cmd command.Command, seq uint8) {
	switch cmd.Kind {
	case command.KindLowPower:
		c.lowPower = cmd.ArgValue() == 1
		c.logger.Info("low-power mode set", "enabled", c.lowPower)
	case command.KindRequestTelemetry:
		c.immediate = true
		c.logger.Info("immediate telemetry requested")
	case command.KindPing:
		c.logger.Info("ping received")
	case command.KindTxPower:
		if err := c.link.SetTxPower(int(cmd.ArgValue())); err != nil {
			c.logger.Warn("tx power change failed", "error", err)
			c.stats.CommandsRejected++
			return
		}
	}
	c.stats.CommandsApplied++
	c.acknowledge(cmd, seq)
}

func (c *Controller) acknowledge(cmd command.Command, seq uint8) {
	payload, err := command.Ack{Kind: cmd.Kind, Timestamp: time.Now().UnixMilli()}.Marshal()
	if err != nil {
		c.logger.Error("encode ack", "error", err)
		return
	}
	packets, err := packet.Fragment(packet.TypeAck, c.link.Address(), c.peer, seq, payload)
	if err != nil {
		c.logger.Error("fragment ack", "error", err)
		return
	}
	for _, p := range packets {
		if !c.sendWithRetry(p) {
			c.logger.Warn("ack transmit failed", "command", cmd.Kind, "seq", seq)
			return
		}
	}
}

func (c *Controller) sleep(ctx context.Context) error {
	interval := c.cfg.CycleInterval.Std()
	if c.lowPower {
		interval = c.cfg.LowPower.CycleInterval.Std()
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
