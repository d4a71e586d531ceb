// Package ground runs the ground-station control loop: listen, validate,
// decode, publish, uplink. Like the satellite loop it is single-owner; the
// only way in from other goroutines is the buffered uplink queue.
package ground

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tm2space/tm2-manha-firmware/internal/command"
	"github.com/tm2space/tm2-manha-firmware/internal/config"
	"github.com/tm2space/tm2-manha-firmware/internal/ground/sink"
	"github.com/tm2space/tm2-manha-firmware/internal/packet"
	"github.com/tm2space/tm2-manha-firmware/internal/radio"
	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

// uplinkQueueDepth bounds operator commands waiting for air time.
const uplinkQueueDepth = 16

// ErrUplinkFull is returned by SubmitCommand when the queue is saturated.
var ErrUplinkFull = errors.New("ground: uplink queue full")

// Stats are cumulative loop counters.
type Stats struct {
	PacketsOK           uint64
	ChecksumErrors      uint64
	MalformedPackets    uint64
	VersionMismatches   uint64
	ReassembliesDropped uint64
	RecordsPublished    uint64
	CommandsSent        uint64
	CommandFailures     uint64
	AcksReceived        uint64
}

// Controller owns the ground station's radio link and consumer sinks.
type Controller struct {
	cfg    config.Ground
	link   *radio.Link
	sinks  []sink.Sink
	reasm  *packet.Reassembler
	logger *slog.Logger

	peer   byte
	seq    uint8
	uplink chan command.Command
	faults int
	stats  Stats

	// ackSeq/ackSeen communicate between handleFrame and the ack wait
	// loop; both run on the controller goroutine.
	ackSeq  uint8
	ackSeen bool
}

// New builds a controller. The link must already be configured; peer is the
// satellite's radio address.
func New(cfg config.Ground, link *radio.Link, sinks []sink.Sink, peer byte, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		link:   link,
		sinks:  sinks,
		reasm:  packet.NewReassembler(cfg.ReassemblyWindowCycles),
		logger: logger,
		peer:   peer,
		uplink: make(chan command.Command, uplinkQueueDepth),
	}
}

// SubmitCommand queues an operator command for uplink. Safe to call from
// other goroutines (MQTT delivery, HTTP handlers); the command is validated
// here and transmitted by the loop between receive windows.
func (c *Controller) SubmitCommand(cmd command.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	select {
	case c.uplink <- cmd:
		return nil
	default:
		return ErrUplinkFull
	}
}

// FaultCount reports consecutive radio hardware faults.
func (c *Controller) FaultCount() int { return c.faults }

// Stats returns a snapshot of the loop counters.
func (c *Controller) Stats() Stats { return c.stats }

// Run cycles until ctx is cancelled. Bad packets are counted and discarded,
// never surfaced as a crash.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("ground station loop starting",
		"peer", c.peer,
		"receive_timeout", c.cfg.ReceiveTimeout.Std(),
		"sinks", len(c.sinks),
	)
	started := time.Now()
	lastStatus := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("ground station loop stopping")
			return err
		}

		frame, err := c.link.TryReceive(c.cfg.ReceiveTimeout.Std())
		if err != nil {
			c.radioFault(err)
			// A faulting modem returns immediately; pace the retry so
			// the loop does not spin.
			time.Sleep(c.cfg.ReceiveTimeout.Std())
		} else if frame != nil {
			c.faults = 0
			c.handleFrame(frame)
		}

		select {
		case cmd := <-c.uplink:
			c.sendCommand(cmd)
		default:
		}

		if dropped := c.reasm.Sweep(); dropped > 0 {
			c.stats.ReassembliesDropped += uint64(dropped)
			c.logger.Warn("dropped incomplete telemetry fragments", "count", dropped)
		}

		if time.Since(lastStatus) >= c.cfg.StatusInterval.Std() {
			lastStatus = time.Now()
			c.logStatus(started)
		}
	}
}

func (c *Controller) logStatus(started time.Time) {
	c.logger.Info("ground station status",
		"uptime", time.Since(started).Round(time.Second),
		"packets_ok", c.stats.PacketsOK,
		"checksum_errors", c.stats.ChecksumErrors,
		"malformed", c.stats.MalformedPackets,
		"version_mismatches", c.stats.VersionMismatches,
		"reassemblies_dropped", c.stats.ReassembliesDropped,
		"records_published", c.stats.RecordsPublished,
		"commands_sent", c.stats.CommandsSent,
		"acks_received", c.stats.AcksReceived,
		"pending_fragments", c.reasm.Pending(),
	)
}

func (c *Controller) radioFault(err error) {
	if errors.Is(err, radio.ErrHardwareFault) {
		c.faults++
	}
	c.logger.Warn("radio operation failed", "error", err, "consecutive_faults", c.faults)
}

func (c *Controller) handleFrame(frame *radio.Frame) {
	p, err := packet.Decode(frame.Data)
	if err != nil {
		switch {
		case errors.Is(err, packet.ErrChecksumMismatch):
			c.stats.ChecksumErrors++
		case errors.Is(err, packet.ErrVersionMismatch):
			c.stats.VersionMismatches++
		default:
			c.stats.MalformedPackets++
		}
		c.logger.Debug("discarding bad packet", "error", err, "rssi", frame.RSSI)
		return
	}
	c.stats.PacketsOK++

	switch p.Type {
	case packet.TypeTelemetry:
		c.handleTelemetry(p, frame)
	case packet.TypeAck:
		c.handleAck(p)
	default:
		c.logger.Debug("ignoring packet", "type", p.Type, "from", p.Src)
	}
}

func (c *Controller) handleTelemetry(p packet.Packet, frame *radio.Frame) {
	payload, err := c.reasm.Add(p)
	if err != nil {
		if !errors.Is(err, packet.ErrIncompleteMessage) {
			c.stats.MalformedPackets++
			c.logger.Debug("discarding telemetry fragment", "error", err)
		}
		return
	}
	rec, err := telemetry.Unmarshal(payload)
	if err != nil {
		c.stats.MalformedPackets++
		c.logger.Warn("undecodable telemetry payload", "error", err)
		return
	}
	c.publish(sink.Envelope{
		Record:     rec,
		ReceivedAt: time.Now(),
		RSSI:       frame.RSSI,
		SNR:        frame.SNR,
	})
}

// publish fans the envelope out to every sink, best effort. A failing sink
// loses this record and the loop moves on.
func (c *Controller) publish(env sink.Envelope) {
	for _, s := range c.sinks {
		if err := s.Publish(env); err != nil {
			c.logger.Warn("sink publish failed", "sink", s.Name(), "error", err)
		}
	}
	c.stats.RecordsPublished++
	c.logger.Debug("telemetry published",
		"ts", env.Record.Timestamp,
		"rssi", env.RSSI,
		"snr", env.SNR,
	)
}

func (c *Controller) handleAck(p packet.Packet) {
	ack, err := command.UnmarshalAck(p.Payload)
	if err != nil {
		c.logger.Debug("undecodable ack payload", "error", err)
		return
	}
	c.stats.AcksReceived++
	c.ackSeq = p.Seq
	c.ackSeen = true
	c.logger.Info("command acknowledged",
		"command", ack.Kind,
		"seq", p.Seq,
		"satellite_clock_ms", ack.Timestamp,
	)
}

// sendCommand uplinks one command. With command_retries > 0 it waits for the
// satellite's ack and retransmits up to that many extra times; with 0 the
// command is fire-and-forget.
func (c *Controller) sendCommand(cmd command.Command) {
	payload, err := cmd.Marshal()
	if err != nil {
		c.stats.CommandFailures++
		c.logger.Error("encode command", "error", err)
		return
	}
	seq := c.seq
	c.seq++

	packets, err := packet.Fragment(packet.TypeCommand, c.link.Address(), c.peer, seq, payload)
	if err != nil {
		c.stats.CommandFailures++
		c.logger.Error("fragment command", "error", err)
		return
	}

	attempts := 1 + c.cfg.CommandRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.transmitPackets(packets); err != nil {
			c.radioFault(err)
			continue
		}
		c.faults = 0
		if c.cfg.CommandRetries == 0 {
			c.stats.CommandsSent++
			c.logger.Info("command sent", "command", cmd.Kind, "seq", seq)
			return
		}
		if c.awaitAck(seq) {
			c.stats.CommandsSent++
			c.logger.Info("command sent", "command", cmd.Kind, "seq", seq, "attempt", attempt)
			return
		}
		c.logger.Debug("no ack, retrying command", "command", cmd.Kind, "seq", seq, "attempt", attempt)
	}
	c.stats.CommandFailures++
	c.logger.Warn("command delivery failed", "command", cmd.Kind, "seq", seq, "attempts", attempts)
}

func (c *Controller) transmitPackets(packets []packet.Packet) error {
	for _, p := range packets {
		frame, err := p.Marshal()
		if err != nil {
			return fmt.Errorf("marshal packet: %w", err)
		}
		if err := c.link.Send(frame, p.Dst); err != nil {
			return err
		}
	}
	return nil
}

// awaitAck keeps receiving until the matching ack arrives or the window
// closes. Telemetry that interleaves with the ack is processed normally.
func (c *Controller) awaitAck(seq uint8) bool {
	c.ackSeen = false
	deadline := time.Now().Add(c.cfg.AckTimeout.Std())
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		frame, err := c.link.TryReceive(remaining)
		if err != nil {
			c.radioFault(err)
			return false
		}
		if frame == nil {
			return false
		}
		c.handleFrame(frame)
		if c.ackSeen && c.ackSeq == seq {
			return true
		}
	}
}
