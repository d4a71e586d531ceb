package satkit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tm2space/tm2-manha-firmware/internal/command"
	"github.com/tm2space/tm2-manha-firmware/internal/config"
	"github.com/tm2space/tm2-manha-firmware/internal/packet"
	"github.com/tm2space/tm2-manha-firmware/internal/radio"
	"github.com/tm2space/tm2-manha-firmware/internal/sensor"
	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

const (
	satAddr    = 2
	groundAddr = 3
)

func testConfig() config.SatKit {
	return config.SatKit{
		CycleInterval:          config.Duration(10 * time.Millisecond),
		ListenWindow:           config.Duration(30 * time.Millisecond),
		TransmitRetries:        0,
		ReassemblyWindowCycles: 5,
		LowPower: config.LowPowerPolicy{
			CycleInterval: config.Duration(20 * time.Millisecond),
		},
	}
}

// newTestController wires a controller to one side of a loopback pair and
// returns the peer transceiver, which plays the ground station.
func newTestController(t *testing.T, cfg config.SatKit, sensors []sensor.Sensor) (*Controller, *radio.Loopback, *radio.Loopback) {
	t.Helper()
	a, b := radio.NewLoopbackPair(16)
	link := radio.NewLink(a, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := link.Configure(radio.Params{Address: satAddr}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	c := New(cfg, link, sensors, groundAddr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, a, b
}

func gpsSensor(lat, lng float64, alt, sats int64) sensor.Sensor {
	return sensor.Func{
		SensorName: "gps",
		ReadFn: func() (sensor.Reading, error) {
			return func(r *telemetry.Record) { r.SetGPS(lat, lng, alt, sats) }, nil
		},
	}
}

func brokenSensor(name string) sensor.Sensor {
	return sensor.Func{
		SensorName: name,
		ReadFn:     func() (sensor.Reading, error) { return nil, sensor.ErrUnavailable },
	}
}

// receiveRecord drains the ground side of the loopback until one full
// telemetry record has been reassembled.
func receiveRecord(t *testing.T, ground *radio.Loopback) telemetry.Record {
	t.Helper()
	reasm := packet.NewReassembler(10)
	for {
		frame, err := ground.Receive(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if frame == nil {
			t.Fatal("no telemetry arrived")
		}
		p, err := packet.Decode(frame.Data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if p.Type != packet.TypeTelemetry {
			continue
		}
		payload, err := reasm.Add(p)
		if errors.Is(err, packet.ErrIncompleteMessage) {
			continue
		}
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		rec, err := telemetry.Unmarshal(payload)
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		return rec
	}
}

// receiveAck drains the ground side until an ack for seq arrives.
func receiveAck(t *testing.T, ground *radio.Loopback, seq uint8) command.Ack {
	t.Helper()
	for {
		frame, err := ground.Receive(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if frame == nil {
			t.Fatal("no ack arrived")
		}
		p, err := packet.Decode(frame.Data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if p.Type != packet.TypeAck || p.Seq != seq {
			continue
		}
		ack, err := command.UnmarshalAck(p.Payload)
		if err != nil {
			t.Fatalf("UnmarshalAck: %v", err)
		}
		return ack
	}
}

// sendCommand injects a command frame into the satellite's inbox, as the
// ground station would put it on air.
func sendCommand(t *testing.T, ground *radio.Loopback, seq uint8, cmd command.Command) {
	t.Helper()
	payload, err := cmd.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	packets, err := packet.Fragment(packet.TypeCommand, groundAddr, satAddr, seq, payload)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	for _, p := range packets {
		frame, err := p.Marshal()
		if err != nil {
			t.Fatalf("Marshal packet: %v", err)
		}
		if err := ground.Transmit(frame, satAddr); err != nil {
			t.Fatalf("Transmit: %v", err)
		}
	}
}

func TestCycleTransmitsTelemetry(t *testing.T) {
	c, _, ground := newTestController(t, testConfig(), []sensor.Sensor{
		gpsSensor(12.34, 56.78, 120, 7),
	})

	c.cycle()

	rec := receiveRecord(t, ground)
	if rec.Latitude != 12.34 || rec.Longitude != 56.78 {
		t.Errorf("position = %v, %v; want 12.34, 56.78", rec.Latitude, rec.Longitude)
	}
	if rec.Altitude != 120 || rec.Satellites != 7 {
		t.Errorf("alt, sats = %d, %d; want 120, 7", rec.Altitude, rec.Satellites)
	}
	if rec.Timestamp == 0 {
		t.Error("record was not timestamped")
	}
	if got := c.Stats().RecordsSent; got != 1 {
		t.Errorf("RecordsSent = %d; want 1", got)
	}
}

func TestFailedSensorLeavesSentinels(t *testing.T) {
	c, _, ground := newTestController(t, testConfig(), []sensor.Sensor{
		gpsSensor(12.34, 56.78, 120, 7),
		brokenSensor("uv"),
		brokenSensor("env"),
	})

	c.cycle()

	rec := receiveRecord(t, ground)
	if rec.UV != -1 {
		t.Errorf("uv = %v; want sentinel -1", rec.UV)
	}
	if rec.Temperature != -1 || rec.Pressure != -1 || rec.Humidity != -1 {
		t.Errorf("env = %v, %v, %v; want sentinels", rec.Temperature, rec.Pressure, rec.Humidity)
	}
	if rec.Latitude != 12.34 {
		t.Errorf("lat = %v; a broken sensor must not affect others", rec.Latitude)
	}
}

func TestCommandLowPowerRoundTrip(t *testing.T) {
	c, _, ground := newTestController(t, testConfig(), nil)

	sendCommand(t, ground, 9, command.NewWithArg(command.KindLowPower, 1))
	c.cycle()

	if !c.LowPower() {
		t.Fatal("low-power mode not applied")
	}
	if got := c.Stats().CommandsApplied; got != 1 {
		t.Errorf("CommandsApplied = %d; want 1", got)
	}
	ack := receiveAck(t, ground, 9)
	if ack.Kind != command.KindLowPower {
		t.Errorf("ack kind = %q; want lpm", ack.Kind)
	}
	if ack.Timestamp == 0 {
		t.Error("ack carries no timestamp")
	}

	// The next cycle ends with the radio asleep, and its record says so.
	c.cycle()
	rec := receiveRecord(t, ground)
	if !rec.LowPower {
		t.Error("record lpm = false; want true in low-power mode")
	}
	if c.link.State() != radio.StateLowPower {
		t.Errorf("link state = %s; want low-power", c.link.State())
	}

	// Leaving low-power mode wakes the radio on the following cycle.
	sendCommand(t, ground, 10, command.NewWithArg(command.KindLowPower, 0))
	c.cycle()
	if c.LowPower() {
		t.Error("low-power mode still set after lpm 0")
	}
	if c.link.State() != radio.StateIdle {
		t.Errorf("link state = %s; want idle", c.link.State())
	}
}

func TestCommandRequestTelemetry(t *testing.T) {
	c, _, ground := newTestController(t, testConfig(), nil)

	sendCommand(t, ground, 3, command.New(command.KindRequestTelemetry))
	c.cycle()

	if !c.immediate {
		t.Error("immediate retransmission not scheduled")
	}
	if got := c.Stats().CommandsApplied; got != 1 {
		t.Errorf("CommandsApplied = %d; want 1", got)
	}
}

func TestCommandTxPower(t *testing.T) {
	c, _, ground := newTestController(t, testConfig(), nil)

	sendCommand(t, ground, 4, command.NewWithArg(command.KindTxPower, 17))
	c.cycle()

	if got := c.Stats().CommandsApplied; got != 1 {
		t.Errorf("CommandsApplied = %d; want 1", got)
	}
	ack := receiveAck(t, ground, 4)
	if ack.Kind != command.KindTxPower {
		t.Errorf("ack kind = %q; want txp", ack.Kind)
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	c, _, ground := newTestController(t, testConfig(), nil)

	packets, err := packet.Fragment(packet.TypeCommand, groundAddr, satAddr, 5, []byte(`{"cmd":"selfdestruct"}`))
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	frame, err := packets[0].Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := ground.Transmit(frame, satAddr); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	c.cycle()

	if got := c.Stats().CommandsRejected; got != 1 {
		t.Errorf("CommandsRejected = %d; want 1", got)
	}
	if got := c.Stats().CommandsApplied; got != 0 {
		t.Errorf("CommandsApplied = %d; want 0", got)
	}
}

func TestCorruptFrameCounted(t *testing.T) {
	c, _, ground := newTestController(t, testConfig(), nil)

	packets, err := packet.Fragment(packet.TypeCommand, groundAddr, satAddr, 6, []byte(`{"cmd":"ping"}`))
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	frame, err := packets[0].Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	frame[len(frame)-1] ^= 0x01
	if err := ground.Transmit(frame, satAddr); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	c.cycle()

	if got := c.Stats().BadPackets; got != 1 {
		t.Errorf("BadPackets = %d; want 1", got)
	}
	if got := c.Stats().CommandsApplied; got != 0 {
		t.Errorf("CommandsApplied = %d; want 0", got)
	}
}

func TestHardwareFaultTracking(t *testing.T) {
	c, sat, _ := newTestController(t, testConfig(), nil)

	sat.TransmitErr = radio.ErrHardwareFault
	c.cycle()
	if got := c.FaultCount(); got != 1 {
		t.Fatalf("FaultCount = %d after fault; want 1", got)
	}
	if got := c.Stats().TransmitFailures; got != 1 {
		t.Errorf("TransmitFailures = %d; want 1", got)
	}

	// A clean cycle clears the consecutive-fault counter.
	c.cycle()
	if got := c.FaultCount(); got != 0 {
		t.Errorf("FaultCount = %d after recovery; want 0", got)
	}
}

func TestTransmitTimeoutDoesNotCountAsFault(t *testing.T) {
	c, sat, _ := newTestController(t, testConfig(), nil)

	sat.TransmitErr = radio.ErrTransmitTimeout
	c.cycle()
	if got := c.FaultCount(); got != 0 {
		t.Errorf("FaultCount = %d; timeouts are not hardware faults", got)
	}
	if got := c.Stats().TransmitFailures; got != 1 {
		t.Errorf("TransmitFailures = %d; want 1", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c, _, _ := newTestController(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v; want context.DeadlineExceeded", err)
	}
	if c.Stats().Cycles == 0 {
		t.Error("Run returned without cycling")
	}
}
