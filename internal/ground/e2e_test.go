package ground_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tm2space/tm2-manha-firmware/internal/command"
	"github.com/tm2space/tm2-manha-firmware/internal/config"
	"github.com/tm2space/tm2-manha-firmware/internal/ground"
	"github.com/tm2space/tm2-manha-firmware/internal/ground/sink"
	"github.com/tm2space/tm2-manha-firmware/internal/radio"
	"github.com/tm2space/tm2-manha-firmware/internal/satkit"
	"github.com/tm2space/tm2-manha-firmware/internal/sensor"
	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

type captureSink struct {
	mu   sync.Mutex
	envs []sink.Envelope
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Publish(env sink.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) snapshot() []sink.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sink.Envelope(nil), c.envs...)
}

// TestEndToEndOverLoopback runs both control loops against an in-memory
// radio channel and checks that a full record crosses it intact.
func TestEndToEndOverLoopback(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	satSide, groundSide := radio.NewLoopbackPair(32)

	satLink := radio.NewLink(satSide, logger)
	if err := satLink.Configure(radio.Params{Address: 2}); err != nil {
		t.Fatalf("Configure sat: %v", err)
	}
	groundLink := radio.NewLink(groundSide, logger)
	if err := groundLink.Configure(radio.Params{Address: 3}); err != nil {
		t.Fatalf("Configure ground: %v", err)
	}

	sensors := []sensor.Sensor{
		sensor.Func{
			SensorName: "gps",
			ReadFn: func() (sensor.Reading, error) {
				return func(r *telemetry.Record) { r.SetGPS(12.34, 56.78, 120, 7) }, nil
			},
		},
		sensor.Func{
			SensorName: "accel",
			ReadFn: func() (sensor.Reading, error) {
				return func(r *telemetry.Record) { r.SetAcceleration(10, 0, 251) }, nil
			},
		},
	}

	sat := satkit.New(config.SatKit{
		CycleInterval:          config.Duration(20 * time.Millisecond),
		ListenWindow:           config.Duration(20 * time.Millisecond),
		TransmitRetries:        1,
		ReassemblyWindowCycles: 5,
		LowPower: config.LowPowerPolicy{
			CycleInterval: config.Duration(40 * time.Millisecond),
		},
	}, satLink, sensors, 3, logger)

	capture := &captureSink{}
	gs := ground.New(config.Ground{
		ReceiveTimeout:         config.Duration(10 * time.Millisecond),
		ReassemblyWindowCycles: 40,
		CommandRetries:         1,
		AckTimeout:             config.Duration(200 * time.Millisecond),
		StatusInterval:         config.Duration(time.Hour),
	}, groundLink, []sink.Sink{capture}, 2, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sat.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		gs.Run(ctx)
	}()

	// Wait for at least one record to cross the link.
	deadline := time.Now().Add(2 * time.Second)
	var envs []sink.Envelope
	for time.Now().Before(deadline) {
		if envs = capture.snapshot(); len(envs) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(envs) == 0 {
		cancel()
		wg.Wait()
		t.Fatal("no telemetry crossed the loopback")
	}

	// While the loops are still live, send a ping and give the ack a few
	// cycles to come back. Stats are read only after both loops stop.
	if err := gs.SubmitCommand(command.New(command.KindPing)); err != nil {
		t.Errorf("SubmitCommand: %v", err)
	}
	time.Sleep(600 * time.Millisecond)

	cancel()
	wg.Wait()

	rec := envs[0].Record
	if rec.Latitude != 12.34 || rec.Longitude != 56.78 {
		t.Errorf("position = %v, %v; want 12.34, 56.78", rec.Latitude, rec.Longitude)
	}
	if rec.Altitude != 120 || rec.Satellites != 7 {
		t.Errorf("alt, sats = %d, %d; want 120, 7", rec.Altitude, rec.Satellites)
	}
	if rec.AccelX != 0.39 {
		t.Errorf("a_x = %v; want 0.39", rec.AccelX)
	}
	if rec.UV != -1 {
		t.Errorf("uv = %v; want sentinel -1", rec.UV)
	}
	if rec.Timestamp == 0 {
		t.Error("record was not timestamped")
	}

	if gs.Stats().AcksReceived == 0 {
		t.Error("ping was never acknowledged")
	}
	if sat.Stats().CommandsApplied == 0 {
		t.Error("satellite applied no commands")
	}
}
