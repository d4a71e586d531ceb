package sensor

import (
	"math/rand"

	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

// Simulated sensors stand in for the real peripherals when the kit runs
// without flight hardware. Values drift with a small random walk so the
// downstream tooling sees plausible, changing telemetry.

// SimulatedSuite returns one simulated sensor of every kind the kit carries.
func SimulatedSuite(rng *rand.Rand) []Sensor {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return []Sensor{
		NewSimPowerMonitor(rng),
		NewSimGPS(rng),
		NewSimAccelerometer(rng),
		NewSimUV(rng),
		NewSimEnvironment(rng),
		NewSimCompass(rng),
	}
}

type SimPowerMonitor struct {
	rng     *rand.Rand
	battery float64
}

func NewSimPowerMonitor(rng *rand.Rand) *SimPowerMonitor {
	return &SimPowerMonitor{rng: rng, battery: 100}
}

func (s *SimPowerMonitor) Name() string { return "powermon" }

func (s *SimPowerMonitor) Read() (Reading, error) {
	s.battery -= s.rng.Float64() * 0.05
	if s.battery < 0 {
		s.battery = 0
	}
	battery := s.battery
	current := 18 + s.rng.Float64()*4      // mA
	shunt := 1.5 + s.rng.Float64()*0.3     // mV
	bus := 3.6 + s.battery/100*0.6         // V
	return func(r *telemetry.Record) {
		r.SetPower(battery, current, shunt, bus)
	}, nil
}

type SimGPS struct {
	rng      *rand.Rand
	lat, lng float64
	alt      int64
}

func NewSimGPS(rng *rand.Rand) *SimGPS {
	return &SimGPS{rng: rng, lat: 12.9716, lng: 77.5946, alt: 900}
}

func (s *SimGPS) Name() string { return "gps" }

func (s *SimGPS) Read() (Reading, error) {
	// A cold receiver takes a while to get a fix.
	if s.rng.Float64() < 0.1 {
		return nil, ErrUnavailable
	}
	s.lat += (s.rng.Float64() - 0.5) * 1e-4
	s.lng += (s.rng.Float64() - 0.5) * 1e-4
	s.alt += int64(s.rng.Intn(5) - 2)
	lat, lng, alt := s.lat, s.lng, s.alt
	sats := int64(4 + s.rng.Intn(8))
	return func(r *telemetry.Record) {
		r.SetGPS(lat, lng, alt, sats)
	}, nil
}

type SimAccelerometer struct {
	rng *rand.Rand
}

func NewSimAccelerometer(rng *rand.Rand) *SimAccelerometer {
	return &SimAccelerometer{rng: rng}
}

func (s *SimAccelerometer) Name() string { return "imu" }

func (s *SimAccelerometer) Read() (Reading, error) {
	// Raw device counts; the record converts to m/s^2.
	x := (s.rng.Float64() - 0.5) * 20
	y := (s.rng.Float64() - 0.5) * 20
	z := 251 + (s.rng.Float64()-0.5)*10 // ~1 g on the mounting axis
	return func(r *telemetry.Record) {
		r.SetAcceleration(x, y, z)
	}, nil
}

type SimUV struct {
	rng *rand.Rand
}

func NewSimUV(rng *rand.Rand) *SimUV { return &SimUV{rng: rng} }

func (s *SimUV) Name() string { return "uv" }

func (s *SimUV) Read() (Reading, error) {
	v := s.rng.Float64() * 1.2
	return func(r *telemetry.Record) {
		r.SetUV(v)
	}, nil
}

type SimEnvironment struct {
	rng  *rand.Rand
	temp float64
}

func NewSimEnvironment(rng *rand.Rand) *SimEnvironment {
	return &SimEnvironment{rng: rng, temp: 24}
}

func (s *SimEnvironment) Name() string { return "env" }

func (s *SimEnvironment) Read() (Reading, error) {
	s.temp += (s.rng.Float64() - 0.5) * 0.2
	temp := s.temp
	pressure := 91200 + s.rng.Float64()*400 // Pa
	humidity := 40 + s.rng.Float64()*10     // %
	return func(r *telemetry.Record) {
		r.SetEnvironment(temp, pressure, humidity)
	}, nil
}

type SimCompass struct {
	rng *rand.Rand
}

func NewSimCompass(rng *rand.Rand) *SimCompass { return &SimCompass{rng: rng} }

func (s *SimCompass) Name() string { return "compass" }

func (s *SimCompass) Read() (Reading, error) {
	// Raw device counts; the record converts to uT.
	x := 200 + (s.rng.Float64()-0.5)*40
	y := -120 + (s.rng.Float64()-0.5)*40
	z := 430 + (s.rng.Float64()-0.5)*40
	return func(r *telemetry.Record) {
		r.SetCompass(x, y, z)
	}, nil
}
