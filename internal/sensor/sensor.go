// Package sensor defines the boundary between the satellite control loop and
// the onboard sensors. Register-level drivers live behind the Sensor
// interface; the control loop never sees a device, only readings.
package sensor

import (
	"errors"

	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

// ErrUnavailable is the conventional error for a sensor that is present but
// cannot currently be read. The control loop substitutes sentinel values and
// carries on; a sensor failure is never fatal.
var ErrUnavailable = errors.New("sensor: unavailable")

// Reading is one sensor's contribution to a telemetry record. It writes its
// fields through the record's setters, which apply unit conversions.
type Reading func(r *telemetry.Record)

// Sensor is the capability interface every onboard sensor implements.
type Sensor interface {
	Name() string
	Read() (Reading, error)
}

// Func adapts a read function into a Sensor.
type Func struct {
	SensorName string
	ReadFn     func() (Reading, error)
}

func (f Func) Name() string { return f.SensorName }

func (f Func) Read() (Reading, error) { return f.ReadFn() }
