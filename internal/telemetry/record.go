package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Unit conversion factors, applied exactly once when a reading is written
// into a Record. Decoded records already carry physical units.
const (
	accelScale   = 0.039 // raw ADXL345 counts -> m/s^2
	compassScale = 0.10  // raw QMC5883 counts -> uT
)

// Absent-field sentinels. A Record always carries every field; a sensor that
// could not be read leaves its fields at these values.
const (
	SentinelNegative = -1.0
	SentinelZero     = 0.0
)

// Record is one telemetry snapshot, produced fresh each transmission cycle.
// The JSON keys are the transmitted schema; ground-side consumers see exactly
// these keys, types and units.
type Record struct {
	BatteryPercent float64 `json:"v_p"`  // %
	Current        float64 `json:"i"`    // mA
	ShuntVoltage   float64 `json:"s_v"`  // mV
	BusVoltage     float64 `json:"b_v"`  // V
	Latitude       float64 `json:"lat"`  // degrees
	Longitude      float64 `json:"lng"`  // degrees
	Altitude       int64   `json:"alt"`  // m
	Satellites     int64   `json:"sats"` // count
	AccelX         float64 `json:"a_x"`  // m/s^2
	AccelY         float64 `json:"a_y"`  // m/s^2
	AccelZ         float64 `json:"a_z"`  // m/s^2
	UV             float64 `json:"uv"`   // V
	Temperature    float64 `json:"temp"` // degC
	Pressure       float64 `json:"pres"` // Pa
	Humidity       float64 `json:"hum"`  // %
	Timestamp      int64   `json:"ts"`   // ms since epoch
	LowPower       bool    `json:"lpm"`
	CompassX       float64 `json:"cs_x"` // uT
	CompassY       float64 `json:"cs_y"` // uT
	CompassZ       float64 `json:"cs_z"` // uT
}

// NewRecord returns a Record with every field at its absent sentinel.
func NewRecord() Record {
	return Record{
		BatteryPercent: SentinelNegative,
		Current:        SentinelNegative,
		ShuntVoltage:   SentinelNegative,
		BusVoltage:     SentinelNegative,
		Latitude:       SentinelZero,
		Longitude:      SentinelZero,
		Altitude:       0,
		Satellites:     0,
		AccelX:         SentinelZero,
		AccelY:         SentinelZero,
		AccelZ:         SentinelZero,
		UV:             SentinelNegative,
		Temperature:    SentinelNegative,
		Pressure:       SentinelNegative,
		Humidity:       SentinelNegative,
		CompassX:       SentinelNegative,
		CompassY:       SentinelNegative,
		CompassZ:       SentinelNegative,
	}
}

// SetPower writes power-monitor readings (already in %, mA, mV, V).
func (r *Record) SetPower(batteryPercent, currentMA, shuntMV, busV float64) {
	r.BatteryPercent = batteryPercent
	r.Current = currentMA
	r.ShuntVoltage = shuntMV
	r.BusVoltage = busV
}

// SetGPS writes a position fix.
func (r *Record) SetGPS(lat, lng float64, altitudeM, satellites int64) {
	r.Latitude = lat
	r.Longitude = lng
	r.Altitude = altitudeM
	r.Satellites = satellites
}

// SetAcceleration converts raw accelerometer counts to m/s^2.
func (r *Record) SetAcceleration(rawX, rawY, rawZ float64) {
	r.AccelX = round2(rawX * accelScale)
	r.AccelY = round2(rawY * accelScale)
	r.AccelZ = round2(rawZ * accelScale)
}

// SetUV writes the UV sensor voltage.
func (r *Record) SetUV(volts float64) {
	r.UV = volts
}

// SetEnvironment writes temperature, pressure and humidity.
func (r *Record) SetEnvironment(tempC, pressurePa, humidityPct float64) {
	r.Temperature = round2(tempC)
	r.Pressure = round2(pressurePa)
	r.Humidity = round2(humidityPct)
}

// SetCompass converts raw magnetometer counts to uT.
func (r *Record) SetCompass(rawX, rawY, rawZ float64) {
	r.CompassX = round2(rawX * compassScale)
	r.CompassY = round2(rawY * compassScale)
	r.CompassZ = round2(rawZ * compassScale)
}

// Marshal serialises the record for the radio payload.
func (r Record) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal telemetry: %w", err)
	}
	return data, nil
}

// Unmarshal parses a radio payload back into a Record. No unit conversion
// happens here; the satellite applies conversions at build time.
func Unmarshal(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("unmarshal telemetry: %w", err)
	}
	return r, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Stamper issues millisecond timestamps that never go backwards, so `ts` is
// monotonically non-decreasing across records from one controller instance.
type Stamper struct {
	now  func() time.Time
	last int64
}

// NewStamper returns a Stamper backed by now, or time.Now when now is nil.
func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

// Stamp writes the current timestamp into r.
func (s *Stamper) Stamp(r *Record) {
	ts := s.now().UnixMilli()
	if ts < s.last {
		ts = s.last
	}
	s.last = ts
	r.Timestamp = ts
}
