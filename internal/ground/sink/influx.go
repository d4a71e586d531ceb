package sink

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/tm2space/tm2-manha-firmware/internal/config"
)

// Influx writes telemetry points to an InfluxDB bucket. Optional; configured
// for installations that chart telemetry over time.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInflux(cfg config.Influx) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (i *Influx) Name() string { return "influx" }

func (i *Influx) Publish(env Envelope) error {
	r := env.Record
	point := influxdb2.NewPoint("telemetry",
		map[string]string{},
		map[string]interface{}{
			"v_p":  r.BatteryPercent,
			"i":    r.Current,
			"s_v":  r.ShuntVoltage,
			"b_v":  r.BusVoltage,
			"lat":  r.Latitude,
			"lng":  r.Longitude,
			"alt":  r.Altitude,
			"sats": r.Satellites,
			"a_x":  r.AccelX,
			"a_y":  r.AccelY,
			"a_z":  r.AccelZ,
			"uv":   r.UV,
			"temp": r.Temperature,
			"pres": r.Pressure,
			"hum":  r.Humidity,
			"lpm":  r.LowPower,
			"cs_x": r.CompassX,
			"cs_y": r.CompassY,
			"cs_z": r.CompassZ,
			"rssi": env.RSSI,
			"snr":  env.SNR,
		},
		time.UnixMilli(r.Timestamp),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return i.writeAPI.WritePoint(ctx, point)
}

func (i *Influx) Close() error {
	i.client.Close()
	return nil
}
