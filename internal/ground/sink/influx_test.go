package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

type fakeWriteAPI struct {
	points []*write.Point
	err    error
}

func (f *fakeWriteAPI) WriteRecord(context.Context, ...string) error { return f.err }

func (f *fakeWriteAPI) WritePoint(_ context.Context, points ...*write.Point) error {
	f.points = append(f.points, points...)
	return f.err
}

func (f *fakeWriteAPI) EnableBatching() {}

func (f *fakeWriteAPI) Flush(context.Context) error { return f.err }

func TestInfluxPublishWritesPoint(t *testing.T) {
	api := &fakeWriteAPI{}
	sink := &Influx{writeAPI: api}

	rec := telemetry.NewRecord()
	rec.SetGPS(12.34, 56.78, 120, 7)
	rec.Timestamp = 1700000000123
	if err := sink.Publish(Envelope{Record: rec, RSSI: -42, SNR: 9}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(api.points) != 1 {
		t.Fatalf("wrote %d points; want 1", len(api.points))
	}
	point := api.points[0]
	if point.Name() != "telemetry" {
		t.Errorf("measurement = %q; want telemetry", point.Name())
	}
	if want := time.UnixMilli(rec.Timestamp); !point.Time().Equal(want) {
		t.Errorf("point time = %v; want %v", point.Time(), want)
	}

	fields := map[string]interface{}{}
	for _, f := range point.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["lat"] != 12.34 {
		t.Errorf("lat field = %v; want 12.34", fields["lat"])
	}
	if fields["rssi"] != int64(-42) {
		t.Errorf("rssi field = %v; want -42", fields["rssi"])
	}
	if _, ok := fields["uv"]; !ok {
		t.Error("uv field missing")
	}
}

func TestInfluxPublishReportsWriteError(t *testing.T) {
	api := &fakeWriteAPI{err: errors.New("bucket gone")}
	sink := &Influx{writeAPI: api}

	if err := sink.Publish(Envelope{Record: telemetry.NewRecord()}); err == nil {
		t.Error("Publish swallowed the write error")
	}
}
