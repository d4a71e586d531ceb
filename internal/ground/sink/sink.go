// Package sink defines the consumer interface the ground station publishes
// decoded telemetry to. Delivery is best effort, most-recent-wins: a slow or
// failing sink loses records, it never stalls the receive loop.
package sink

import (
	"time"

	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

// Envelope is one decoded record plus its link metadata.
type Envelope struct {
	Record     telemetry.Record `json:"record"`
	ReceivedAt time.Time        `json:"received_at"`
	RSSI       int              `json:"rssi"`
	SNR        int              `json:"snr"`
}

// Sink receives decoded telemetry. Publish errors are logged by the caller
// and otherwise ignored.
type Sink interface {
	Name() string
	Publish(env Envelope) error
	Close() error
}
