package command

import (
	"encoding/json"
	"fmt"
)

// Ack is the satellite's acknowledgement of an applied command. Timestamp is
// the satellite clock in ms, which doubles as the ping answer.
type Ack struct {
	Kind      Kind  `json:"cmd"`
	Timestamp int64 `json:"ts"`
}

// Marshal serialises the ack for the radio payload.
func (a Ack) Marshal() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal ack: %w", err)
	}
	return data, nil
}

// UnmarshalAck parses an ack payload.
func UnmarshalAck(data []byte) (Ack, error) {
	var a Ack
	if err := json.Unmarshal(data, &a); err != nil {
		return Ack{}, fmt.Errorf("unmarshal ack: %w", err)
	}
	return a, nil
}
