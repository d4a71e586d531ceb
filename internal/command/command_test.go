package command

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"lpm enter", NewWithArg(KindLowPower, 1), false},
		{"lpm leave", NewWithArg(KindLowPower, 0), false},
		{"lpm no arg", New(KindLowPower), false},
		{"lpm bad arg", NewWithArg(KindLowPower, 2), true},
		{"tlm", New(KindRequestTelemetry), false},
		{"ping", New(KindPing), false},
		{"txp min", NewWithArg(KindTxPower, 5), false},
		{"txp max", NewWithArg(KindTxPower, 23), false},
		{"txp too low", NewWithArg(KindTxPower, 4), true},
		{"txp too high", NewWithArg(KindTxPower, 24), true},
		{"txp missing arg", New(KindTxPower), true},
		{"unknown kind", New(Kind("selfdestruct")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnknownKindRejected(t *testing.T) {
	_, err := Unmarshal([]byte(`{"cmd":"fmt"}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v; want ErrUnknownKind", err)
	}
}

func TestRoundTrip(t *testing.T) {
	orig := NewWithArg(KindTxPower, 17)
	data, err := orig.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Kind != KindTxPower || got.ArgValue() != 17 {
		t.Errorf("round trip = %+v; want kind txp arg 17", got)
	}
}

func TestArgValueDefault(t *testing.T) {
	if v := New(KindPing).ArgValue(); v != 0 {
		t.Errorf("ArgValue() = %v; want 0", v)
	}
}

func TestAckRoundTrip(t *testing.T) {
	ack := Ack{Kind: KindPing, Timestamp: 1700000000123}
	data, err := ack.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalAck(data)
	if err != nil {
		t.Fatalf("UnmarshalAck: %v", err)
	}
	if got != ack {
		t.Errorf("round trip = %+v; want %+v", got, ack)
	}
}
