package radio

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// RYLR drives a REYAX RYLR-class LoRa modem over its serial AT-command
// interface. Frame payloads are hex-encoded on the UART so binary packet
// bytes survive the ASCII command protocol.
//
// The modem reports received frames as unsolicited lines:
//
//	+RCV=<src>,<len>,<hexdata>,<rssi>,<snr>
//
// Lines that arrive while a command response is pending are queued and
// drained by the next Receive call.
type RYLR struct {
	port    serial.Port
	pending []byte
	rxQueue []*Frame

	txTimeout time.Duration
}

// RYLRConfig selects the serial port the modem is attached to.
type RYLRConfig struct {
	Port            string
	BaudRate        int
	TransmitTimeout time.Duration
}

// OpenRYLR opens the modem's serial port. Configure must follow before use.
func OpenRYLR(cfg RYLRConfig) (*RYLR, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.TransmitTimeout == 0 {
		cfg.TransmitTimeout = 2 * time.Second
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	return &RYLR{port: port, txTimeout: cfg.TransmitTimeout}, nil
}

func (r *RYLR) Configure(p Params) error {
	commands := []string{
		"AT",
		fmt.Sprintf("AT+ADDRESS=%d", p.Address),
		fmt.Sprintf("AT+NETWORKID=%d", p.NetworkID),
		fmt.Sprintf("AT+BAND=%d", p.FrequencyHz),
		fmt.Sprintf("AT+PARAMETER=%d,%d,%d,%d",
			p.SpreadingFactor, p.Bandwidth, p.CodingRate, p.Preamble),
		fmt.Sprintf("AT+CRFOP=%d", p.TxPowerDBm),
	}
	for _, cmd := range commands {
		if _, err := r.command(cmd, time.Second); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

func (r *RYLR) Transmit(data []byte, dst byte) error {
	cmd := fmt.Sprintf("AT+SEND=%d,%d,%s", dst, len(data)*2, bytesToHex(data))
	resp, err := r.command(cmd, r.txTimeout)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "+OK") {
		return fmt.Errorf("%w: modem answered %q", ErrHardwareFault, resp)
	}
	return nil
}

func (r *RYLR) Receive(timeout time.Duration) (*Frame, error) {
	if len(r.rxQueue) > 0 {
		frame := r.rxQueue[0]
		r.rxQueue = r.rxQueue[1:]
		return frame, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		line, err := r.readLine(deadline)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return nil, nil
		}
		if frame, err := parseRCV(line); err == nil {
			return frame, nil
		}
		// Stale command responses and chatter are skipped.
	}
}

func (r *RYLR) SetTxPower(dbm int) error {
	_, err := r.command(fmt.Sprintf("AT+CRFOP=%d", dbm), time.Second)
	return err
}

func (r *RYLR) Sleep() error {
	_, err := r.command("AT+MODE=1", time.Second)
	return err
}

func (r *RYLR) Wake() error {
	_, err := r.command("AT+MODE=0", time.Second)
	return err
}

func (r *RYLR) Close() error {
	return r.port.Close()
}

// command writes one AT command and returns the modem's response line.
// Received-frame lines that interleave with the response are queued.
func (r *RYLR) command(cmd string, timeout time.Duration) (string, error) {
	if _, err := r.port.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("%w: write: %v", ErrHardwareFault, err)
	}
	deadline := time.Now().Add(timeout)
	for {
		line, err := r.readLine(deadline)
		if err != nil {
			return "", err
		}
		if line == "" {
			return "", fmt.Errorf("%w: no response to %s", ErrTransmitTimeout, cmd)
		}
		if frame, err := parseRCV(line); err == nil {
			r.rxQueue = append(r.rxQueue, frame)
			continue
		}
		if strings.HasPrefix(line, "+ERR") {
			return "", fmt.Errorf("%w: %s", ErrHardwareFault, line)
		}
		return line, nil
	}
}

// readLine reads one CRLF-terminated line, or "" once deadline passes.
func (r *RYLR) readLine(deadline time.Time) (string, error) {
	buf := make([]byte, 256)
	for {
		if i := indexNewline(r.pending); i >= 0 {
			line := strings.TrimRight(string(r.pending[:i]), "\r")
			r.pending = r.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", nil
		}
		if remaining > 100*time.Millisecond {
			remaining = 100 * time.Millisecond
		}
		if err := r.port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("%w: set read timeout: %v", ErrHardwareFault, err)
		}
		n, err := r.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("%w: read: %v", ErrHardwareFault, err)
		}
		r.pending = append(r.pending, buf[:n]...)
	}
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}

// parseRCV parses a +RCV=<src>,<len>,<hexdata>,<rssi>,<snr> line.
func parseRCV(line string) (*Frame, error) {
	rest, ok := strings.CutPrefix(line, "+RCV=")
	if !ok {
		return nil, fmt.Errorf("not a receive line")
	}
	fields := strings.Split(rest, ",")
	if len(fields) != 5 {
		return nil, fmt.Errorf("receive line has %d fields, want 5", len(fields))
	}
	data, err := hexToBytes(fields[2])
	if err != nil {
		return nil, fmt.Errorf("receive data: %w", err)
	}
	rssi, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("receive rssi: %w", err)
	}
	snr, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, fmt.Errorf("receive snr: %w", err)
	}
	return &Frame{Data: data, RSSI: rssi, SNR: snr}, nil
}
