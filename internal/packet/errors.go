package packet

import "errors"

var (
	// ErrMalformed marks a frame whose header or length fields do not
	// parse. The frame is discarded; the caller keeps its buffer.
	ErrMalformed = errors.New("packet: malformed frame")
	// ErrChecksumMismatch marks a frame whose CRC does not match.
	ErrChecksumMismatch = errors.New("packet: checksum mismatch")
	// ErrVersionMismatch marks a frame produced by an incompatible
	// protocol build.
	ErrVersionMismatch = errors.New("packet: protocol version mismatch")
	// ErrIncompleteMessage is returned while a fragmented message still
	// has fragments outstanding.
	ErrIncompleteMessage = errors.New("packet: incomplete message")
	// ErrPayloadTooLarge is returned when a payload cannot be carried
	// even fully fragmented.
	ErrPayloadTooLarge = errors.New("packet: payload too large")
)
