package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidTime) {
//	    // handle bad HH:MM input
//	}
var (
	// ErrInvalidTime is returned when a time string is not valid HH:MM.
	ErrInvalidTime = errors.New("device: invalid HH:MM time")

	// ErrInvalidFrame is returned when a payload cannot be decoded.
	ErrInvalidFrame = errors.New("device: invalid frame")

	// ErrUnknownOpcode is returned for frames with an unrecognised opcode.
	ErrUnknownOpcode = errors.New("device: unknown opcode")
)
