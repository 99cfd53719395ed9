package mqtt

import "errors"

var (
	// ErrConnectionFailed indicates the broker handshake did not complete.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected indicates a publish was attempted with no live
	// session.
	ErrNotConnected = errors.New("mqtt: not connected")
)
