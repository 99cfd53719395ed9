package hub

import "errors"

var (
	// ErrCommandRejected indicates a manual write to power or the work
	// schedule while HVAC sync holds the lock. The caller must surface
	// this; the write is refused, not dropped.
	ErrCommandRejected = errors.New("hub: manual control locked by hvac sync")

	// ErrStopped indicates the hub's event loop is no longer running.
	ErrStopped = errors.New("hub: stopped")
)
