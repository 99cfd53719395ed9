// Package device models the diffuser's mirrored state and the vendor's
// byte-frame wire format.
//
// State is a best-effort in-memory mirror of the device's last known
// configuration and telemetry. Fields that have never been reported are nil
// pointers; consumers that gate behaviour on a value (HVAC sync gating
// power, for example) must treat unknown as "do nothing" rather than guess.
//
// The frame codec reproduces the vendor app's observed wire format exactly:
// single-byte opcodes followed by big-endian values, a schedule record that
// is always transmitted whole, and a days-of-week bitmask with Sunday at
// bit 0.
//
// Nothing in this package is safe for concurrent mutation; the hub loop is
// the single owner of a State.
package device
