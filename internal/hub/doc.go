// Package hub is the single logical owner of everything mutable: the
// mirrored device state, the throttling timestamps, the command outbox,
// and the HVAC sync engine.
//
// All mutations run on one event loop. Inbound broker frames, timer
// expiries, API write requests, and connection edges are marshalled onto
// the loop as tasks; publishing and persistence happen on their own
// goroutines and deliver completions back the same way, so the loop
// itself never blocks.
package hub
