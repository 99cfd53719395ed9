// Package outbox queues outbound device commands behind a publish rate
// limit the vendor broker tolerates.
//
// Commands are keyed by the property they set. A newer command for a key
// replaces the queued payload in place, so a slider dragged across twenty
// values sends one frame carrying the last value. Distinct keys drain in
// the order they first entered the queue.
//
// The outbox is not safe for concurrent use. It is owned by the hub's
// event loop, which is the only goroutine that touches it.
package outbox
