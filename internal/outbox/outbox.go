package outbox

import "time"

// Command is a queued outbound payload, keyed by the property it sets.
type Command struct {
	Key        string
	Payload    []byte
	EnqueuedAt time.Time
}

// Outbox coalesces and rate-limits outbound device commands.
//
// Not safe for concurrent use; see the package documentation.
type Outbox struct {
	minInterval time.Duration
	burst       int

	queue []*Command
	index map[string]*Command

	// sendTimes holds dispatch instants inside the trailing burst window,
	// newest last.
	sendTimes []time.Time
}

// New creates an Outbox enforcing the given minimum interval between
// sends and maximum burst size.
func New(minInterval time.Duration, burst int) *Outbox {
	if burst < 1 {
		burst = 1
	}
	return &Outbox{
		minInterval: minInterval,
		burst:       burst,
		index:       make(map[string]*Command),
	}
}

// Enqueue adds a command, replacing any queued command with the same key.
// A replaced command keeps its position in the queue so a stream of edits
// to one property cannot starve commands queued behind it.
//
// Returns:
//   - bool: true if an existing queued command was replaced
func (o *Outbox) Enqueue(key string, payload []byte, now time.Time) bool {
	if existing, ok := o.index[key]; ok {
		existing.Payload = payload
		return true
	}
	cmd := &Command{Key: key, Payload: payload, EnqueuedAt: now}
	o.queue = append(o.queue, cmd)
	o.index[key] = cmd
	return false
}

// Next pops the head of the queue if the rate limit allows a send now.
// A successful pop counts as a send.
//
// Returns:
//   - Command: The command to publish
//   - bool: false if the queue is empty or the limiter blocks the send
func (o *Outbox) Next(now time.Time) (Command, bool) {
	if len(o.queue) == 0 || !o.allow(now) {
		return Command{}, false
	}

	cmd := o.queue[0]
	o.queue = o.queue[1:]
	delete(o.index, cmd.Key)
	o.sendTimes = append(o.sendTimes, now)
	return *cmd, true
}

// Len reports the number of queued commands.
func (o *Outbox) Len() int {
	return len(o.queue)
}

// PendingKeys lists queued command keys in dispatch order, for diagnostics.
func (o *Outbox) PendingKeys() []string {
	keys := make([]string, len(o.queue))
	for i, cmd := range o.queue {
		keys[i] = cmd.Key
	}
	return keys
}

// NextEligibleIn reports how long until the limiter would permit a send.
// Zero means a send is allowed now.
func (o *Outbox) NextEligibleIn(now time.Time) time.Duration {
	o.trim(now)

	var wait time.Duration
	if n := len(o.sendTimes); n > 0 {
		if d := o.minInterval - now.Sub(o.sendTimes[n-1]); d > wait {
			wait = d
		}
	}
	if len(o.sendTimes) >= o.burst {
		oldest := o.sendTimes[len(o.sendTimes)-o.burst]
		if d := o.window() - now.Sub(oldest); d > wait {
			wait = d
		}
	}
	return wait
}

// allow applies both limiter conditions: at least minInterval since the
// previous send, and fewer than burst sends inside the trailing window.
func (o *Outbox) allow(now time.Time) bool {
	o.trim(now)

	if n := len(o.sendTimes); n > 0 && now.Sub(o.sendTimes[n-1]) < o.minInterval {
		return false
	}
	return len(o.sendTimes) < o.burst
}

func (o *Outbox) window() time.Duration {
	return time.Duration(o.burst) * o.minInterval
}

// trim discards send times that have aged out of the burst window.
func (o *Outbox) trim(now time.Time) {
	cutoff := now.Add(-o.window())
	i := 0
	for i < len(o.sendTimes) && !o.sendTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		o.sendTimes = append(o.sendTimes[:0], o.sendTimes[i:]...)
	}
}
