// Package poll decides when the bridge may ask the device for state.
//
// The vendor app polls aggressively; the firmware does not need that, and
// the broker occasionally drops clients that chatter. The governor holds
// status queries to a minimum interval, bulk settings queries to a long
// cycle, and makes one exception: when the device has not been heard from
// for the staleness threshold, a bulk query goes out regardless of cycle
// position so a reconnecting bridge resyncs promptly.
//
// The governor is owned by the hub's event loop and is not safe for
// concurrent use.
package poll

import (
	"time"

	"github.com/devilrob/felshare-cloud/internal/device"
)

// Governor throttles status and bulk settings queries.
type Governor struct {
	statusMinInterval time.Duration
	bulkInterval      time.Duration
	staleThreshold    time.Duration

	ts device.Timestamps
}

// NewGovernor creates a Governor with the given intervals, seeded from
// persisted timestamps so a restart does not immediately re-poll.
func NewGovernor(statusMin, bulk, stale time.Duration, ts device.Timestamps) *Governor {
	return &Governor{
		statusMinInterval: statusMin,
		bulkInterval:      bulk,
		staleThreshold:    stale,
		ts:                ts,
	}
}

// AllowStatus reports whether a status query may go out now. A permitted
// query is recorded immediately; callers must actually send it.
func (g *Governor) AllowStatus(now time.Time) bool {
	if !g.ts.LastStatusRequest.IsZero() &&
		now.Sub(g.ts.LastStatusRequest) < g.statusMinInterval {
		return false
	}
	g.ts.LastStatusRequest = now
	return true
}

// AllowBulk reports whether a bulk settings query may go out now. The
// regular cycle is overridden when the device looks stale, but stale
// retries are still spaced by the status interval so a silent device is
// not hammered.
func (g *Governor) AllowBulk(now time.Time) bool {
	due := g.ts.LastBulkRequest.IsZero() ||
		now.Sub(g.ts.LastBulkRequest) >= g.bulkInterval
	if !due {
		if !g.Stale(now) || now.Sub(g.ts.LastBulkRequest) < g.statusMinInterval {
			return false
		}
	}
	g.ts.LastBulkRequest = now
	return true
}

// Stale reports whether the device has been silent past the staleness
// threshold. A device never heard from is always stale.
func (g *Governor) Stale(now time.Time) bool {
	return g.ts.LastSeen.IsZero() ||
		now.Sub(g.ts.LastSeen) >= g.staleThreshold
}

// MarkSeen records an inbound frame from the device.
func (g *Governor) MarkSeen(now time.Time) {
	g.ts.LastSeen = now
}

// MarkPublish records an outbound publish.
func (g *Governor) MarkPublish(now time.Time) {
	g.ts.LastPublish = now
}

// Timestamps returns the current timestamp set for persistence and
// diagnostics.
func (g *Governor) Timestamps() device.Timestamps {
	return g.ts
}
