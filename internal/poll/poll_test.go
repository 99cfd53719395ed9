package poll

import (
	"testing"
	"time"

	"github.com/devilrob/felshare-cloud/internal/device"
)

var t0 = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newGovernor(ts device.Timestamps) *Governor {
	return NewGovernor(time.Minute, 6*time.Hour, 30*time.Minute, ts)
}

func TestStatusDebounce(t *testing.T) {
	g := newGovernor(device.Timestamps{})

	if !g.AllowStatus(t0) {
		t.Fatal("first status query denied")
	}
	if g.AllowStatus(t0.Add(30 * time.Second)) {
		t.Error("status query allowed inside debounce interval")
	}
	if !g.AllowStatus(t0.Add(time.Minute)) {
		t.Error("status query denied after full interval")
	}
}

func TestStatusSeededFromPersistedTimestamps(t *testing.T) {
	g := newGovernor(device.Timestamps{LastStatusRequest: t0})

	if g.AllowStatus(t0.Add(10 * time.Second)) {
		t.Error("restart bypassed the persisted debounce")
	}
}

func TestBulkCycle(t *testing.T) {
	g := newGovernor(device.Timestamps{LastSeen: t0})

	if !g.AllowBulk(t0) {
		t.Fatal("first bulk query denied")
	}

	g.MarkSeen(t0.Add(time.Hour)) // device chatting, not stale
	if g.AllowBulk(t0.Add(time.Hour)) {
		t.Error("bulk query allowed mid-cycle on a healthy device")
	}
	if !g.AllowBulk(t0.Add(6 * time.Hour)) {
		t.Error("bulk query denied after a full cycle")
	}
}

func TestBulkStaleOverride(t *testing.T) {
	g := newGovernor(device.Timestamps{LastSeen: t0})

	if !g.AllowBulk(t0) {
		t.Fatal("first bulk query denied")
	}

	// Device silent for 30 minutes: override the 6 hour cycle.
	at := t0.Add(30 * time.Minute)
	if !g.Stale(at) {
		t.Fatal("device not stale after silence threshold")
	}
	if !g.AllowBulk(at) {
		t.Error("stale override did not permit a bulk query")
	}

	// Still silent: retries are paced, not per-tick.
	if g.AllowBulk(at.Add(time.Second)) {
		t.Error("stale retry allowed immediately after previous")
	}
	if !g.AllowBulk(at.Add(time.Minute)) {
		t.Error("stale retry denied after pacing interval")
	}
}

func TestStaleWhenNeverSeen(t *testing.T) {
	g := newGovernor(device.Timestamps{})
	if !g.Stale(t0) {
		t.Error("never-seen device reported fresh")
	}

	g.MarkSeen(t0)
	if g.Stale(t0.Add(time.Minute)) {
		t.Error("recently seen device reported stale")
	}
}

func TestTimestampsRoundTrip(t *testing.T) {
	g := newGovernor(device.Timestamps{})

	g.MarkSeen(t0)
	g.MarkPublish(t0.Add(time.Second))
	g.AllowStatus(t0.Add(2 * time.Second))

	ts := g.Timestamps()
	if !ts.LastSeen.Equal(t0) {
		t.Errorf("last_seen = %v", ts.LastSeen)
	}
	if !ts.LastPublish.Equal(t0.Add(time.Second)) {
		t.Errorf("last_publish = %v", ts.LastPublish)
	}
	if !ts.LastStatusRequest.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("last_status_request = %v", ts.LastStatusRequest)
	}
}
