package hub

import (
	"context"
	"time"

	"github.com/devilrob/felshare-cloud/internal/device"
	"github.com/devilrob/felshare-cloud/internal/store"
)

// engineSink feeds engine writes straight into the outbox, bypassing
// the manual-control lock. Runs on the event loop by construction.
type engineSink struct {
	h *Hub
}

func (s *engineSink) EnqueuePower(on bool) {
	s.h.enqueuePower(time.Now(), on)
}

func (s *engineSink) EnqueueSchedule(sched device.Schedule) {
	s.h.enqueueSchedule(time.Now(), sched)
}

// snapshotKeeper persists manual snapshots without blocking the loop.
type snapshotKeeper struct {
	h *Hub
}

func (k *snapshotKeeper) Save(snap store.Snapshot) {
	h := k.h
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Store.SaveSnapshot(ctx, h.deviceID, snap); err != nil {
			h.logger.Error("persist snapshot failed", "error", err)
		}
	}()
}

func (k *snapshotKeeper) Clear() {
	h := k.h
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Store.ClearSnapshot(ctx, h.deviceID); err != nil {
			h.logger.Error("clear snapshot failed", "error", err)
		}
	}()
}

// transitionTimer resolves engine delay timers through the event loop so
// expiry handling is serialized with everything else.
type transitionTimer struct {
	h *Hub
}

func (t *transitionTimer) Schedule(id string, d time.Duration) {
	h := t.h
	time.AfterFunc(d, func() {
		h.post(func() {
			h.engine.HandleTimer(id, time.Now(), h.state, h.connected)
		})
	})
}

// Cancel is a no-op at the timer level: the engine discards expiries
// whose id no longer matches its pending transition.
func (t *transitionTimer) Cancel(id string) {}
