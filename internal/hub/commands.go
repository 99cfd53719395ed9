package hub

import (
	"context"
	"time"

	"github.com/devilrob/felshare-cloud/internal/cloud"
	"github.com/devilrob/felshare-cloud/internal/device"
	"github.com/devilrob/felshare-cloud/internal/hvacsync"
)

// Diagnostics is the hub's full observability surface.
type Diagnostics struct {
	Connection      cloud.Status      `json:"connection"`
	DeviceConnected bool              `json:"device_connected"`
	OutboxLength    int               `json:"outbox_length"`
	OutboxPending   []string          `json:"outbox_pending,omitempty"`
	Timestamps      device.Timestamps `json:"timestamps"`
	HvacSync        hvacsync.Status   `json:"hvac_sync"`
	TemplateLearned bool              `json:"template_learned"`
	LastError       string            `json:"last_error,omitempty"`
}

// RefreshResult reports what a manual refresh actually sent.
type RefreshResult struct {
	StatusRequested bool `json:"status_requested"`
	BulkRequested   bool `json:"bulk_requested"`
	TemplateLearned bool `json:"template_learned"`
}

// State returns a snapshot of the mirrored device state.
func (h *Hub) State(ctx context.Context) (device.State, error) {
	var out device.State
	err := h.do(ctx, func() {
		out = h.state.Clone()
	})
	return out, err
}

// Diagnostics returns the hub's diagnostic view.
func (h *Hub) Diagnostics(ctx context.Context) (Diagnostics, error) {
	var out Diagnostics
	err := h.do(ctx, func() {
		out = Diagnostics{
			DeviceConnected: h.connected,
			OutboxLength:    h.box.Len(),
			OutboxPending:   h.box.PendingKeys(),
			Timestamps:      h.governor.Timestamps(),
			HvacSync:        h.engine.Status(time.Now()),
			TemplateLearned: h.templateLearned,
			LastError:       h.lastError,
		}
	})
	if err != nil {
		return Diagnostics{}, err
	}
	if h.deps.ConnStatus != nil {
		out.Connection = h.deps.ConnStatus()
	}
	return out, nil
}

// SetPower requests a power change. Rejected while HVAC sync holds the
// lock.
func (h *Hub) SetPower(ctx context.Context, on bool) error {
	return h.write(ctx, func() error {
		if h.engine.Locked() {
			return ErrCommandRejected
		}
		h.enqueuePower(time.Now(), on)
		return nil
	})
}

// SetFan requests a fan change. Fan is not covered by the sync lock.
func (h *Hub) SetFan(ctx context.Context, on bool) error {
	return h.write(ctx, func() error {
		now := time.Now()
		h.state.Fan = &on
		h.box.Enqueue(keyFan, device.EncodeFan(on), now)
		return nil
	})
}

// SetOilName requests an oil name change.
func (h *Hub) SetOilName(ctx context.Context, name string) error {
	return h.write(ctx, func() error {
		h.state.OilName = name
		h.box.Enqueue(keyOilName, device.EncodeOilName(name), time.Now())
		return nil
	})
}

// SetConsumption requests a consumption change (ml/h).
func (h *Hub) SetConsumption(ctx context.Context, mlPerHour float64) error {
	return h.write(ctx, func() error {
		h.state.ConsumptionMlH = &mlPerHour
		h.box.Enqueue(keyConsumption, device.EncodeConsumption(mlPerHour), time.Now())
		return nil
	})
}

// SetCapacity requests a tank capacity change (ml).
func (h *Hub) SetCapacity(ctx context.Context, ml int) error {
	return h.write(ctx, func() error {
		h.state.CapacityMl = &ml
		h.box.Enqueue(keyCapacity, device.EncodeCapacity(ml), time.Now())
		return nil
	})
}

// SetRemaining requests a remaining oil change (ml).
func (h *Hub) SetRemaining(ctx context.Context, ml int) error {
	return h.write(ctx, func() error {
		h.state.RemainingMl = &ml
		h.box.Enqueue(keyRemaining, device.EncodeRemaining(ml), time.Now())
		return nil
	})
}

// SetSchedule requests a work schedule change. The full record always
// goes to the device. Rejected while HVAC sync holds the lock.
func (h *Hub) SetSchedule(ctx context.Context, sched device.Schedule) error {
	// Validate outside the loop so a bad time never occupies it.
	if _, err := device.EncodeSchedule(sched); err != nil {
		return err
	}
	return h.write(ctx, func() error {
		if h.engine.Locked() {
			return ErrCommandRejected
		}
		now := time.Now()
		h.enqueueSchedule(now, sched)
		h.engine.ScheduleEdited(now, h.state, h.connected)
		return nil
	})
}

// SetHvacSync enables or disables thermostat sync.
func (h *Hub) SetHvacSync(ctx context.Context, enabled bool) error {
	return h.write(ctx, func() error {
		now := time.Now()
		if enabled {
			h.engine.Enable(now, h.state, h.connected)
		} else {
			h.engine.Disable(now, h.connected)
		}
		return nil
	})
}

// RefreshStatus asks the device for fresh state, subject to the
// governor's throttles. The result says what was actually requested.
func (h *Hub) RefreshStatus(ctx context.Context) (RefreshResult, error) {
	var out RefreshResult
	err := h.do(ctx, func() {
		status, bulk := h.refreshIfAllowed(time.Now())
		out = RefreshResult{
			StatusRequested: status,
			BulkRequested:   bulk,
			TemplateLearned: h.templateLearned,
		}
	})
	return out, err
}

// write marshals a mutating request onto the loop, collecting its error.
func (h *Hub) write(ctx context.Context, fn func() error) error {
	var opErr error
	if err := h.do(ctx, func() { opErr = fn() }); err != nil {
		return err
	}
	return opErr
}

// enqueuePower updates the mirror optimistically and queues the frame.
// Callers handle the lock check; the engine comes through here exempt.
func (h *Hub) enqueuePower(now time.Time, on bool) {
	h.state.Power = &on
	h.box.Enqueue(keyPower, device.EncodePower(on), now)
}

func (h *Hub) enqueueSchedule(now time.Time, sched device.Schedule) {
	sched = sched.Clamped()
	payload, err := device.EncodeSchedule(sched)
	if err != nil {
		h.logger.Error("unencodable schedule dropped", "error", err)
		return
	}
	s := sched
	h.state.Schedule = &s
	h.box.Enqueue(keySchedule, payload, now)
}
