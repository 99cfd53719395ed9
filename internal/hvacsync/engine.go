package hvacsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/devilrob/felshare-cloud/internal/device"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/logging"
	"github.com/devilrob/felshare-cloud/internal/store"
)

// Engine states. Armed covers the gap between the user enabling sync and
// the first device state arriving; nothing is forced or locked until the
// schedule to preserve is actually known.
const (
	StateDisabled     = "disabled"
	StateArmed        = "armed"
	StateLockedIdle   = "locked_idle"
	StateLockedActive = "locked_active"
)

const (
	eventEnable  = "enable"
	eventLock    = "lock"
	eventEngage  = "engage"
	eventRelease = "release"
	eventDisable = "disable"
)

// Forced work cadence while sync is active. The device gates diffusion
// with its run/stop cycle; these values keep mist output steady so power
// alone decides on or off.
const (
	ForcedRunSeconds  = 60
	ForcedStopSeconds = 180
)

// CommandSink receives the engine's device writes. These bypass the
// manual-control lock; the hub enqueues them directly.
type CommandSink interface {
	EnqueuePower(on bool)
	EnqueueSchedule(s device.Schedule)
}

// SnapshotKeeper persists manual snapshots without blocking the caller.
type SnapshotKeeper interface {
	Save(snap store.Snapshot)
	Clear()
}

// TransitionTimer schedules cancelable delay timers. Expiry must be
// delivered back to the engine via HandleTimer on the owning loop.
type TransitionTimer interface {
	Schedule(id string, d time.Duration)
	Cancel(id string)
}

// Options configures an Engine.
type Options struct {
	Mode     AirflowMode
	OnDelay  time.Duration
	OffDelay time.Duration

	// Snapshot, if non-nil, is a persisted manual snapshot from a prior
	// run, so a restart mid-sync can still restore the user's settings.
	Snapshot *store.Snapshot
}

// Status is the engine's diagnostic view.
type Status struct {
	State         string        `json:"state"`
	AirflowMode   AirflowMode   `json:"airflow_mode"`
	AirflowActive bool          `json:"airflow_active"`
	InWindow      bool          `json:"in_window"`
	Desired       bool          `json:"desired"`
	Reason        string        `json:"reason"`
	PendingTarget *bool         `json:"pending_target,omitempty"`
	PendingIn     time.Duration `json:"pending_in,omitempty"`
	HasSnapshot   bool          `json:"has_snapshot"`
}

// Engine drives the sync state machine. All methods must be called from
// the hub's event loop.
type Engine struct {
	mode     AirflowMode
	onDelay  time.Duration
	offDelay time.Duration

	sink   CommandSink
	snaps  SnapshotKeeper
	timers TransitionTimer
	logger *logging.Logger

	machine *fsm.FSM

	snapshot   *store.Snapshot
	thermostat ThermostatEvent

	pendingID     string
	pendingTarget bool
	pendingAt     time.Time

	// Work deferred while the device was offline.
	restorePending bool
	forcedPending  bool

	lastReason string
	lastInWin  bool
	lastActive bool
	lastWanted bool
}

// New creates an Engine in the Disabled state.
func New(opts Options, sink CommandSink, snaps SnapshotKeeper, timers TransitionTimer, logger *logging.Logger) *Engine {
	e := &Engine{
		mode:     opts.Mode,
		onDelay:  opts.OnDelay,
		offDelay: opts.OffDelay,
		sink:     sink,
		snaps:    snaps,
		timers:   timers,
		logger:   logger.With("component", "hvac-sync"),
		snapshot: opts.Snapshot,
	}
	e.machine = fsm.NewFSM(StateDisabled, fsm.Events{
		{Name: eventEnable, Src: []string{StateDisabled}, Dst: StateArmed},
		{Name: eventLock, Src: []string{StateArmed}, Dst: StateLockedIdle},
		{Name: eventEngage, Src: []string{StateLockedIdle}, Dst: StateLockedActive},
		{Name: eventRelease, Src: []string{StateLockedActive}, Dst: StateLockedIdle},
		{Name: eventDisable, Src: []string{StateArmed, StateLockedIdle, StateLockedActive}, Dst: StateDisabled},
	}, fsm.Callbacks{})
	return e
}

// State returns the current machine state.
func (e *Engine) State() string {
	return e.machine.Current()
}

// Enabled reports whether sync is on in any form.
func (e *Engine) Enabled() bool {
	return e.State() != StateDisabled
}

// Locked reports whether manual writes to power and schedule must be
// rejected. Engine writes go through CommandSink and are exempt.
func (e *Engine) Locked() bool {
	s := e.State()
	return s == StateLockedIdle || s == StateLockedActive
}

// Enable turns sync on. If the device's schedule is already known, the
// manual snapshot is captured and the forced cadence applied at once;
// otherwise the engine arms and waits for the first device state.
func (e *Engine) Enable(now time.Time, state *device.State, connected bool) {
	if e.Enabled() {
		return
	}
	e.must(eventEnable)
	e.logger.Info("sync enabled", "mode", string(e.mode))

	if state.Schedule != nil {
		e.lockAndForce(now, state, connected)
	} else {
		e.forcedPending = true
		e.lastReason = "awaiting_device_state"
	}
	e.Evaluate(now, state, connected)
}

// Disable turns sync off, restoring the manual snapshot. If the device
// is offline the restore is deferred to the next connected state.
func (e *Engine) Disable(now time.Time, connected bool) {
	if !e.Enabled() {
		return
	}
	e.cancelPending()
	e.forcedPending = false
	e.must(eventDisable)

	if e.snapshot == nil {
		e.logger.Warn("sync disabled with no snapshot to restore")
		e.lastReason = "disabled"
		return
	}
	if !connected {
		e.restorePending = true
		e.lastReason = "restore_deferred_offline"
		e.logger.Info("sync disabled, restore deferred until device is back")
		return
	}
	e.restore()
}

// HandleThermostat records a thermostat report and re-evaluates.
func (e *Engine) HandleThermostat(evt ThermostatEvent, now time.Time, state *device.State, connected bool) {
	e.thermostat = evt
	e.Evaluate(now, state, connected)
}

// HandleDeviceState runs after the mirrored device state changes or the
// connection comes back. It completes deferred work, enforces the forced
// cadence against out-of-band edits, and re-evaluates.
func (e *Engine) HandleDeviceState(now time.Time, state *device.State, connected bool) {
	if e.restorePending && connected {
		e.restorePending = false
		e.restore()
	}

	if e.State() == StateArmed && state.Schedule != nil {
		e.lockAndForce(now, state, connected)
	}

	if e.Locked() && connected {
		if e.forcedPending {
			e.forcedPending = false
			e.applyForced(state)
		} else if s := state.Schedule; s != nil &&
			(s.RunSeconds != ForcedRunSeconds || s.StopSeconds != ForcedStopSeconds || !s.Enabled) {
			e.logger.Info("forced cadence drifted, re-applying",
				"run_s", s.RunSeconds, "stop_s", s.StopSeconds, "enabled", s.Enabled)
			e.applyForced(state)
		}
	}

	e.Evaluate(now, state, connected)
}

// HandleTimer resolves a delay timer expiry. Stale ids from canceled
// timers are ignored.
func (e *Engine) HandleTimer(id string, now time.Time, state *device.State, connected bool) {
	if id != e.pendingID {
		return
	}
	e.pendingID = ""

	target := e.pendingTarget
	if !e.Locked() {
		return
	}
	if target && e.State() == StateLockedIdle {
		e.must(eventEngage)
	} else if !target && e.State() == StateLockedActive {
		e.must(eventRelease)
	} else {
		return
	}

	e.sink.EnqueuePower(target)
	e.logger.Info("diffusion gated", "power", target, "reason", e.lastReason)
	e.Evaluate(now, state, connected)
}

// ScheduleEdited must be called when the work schedule changes through
// our own surface while sync is enabled, so the window edge takes effect
// immediately instead of on the next thermostat event.
func (e *Engine) ScheduleEdited(now time.Time, state *device.State, connected bool) {
	if !e.Enabled() {
		return
	}
	e.Evaluate(now, state, connected)
}

// Evaluate recomputes desired diffusion and manages the delay timer.
func (e *Engine) Evaluate(now time.Time, state *device.State, connected bool) {
	if !e.Locked() {
		return
	}

	desired, reason := e.desired(now, state)
	e.lastWanted = desired
	e.lastReason = reason

	current := e.State() == StateLockedActive
	if desired == current {
		// Desired reverted before the delay fired: cancel, no side effect.
		if e.pendingID != "" {
			e.cancelPending()
		}
		return
	}

	if e.pendingID != "" && e.pendingTarget == desired {
		return // already counting down to the right target
	}
	e.cancelPending()

	delay := e.onDelay
	if !desired {
		delay = e.offDelay
	}
	e.pendingID = uuid.NewString()
	e.pendingTarget = desired
	e.pendingAt = now.Add(delay)
	e.timers.Schedule(e.pendingID, delay)
	e.logger.Debug("transition pending",
		"target", desired, "delay", delay.String(), "reason", reason)
}

// Status returns the diagnostic view.
func (e *Engine) Status(now time.Time) Status {
	st := Status{
		State:         e.State(),
		AirflowMode:   e.mode,
		AirflowActive: e.lastActive,
		InWindow:      e.lastInWin,
		Desired:       e.lastWanted,
		Reason:        e.lastReason,
		HasSnapshot:   e.snapshot != nil,
	}
	if e.pendingID != "" {
		target := e.pendingTarget
		st.PendingTarget = &target
		if d := e.pendingAt.Sub(now); d > 0 {
			st.PendingIn = d
		}
	}
	return st
}

// desired computes airflow AND window, with a reason for diagnostics.
func (e *Engine) desired(now time.Time, state *device.State) (bool, string) {
	e.lastActive = e.mode.Active(e.thermostat)
	e.lastInWin = false

	if state.Schedule == nil {
		return false, "work_schedule_unknown"
	}
	if state.Schedule.DaysMask == 0 {
		return false, "work_schedule_no_days"
	}
	e.lastInWin = InWindow(now, *state.Schedule)

	switch {
	case !e.lastInWin:
		return false, "out_of_schedule"
	case !e.lastActive:
		return false, "airflow_inactive"
	default:
		return true, "airflow_active_in_schedule"
	}
}

// lockAndForce captures the manual snapshot and applies the forced
// cadence, moving Armed to Locked-Idle.
func (e *Engine) lockAndForce(now time.Time, state *device.State, connected bool) {
	snap := store.Snapshot{
		Power:      clonePtr(state.Power),
		Schedule:   clonePtr(state.Schedule),
		CapturedAt: now,
	}
	e.snapshot = &snap
	e.snaps.Save(snap)
	e.must(eventLock)
	e.logger.Info("manual controls locked, snapshot captured")

	if connected {
		e.forcedPending = false
		e.applyForced(state)
	} else {
		e.forcedPending = true
	}
}

// applyForced sends the full schedule with the forced cadence, keeping
// the user's days and window.
func (e *Engine) applyForced(state *device.State) {
	base := device.Schedule{Start: "00:00", End: "00:00", DaysMask: device.DaysAll}
	if state.Schedule != nil {
		base = *state.Schedule
	}
	base.Enabled = true
	base.RunSeconds = ForcedRunSeconds
	base.StopSeconds = ForcedStopSeconds
	e.sink.EnqueueSchedule(base)
}

// restore pushes the snapshot back to the device and discards it.
func (e *Engine) restore() {
	snap := e.snapshot
	e.snapshot = nil
	e.snaps.Clear()
	e.lastReason = "disabled"

	if snap.Schedule != nil {
		e.sink.EnqueueSchedule(*snap.Schedule)
	}
	if snap.Power != nil {
		e.sink.EnqueuePower(*snap.Power)
	}
	e.logger.Info("manual snapshot restored")
}

func (e *Engine) cancelPending() {
	if e.pendingID == "" {
		return
	}
	e.timers.Cancel(e.pendingID)
	e.pendingID = ""
}

// must fires a machine event whose source state the caller has already
// checked.
func (e *Engine) must(event string) {
	if err := e.machine.Event(context.Background(), event); err != nil {
		e.logger.Error("state machine rejected event",
			"event", event, "state", e.machine.Current(), "error", err)
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
