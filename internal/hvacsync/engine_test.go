package hvacsync

import (
	"testing"
	"time"

	"github.com/devilrob/felshare-cloud/internal/device"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/config"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/logging"
	"github.com/devilrob/felshare-cloud/internal/store"
)

type sinkCall struct {
	kind     string // "power" or "schedule"
	power    bool
	schedule device.Schedule
}

type mockSink struct {
	calls []sinkCall
}

func (m *mockSink) EnqueuePower(on bool) {
	m.calls = append(m.calls, sinkCall{kind: "power", power: on})
}

func (m *mockSink) EnqueueSchedule(s device.Schedule) {
	m.calls = append(m.calls, sinkCall{kind: "schedule", schedule: s})
}

func (m *mockSink) last(t *testing.T) sinkCall {
	t.Helper()
	if len(m.calls) == 0 {
		t.Fatal("no commands enqueued")
	}
	return m.calls[len(m.calls)-1]
}

type mockKeeper struct {
	saved   *store.Snapshot
	cleared bool
}

func (m *mockKeeper) Save(snap store.Snapshot) { s := snap; m.saved = &s }
func (m *mockKeeper) Clear()                   { m.cleared = true }

// mockTimer records scheduled timers and lets the test fire them by hand.
type mockTimer struct {
	scheduled map[string]time.Duration
	canceled  []string
	lastID    string
}

func newMockTimer() *mockTimer {
	return &mockTimer{scheduled: make(map[string]time.Duration)}
}

func (m *mockTimer) Schedule(id string, d time.Duration) {
	m.scheduled[id] = d
	m.lastID = id
}

func (m *mockTimer) Cancel(id string) {
	delete(m.scheduled, id)
	m.canceled = append(m.canceled, id)
}

type engineFixture struct {
	engine *Engine
	sink   *mockSink
	keeper *mockKeeper
	timer  *mockTimer
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		sink:   &mockSink{},
		keeper: &mockKeeper{},
		timer:  newMockTimer(),
	}
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	f.engine = New(Options{
		Mode:     AirflowCoolingOnly,
		OnDelay:  60 * time.Second,
		OffDelay: 60 * time.Second,
	}, f.sink, f.keeper, f.timer, logger)
	return f
}

func deviceState(power bool, sched device.Schedule) *device.State {
	p := power
	s := sched
	return &device.State{Power: &p, Schedule: &s, Connected: true}
}

func manualSchedule() device.Schedule {
	return device.Schedule{
		Enabled:     true,
		Start:       "08:00",
		End:         "22:00",
		RunSeconds:  30,
		StopSeconds: 190,
		DaysMask:    device.DaysAll,
	}
}

func TestEnableForcesCadencePreservingWindow(t *testing.T) {
	f := newFixture(t)
	state := deviceState(true, manualSchedule())

	f.engine.Enable(monday(10, 0), state, true)

	if f.engine.State() != StateLockedIdle {
		t.Fatalf("state = %q, want locked_idle", f.engine.State())
	}

	call := f.sink.last(t)
	if call.kind != "schedule" {
		t.Fatalf("last command = %q, want schedule", call.kind)
	}
	s := call.schedule
	if s.RunSeconds != 60 || s.StopSeconds != 180 || !s.Enabled {
		t.Errorf("forced schedule = %+v, want run 60 stop 180 enabled", s)
	}
	if s.Start != "08:00" || s.End != "22:00" || s.DaysMask != device.DaysAll {
		t.Errorf("forced schedule window changed: %+v", s)
	}

	if f.keeper.saved == nil {
		t.Fatal("no snapshot persisted")
	}
	if f.keeper.saved.Schedule.RunSeconds != 30 || f.keeper.saved.Schedule.StopSeconds != 190 {
		t.Errorf("snapshot = %+v, want pre-sync run/stop", f.keeper.saved.Schedule)
	}
}

func TestDisableRestoresSnapshotVerbatim(t *testing.T) {
	f := newFixture(t)
	state := deviceState(true, manualSchedule())

	f.engine.Enable(monday(10, 0), state, true)
	f.sink.calls = nil

	f.engine.Disable(monday(11, 0), true)

	if f.engine.State() != StateDisabled {
		t.Fatalf("state = %q, want disabled", f.engine.State())
	}
	if len(f.sink.calls) != 2 {
		t.Fatalf("restore issued %d commands, want schedule then power", len(f.sink.calls))
	}
	sched := f.sink.calls[0]
	if sched.kind != "schedule" || sched.schedule != manualSchedule() {
		t.Errorf("restored schedule = %+v, want original", sched.schedule)
	}
	pwr := f.sink.calls[1]
	if pwr.kind != "power" || !pwr.power {
		t.Errorf("restored power = %+v, want on", pwr)
	}
	if !f.keeper.cleared {
		t.Error("snapshot not discarded after restore")
	}
}

func TestDisableDefersRestoreWhileOffline(t *testing.T) {
	f := newFixture(t)
	state := deviceState(true, manualSchedule())

	f.engine.Enable(monday(10, 0), state, true)
	f.sink.calls = nil

	f.engine.Disable(monday(11, 0), false)
	if len(f.sink.calls) != 0 {
		t.Fatal("restore commands sent while offline")
	}

	// Device comes back: restore must happen exactly once.
	f.engine.HandleDeviceState(monday(11, 5), state, true)
	if len(f.sink.calls) != 2 {
		t.Fatalf("deferred restore issued %d commands, want 2", len(f.sink.calls))
	}
	f.engine.HandleDeviceState(monday(11, 6), state, true)
	if len(f.sink.calls) != 2 {
		t.Error("restore repeated on subsequent device state")
	}
}

func TestArmedUntilFirstDeviceState(t *testing.T) {
	f := newFixture(t)
	blank := &device.State{}

	f.engine.Enable(monday(10, 0), blank, true)
	if f.engine.State() != StateArmed {
		t.Fatalf("state = %q, want armed before any device state", f.engine.State())
	}
	if f.engine.Locked() {
		t.Error("armed engine reports locked")
	}

	f.engine.HandleDeviceState(monday(10, 1), deviceState(false, manualSchedule()), true)
	if f.engine.State() != StateLockedIdle {
		t.Fatalf("state = %q, want locked_idle after first device state", f.engine.State())
	}
	if !f.engine.Locked() {
		t.Error("locked engine reports unlocked")
	}
}

func TestAirflowTurnOnAfterDelay(t *testing.T) {
	f := newFixture(t)
	state := deviceState(false, forcedSchedule())

	f.engine.Enable(monday(10, 0), state, true)
	f.sink.calls = nil

	f.engine.HandleThermostat(ThermostatEvent{State: "cool", Action: "cooling"},
		monday(10, 1), state, true)

	if len(f.sink.calls) != 0 {
		t.Fatal("power sent before the on-delay elapsed")
	}
	if f.timer.lastID == "" {
		t.Fatal("no delay timer scheduled")
	}

	f.engine.HandleTimer(f.timer.lastID, monday(10, 2), state, true)

	call := f.sink.last(t)
	if call.kind != "power" || !call.power {
		t.Errorf("command after delay = %+v, want power on", call)
	}
	if f.engine.State() != StateLockedActive {
		t.Errorf("state = %q, want locked_active", f.engine.State())
	}
}

func TestShortCyclingNeverSendsOff(t *testing.T) {
	f := newFixture(t)
	state := deviceState(false, forcedSchedule())

	f.engine.Enable(monday(10, 0), state, true)
	f.engine.HandleThermostat(ThermostatEvent{State: "cool", Action: "cooling"},
		monday(10, 1), state, true)
	f.engine.HandleTimer(f.timer.lastID, monday(10, 2), state, true)
	f.sink.calls = nil

	// Thermostat cycles idle and back inside the off-delay.
	f.engine.HandleThermostat(ThermostatEvent{State: "cool", Action: "idle"},
		monday(10, 3), state, true)
	offTimer := f.timer.lastID
	f.engine.HandleThermostat(ThermostatEvent{State: "cool", Action: "cooling"},
		monday(10, 3), state, true)

	for _, id := range f.timer.canceled {
		if id == offTimer {
			offTimer = ""
		}
	}
	if offTimer != "" {
		t.Error("off-delay timer not canceled when airflow resumed")
	}
	for _, c := range f.sink.calls {
		if c.kind == "power" && !c.power {
			t.Fatal("OFF command sent despite short cycling")
		}
	}
	if f.engine.State() != StateLockedActive {
		t.Errorf("state = %q, want still locked_active", f.engine.State())
	}
}

func TestStaleTimerIgnored(t *testing.T) {
	f := newFixture(t)
	state := deviceState(false, forcedSchedule())

	f.engine.Enable(monday(10, 0), state, true)
	f.sink.calls = nil

	f.engine.HandleTimer("not-a-real-timer", monday(10, 1), state, true)
	if len(f.sink.calls) != 0 {
		t.Error("stale timer id produced a command")
	}
}

func TestDriftedCadenceReForced(t *testing.T) {
	f := newFixture(t)
	state := deviceState(false, forcedSchedule())

	f.engine.Enable(monday(10, 0), state, true)
	f.sink.calls = nil

	// Someone edited run/stop from the phone app.
	drifted := forcedSchedule()
	drifted.RunSeconds = 500
	f.engine.HandleDeviceState(monday(10, 5), deviceState(false, drifted), true)

	call := f.sink.last(t)
	if call.kind != "schedule" || call.schedule.RunSeconds != 60 || call.schedule.StopSeconds != 180 {
		t.Errorf("re-force command = %+v", call)
	}
}

func TestOutOfWindowBlocksDesired(t *testing.T) {
	f := newFixture(t)
	sched := forcedSchedule()
	sched.Start, sched.End = "08:00", "09:00"
	state := deviceState(false, sched)

	f.engine.Enable(monday(12, 0), state, true)
	f.sink.calls = nil
	f.timer.lastID = ""

	f.engine.HandleThermostat(ThermostatEvent{State: "cool", Action: "cooling"},
		monday(12, 1), state, true)

	if f.timer.lastID != "" {
		t.Error("transition scheduled outside the schedule window")
	}
	st := f.engine.Status(monday(12, 1))
	if st.Desired || st.InWindow {
		t.Errorf("status = %+v, want not desired out of window", st)
	}
	if !st.AirflowActive {
		t.Error("airflow should still report active")
	}
}

// forcedSchedule is a schedule already carrying the forced cadence, so
// enabling sync on it produces no drift re-force noise.
func forcedSchedule() device.Schedule {
	return device.Schedule{
		Enabled:     true,
		Start:       "00:00",
		End:         "00:00",
		RunSeconds:  ForcedRunSeconds,
		StopSeconds: ForcedStopSeconds,
		DaysMask:    device.DaysAll,
	}
}
