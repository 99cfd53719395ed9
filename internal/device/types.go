package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule limits imposed by the device firmware.
const (
	// MaxRunStopSeconds is the hard ceiling for the schedule run/stop
	// durations. The firmware silently misbehaves above this, so values
	// are clamped rather than rejected.
	MaxRunStopSeconds = 999

	// scheduleEnabledBit is the flag-byte bit marking the schedule active;
	// the low seven bits carry the days mask.
	scheduleEnabledBit = 0x80
)

// Schedule is the device's autonomous on/off timer configuration
// ("WorkTime" in the vendor app). The device requires the record to be
// self-consistent, so any change to one field re-transmits all of them.
type Schedule struct {
	Enabled     bool   `json:"enabled"`
	Start       string `json:"start"` // "HH:MM"
	End         string `json:"end"`   // "HH:MM"
	RunSeconds  int    `json:"run_s"`
	StopSeconds int    `json:"stop_s"`
	DaysMask    byte   `json:"days_mask"` // Sun=1 .. Sat=64
}

// Flag returns the wire flag byte: enabled bit plus days mask.
func (s Schedule) Flag() byte {
	flag := s.DaysMask & daysMaskBits
	if s.Enabled {
		flag |= scheduleEnabledBit
	}
	return flag
}

// MarshalJSON adds the decoded day list alongside the raw mask so API
// readers do not have to know the bit assignment.
func (s Schedule) MarshalJSON() ([]byte, error) {
	type plain Schedule
	return json.Marshal(struct {
		plain
		Days string `json:"days"`
	}{plain(s), FormatDays(s.DaysMask)})
}

// Clamped returns a copy with run/stop clamped into [0, MaxRunStopSeconds].
func (s Schedule) Clamped() Schedule {
	s.RunSeconds = ClampRunStop(s.RunSeconds)
	s.StopSeconds = ClampRunStop(s.StopSeconds)
	return s
}

// ClampRunStop clamps a run/stop duration into the firmware's [0,999] range.
func ClampRunStop(seconds int) int {
	if seconds < 0 {
		return 0
	}
	if seconds > MaxRunStopSeconds {
		return MaxRunStopSeconds
	}
	return seconds
}

// State is the in-memory mirror of the diffuser's last known configuration
// and telemetry. Pointer fields are nil until first reported by the device.
type State struct {
	DeviceID  string `json:"device_id"`
	Connected bool   `json:"connected"`

	Power *bool `json:"power,omitempty"`
	Fan   *bool `json:"fan,omitempty"`

	OilName        string   `json:"oil_name,omitempty"`
	ConsumptionMlH *float64 `json:"consumption_ml_h,omitempty"`
	CapacityMl     *int     `json:"capacity_ml,omitempty"`
	RemainingMl    *int     `json:"remaining_ml,omitempty"`
	LiquidLevelPct *int     `json:"liquid_level_pct,omitempty"` // derived

	Schedule *Schedule `json:"work_schedule,omitempty"`

	LastTopic      string `json:"last_topic,omitempty"`
	LastPayloadHex string `json:"last_payload_hex,omitempty"`
}

// Clone returns a deep copy, safe to hand outside the owning goroutine.
func (s *State) Clone() State {
	out := *s
	out.Power = clonePtr(s.Power)
	out.Fan = clonePtr(s.Fan)
	out.ConsumptionMlH = clonePtr(s.ConsumptionMlH)
	out.CapacityMl = clonePtr(s.CapacityMl)
	out.RemainingMl = clonePtr(s.RemainingMl)
	out.LiquidLevelPct = clonePtr(s.LiquidLevelPct)
	if s.Schedule != nil {
		sched := *s.Schedule
		out.Schedule = &sched
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// updateLiquidLevel recomputes the derived fill percentage when both
// capacity and remaining volume are known.
func (s *State) updateLiquidLevel() {
	if s.CapacityMl == nil || s.RemainingMl == nil || *s.CapacityMl <= 0 {
		return
	}
	pct := (*s.RemainingMl * 100) / *s.CapacityMl
	s.LiquidLevelPct = &pct
}

// Timestamps tracks the monotonic-comparable instants the throttling
// components agree on. Each field is written only by its owning component:
// LastSeen by the frame handler, LastPublish by the outbox dispatcher,
// LastStatusRequest/LastBulkRequest by the polling governor.
type Timestamps struct {
	LastSeen          time.Time `json:"last_seen"`
	LastPublish       time.Time `json:"last_publish"`
	LastStatusRequest time.Time `json:"last_status_request"`
	LastBulkRequest   time.Time `json:"last_bulk_request"`
}

// ParseHHMM parses a "HH:MM" string into hour and minute.
//
// Returns:
//   - hour, minute: Parsed components
//   - error: ErrInvalidTime (wrapped) if the string is malformed
func ParseHHMM(value string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	return hour, minute, nil
}

// FormatHHMM formats hour and minute as "HH:MM".
func FormatHHMM(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}
