package device

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestEncodeScheduleWireFormat(t *testing.T) {
	s := Schedule{
		Enabled:     true,
		Start:       "08:30",
		End:         "22:00",
		RunSeconds:  60,
		StopSeconds: 180,
		DaysMask:    EncodeDays(time.Monday, time.Wednesday, time.Friday),
	}

	payload, err := EncodeSchedule(s)
	if err != nil {
		t.Fatalf("EncodeSchedule: %v", err)
	}

	want := []byte{0x32, 0x01, 8, 30, 22, 0, 0x80 | 42, 0x00, 0x3C, 0x00, 0xB4}
	if len(payload) != len(want) {
		t.Fatalf("payload length = %d, want %d", len(payload), len(want))
	}
	for i := range want {
		if payload[i] != want[i] {
			t.Errorf("payload[%d] = 0x%02X, want 0x%02X", i, payload[i], want[i])
		}
	}
}

func TestEncodeScheduleClampsRunStop(t *testing.T) {
	s := Schedule{Start: "00:00", End: "00:00", RunSeconds: 1500, StopSeconds: -5}

	payload, err := EncodeSchedule(s)
	if err != nil {
		t.Fatalf("EncodeSchedule: %v", err)
	}

	if run := binary.BigEndian.Uint16(payload[7:9]); run != 999 {
		t.Errorf("run = %d, want 999", run)
	}
	if stop := binary.BigEndian.Uint16(payload[9:11]); stop != 0 {
		t.Errorf("stop = %d, want 0", stop)
	}
}

func TestEncodeScheduleRejectsBadTime(t *testing.T) {
	for _, start := range []string{"24:00", "8:30:00", "banana", ""} {
		_, err := EncodeSchedule(Schedule{Start: start, End: "10:00"})
		if !errors.Is(err, ErrInvalidTime) {
			t.Errorf("start %q: err = %v, want ErrInvalidTime", start, err)
		}
	}
}

func TestEncodeOilNameTruncates(t *testing.T) {
	payload := EncodeOilName("lavender dreams forever")
	if len(payload) != 1+maxOilNameBytes {
		t.Fatalf("payload length = %d, want %d", len(payload), 1+maxOilNameBytes)
	}
	if payload[0] != OpOilName {
		t.Errorf("opcode = 0x%02X, want 0x%02X", payload[0], OpOilName)
	}
}

func TestEncodeConsumptionTenths(t *testing.T) {
	payload := EncodeConsumption(12.5)
	if got := binary.BigEndian.Uint16(payload[1:3]); got != 125 {
		t.Errorf("wire value = %d, want 125", got)
	}
}

func TestApplyStatusFrame(t *testing.T) {
	// 0x05, 8 datetime bytes, power, fan, cons u16, cap u16, 5 pad,
	// remaining u16, 2 pad, oil name.
	p := []byte{OpStatus}
	p = append(p, make([]byte, 8)...)
	p = append(p, 0x01, 0x00)       // power on, fan off
	p = append(p, 0x00, 0x7D)       // consumption 12.5 ml/h
	p = append(p, 0x01, 0xF4)       // capacity 500 ml
	p = append(p, make([]byte, 5)...)
	p = append(p, 0x00, 0xFA)       // remaining 250 ml
	p = append(p, make([]byte, 2)...)
	p = append(p, []byte("Citrus\x00\x00")...)

	var s State
	changed, err := s.Apply(p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !changed {
		t.Fatal("Apply reported no change on fresh state")
	}

	if s.Power == nil || !*s.Power {
		t.Error("power not decoded as on")
	}
	if s.Fan == nil || *s.Fan {
		t.Error("fan not decoded as off")
	}
	if s.ConsumptionMlH == nil || *s.ConsumptionMlH != 12.5 {
		t.Errorf("consumption = %v, want 12.5", s.ConsumptionMlH)
	}
	if s.CapacityMl == nil || *s.CapacityMl != 500 {
		t.Errorf("capacity = %v, want 500", s.CapacityMl)
	}
	if s.RemainingMl == nil || *s.RemainingMl != 250 {
		t.Errorf("remaining = %v, want 250", s.RemainingMl)
	}
	if s.OilName != "Citrus" {
		t.Errorf("oil name = %q, want Citrus", s.OilName)
	}
	if s.LiquidLevelPct == nil || *s.LiquidLevelPct != 50 {
		t.Errorf("liquid level = %v, want 50", s.LiquidLevelPct)
	}
}

func TestApplyStatusRejectsImplausibleValues(t *testing.T) {
	p := []byte{OpStatus}
	p = append(p, make([]byte, 8)...)
	p = append(p, 0x01, 0x01)
	p = append(p, 0xFF, 0xFF) // consumption way out of range
	p = append(p, 0xFF, 0xFF) // capacity way out of range

	var s State
	if _, err := s.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.ConsumptionMlH != nil {
		t.Error("implausible consumption was accepted")
	}
	if s.CapacityMl != nil {
		t.Error("implausible capacity was accepted")
	}
}

func TestApplyWorkModeRoundTrip(t *testing.T) {
	in := Schedule{
		Enabled:     true,
		Start:       "06:15",
		End:         "23:45",
		RunSeconds:  90,
		StopSeconds: 300,
		DaysMask:    DaysAll,
	}
	payload, err := EncodeSchedule(in)
	if err != nil {
		t.Fatalf("EncodeSchedule: %v", err)
	}

	var s State
	changed, err := s.Apply(payload)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !changed || s.Schedule == nil {
		t.Fatal("schedule not applied")
	}
	if *s.Schedule != in {
		t.Errorf("schedule = %+v, want %+v", *s.Schedule, in)
	}

	// Re-applying the identical record must not report a change.
	changed, err = s.Apply(payload)
	if err != nil {
		t.Fatalf("Apply (repeat): %v", err)
	}
	if changed {
		t.Error("identical schedule reported as a change")
	}
}

func TestApplyBulkExtractsSchedule(t *testing.T) {
	p := []byte{OpBulk}
	p = append(p, make([]byte, 10)...)
	p = append(p, 7, 0, 19, 30, 0x80|byte(DayMonday), 0x00, 0x3C, 0x00, 0xB4)

	var s State
	if _, err := s.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Schedule == nil {
		t.Fatal("no schedule decoded from bulk frame")
	}
	sched := *s.Schedule
	if !sched.Enabled || sched.Start != "07:00" || sched.End != "19:30" {
		t.Errorf("schedule window = %+v", sched)
	}
	if sched.RunSeconds != 60 || sched.StopSeconds != 180 {
		t.Errorf("run/stop = %d/%d, want 60/180", sched.RunSeconds, sched.StopSeconds)
	}
	if sched.DaysMask != DayMonday {
		t.Errorf("days mask = %d, want %d", sched.DaysMask, DayMonday)
	}
}

func TestApplySimpleFrames(t *testing.T) {
	var s State

	if _, err := s.Apply([]byte{OpPower, 0x01}); err != nil {
		t.Fatalf("power: %v", err)
	}
	if s.Power == nil || !*s.Power {
		t.Error("power frame not applied")
	}

	if _, err := s.Apply([]byte{OpRemaining, 0x00, 0x64}); err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if s.RemainingMl == nil || *s.RemainingMl != 100 {
		t.Errorf("remaining = %v, want 100", s.RemainingMl)
	}
}

func TestApplyUnknownOpcode(t *testing.T) {
	var s State
	_, err := s.Apply([]byte{0x7F, 0x00})
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("err = %v, want ErrUnknownOpcode", err)
	}
}

func TestApplyMalformedFrames(t *testing.T) {
	cases := [][]byte{
		nil,
		{OpWorkMode, 0x01, 1, 2},
		{OpBulk, 0x00},
		{OpPower},
		{OpConsumption, 0x01},
	}
	for _, p := range cases {
		var s State
		if _, err := s.Apply(p); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("payload % X: err = %v, want ErrInvalidFrame", p, err)
		}
	}
}

func TestIsSetOpcode(t *testing.T) {
	for _, op := range []byte{OpPower, OpFan, OpOilName, OpConsumption, OpCapacity, OpRemaining, OpWorkMode} {
		if !IsSetOpcode(op) {
			t.Errorf("opcode 0x%02X should be a set command", op)
		}
	}
	for _, op := range []byte{OpStatus, OpBulk, 0x7F} {
		if IsSetOpcode(op) {
			t.Errorf("opcode 0x%02X should not be a set command", op)
		}
	}
}

func TestPayloadHex(t *testing.T) {
	if got := PayloadHex([]byte{0x32, 0x01, 0xB4}); got != "32 01 b4" {
		t.Errorf("PayloadHex = %q", got)
	}
	if got := PayloadHex(nil); got != "" {
		t.Errorf("PayloadHex(nil) = %q", got)
	}
}
