package device

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Opcodes observed in captures of the vendor app's traffic. Commands and
// their acknowledgment/report frames share the same opcode.
const (
	OpPower       byte = 0x03
	OpFan         byte = 0x04
	OpStatus      byte = 0x05
	OpOilName     byte = 0x08
	OpBulk        byte = 0x0C
	OpConsumption byte = 0x0E
	OpCapacity    byte = 0x0F
	OpRemaining   byte = 0x10
	OpWorkMode    byte = 0x32
)

// Value bounds used to reject implausible frames; the firmware has been
// seen emitting garbage during oil changes.
const (
	maxConsumptionTenths = 2000
	maxCapacityMl        = 5000
	maxRemainingMl       = 10000

	// maxOilNameBytes is the name length limit the vendor app enforces.
	maxOilNameBytes = 10
)

// Status frame layout (opcode 0x05). Empirical, from captures:
// [0]=opcode, [1:9]=device datetime, then the fields below.
const (
	statusPowerIndex   = 9
	statusFanIndex     = 10
	statusConsStart    = 11
	statusCapStart     = 13
	statusRemainStart  = 20
	statusOilNameStart = 24
)

// Bulk settings frame layout (opcode 0x0C): bytes 11..19 embed the same
// schedule record as a workmode frame minus its two-byte header.
const (
	bulkScheduleStart = 11
	bulkMinLen        = 20
)

// workModeFrameLen is the exact length of a 0x32 0x01 schedule frame:
// 32 01 sh sm eh em flag runHi runLo stopHi stopLo.
const workModeFrameLen = 11

// EncodePower builds a power on/off command.
func EncodePower(on bool) []byte {
	return []byte{OpPower, boolByte(on)}
}

// EncodeFan builds a fan on/off command.
func EncodeFan(on bool) []byte {
	return []byte{OpFan, boolByte(on)}
}

// EncodeOilName builds an oil-name command. The name is truncated to the
// app's 10-byte limit.
func EncodeOilName(name string) []byte {
	b := []byte(name)
	if len(b) > maxOilNameBytes {
		b = b[:maxOilNameBytes]
	}
	return append([]byte{OpOilName}, b...)
}

// EncodeConsumption builds a consumption command. The wire unit is tenths
// of ml/h, big-endian uint16.
func EncodeConsumption(mlPerHour float64) []byte {
	raw := int(mlPerHour*10 + 0.5)
	return opUint16(OpConsumption, clampUint16(raw))
}

// EncodeCapacity builds a tank-capacity command (ml).
func EncodeCapacity(ml int) []byte {
	return opUint16(OpCapacity, clampUint16(ml))
}

// EncodeRemaining builds a remaining-oil command (ml).
func EncodeRemaining(ml int) []byte {
	return opUint16(OpRemaining, clampUint16(ml))
}

// EncodeSchedule builds the full schedule command. The device requires the
// complete record on every change; run/stop are clamped, never rejected.
//
// Returns:
//   - []byte: Wire payload
//   - error: ErrInvalidTime if start or end is not valid HH:MM
func EncodeSchedule(s Schedule) ([]byte, error) {
	s = s.Clamped()

	sh, sm, err := ParseHHMM(s.Start)
	if err != nil {
		return nil, err
	}
	eh, em, err := ParseHHMM(s.End)
	if err != nil {
		return nil, err
	}

	payload := []byte{
		OpWorkMode,
		0x01,
		byte(sh),
		byte(sm),
		byte(eh),
		byte(em),
		s.Flag(),
	}
	payload = binary.BigEndian.AppendUint16(payload, uint16(s.RunSeconds))  // #nosec G115 -- clamped to 999
	payload = binary.BigEndian.AppendUint16(payload, uint16(s.StopSeconds)) // #nosec G115 -- clamped to 999
	return payload, nil
}

// EncodeStatusRequest builds the default status query.
func EncodeStatusRequest() []byte {
	return []byte{OpStatus}
}

// EncodeBulkRequest builds the bulk settings query (includes the schedule).
func EncodeBulkRequest() []byte {
	return []byte{OpBulk}
}

// IsSetOpcode reports whether an opcode is one of our own "set" commands.
// Template learning must ignore these: we want the app's status request,
// not an echo of a write.
func IsSetOpcode(op byte) bool {
	switch op {
	case OpPower, OpFan, OpOilName, OpConsumption, OpCapacity, OpRemaining, OpWorkMode:
		return true
	}
	return false
}

// Apply decodes an incoming device payload into the state mirror.
//
// It handles the four frame families the device emits: full status (0x05),
// bulk settings (0x0C), schedule reports (0x32), and single-property frames
// some firmwares send instead of the big status frame. Unknown opcodes
// return ErrUnknownOpcode; malformed known frames return ErrInvalidFrame.
//
// Returns:
//   - bool: true if any state field changed
//   - error: nil on success
func (s *State) Apply(payload []byte) (bool, error) {
	if len(payload) == 0 {
		return false, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}

	switch payload[0] {
	case OpStatus:
		return s.applyStatus(payload), nil
	case OpBulk:
		return s.applyBulk(payload)
	case OpWorkMode:
		return s.applyWorkMode(payload)
	default:
		return s.applySimple(payload)
	}
}

// applyStatus decodes the full status frame. Fields are applied
// independently: a short frame still yields whatever it carries.
func (s *State) applyStatus(p []byte) bool {
	changed := false

	if len(p) > statusFanIndex {
		changed = setBool(&s.Power, p[statusPowerIndex] != 0) || changed
		changed = setBool(&s.Fan, p[statusFanIndex] != 0) || changed
	}

	if len(p) >= statusCapStart+2 {
		cons := int(binary.BigEndian.Uint16(p[statusConsStart : statusConsStart+2]))
		cap := int(binary.BigEndian.Uint16(p[statusCapStart : statusCapStart+2]))
		if cons >= 0 && cons <= maxConsumptionTenths {
			changed = setFloat(&s.ConsumptionMlH, float64(cons)/10.0) || changed
		}
		if cap > 0 && cap <= maxCapacityMl {
			changed = setInt(&s.CapacityMl, cap) || changed
		}
	}

	if len(p) >= statusRemainStart+2 {
		remain := int(binary.BigEndian.Uint16(p[statusRemainStart : statusRemainStart+2]))
		if remain >= 0 && remain <= maxRemainingMl {
			changed = setInt(&s.RemainingMl, remain) || changed
		}
	}

	if len(p) > statusOilNameStart {
		if name := decodeName(p[statusOilNameStart:]); name != "" && name != s.OilName {
			s.OilName = name
			changed = true
		}
	}

	s.updateLiquidLevel()
	return changed
}

// applyBulk decodes the bulk settings frame, extracting the embedded
// schedule record.
func (s *State) applyBulk(p []byte) (bool, error) {
	if len(p) < bulkMinLen {
		return false, fmt.Errorf("%w: bulk frame too short (%d bytes)", ErrInvalidFrame, len(p))
	}
	return s.applyScheduleRecord(p[bulkScheduleStart : bulkScheduleStart+9])
}

// applyWorkMode decodes a 0x32 0x01 schedule frame.
func (s *State) applyWorkMode(p []byte) (bool, error) {
	if len(p) != workModeFrameLen {
		return false, fmt.Errorf("%w: workmode frame length %d", ErrInvalidFrame, len(p))
	}
	return s.applyScheduleRecord(p[2:])
}

// applyScheduleRecord decodes the common 9-byte schedule record:
// sh sm eh em flag runBE stopBE.
func (s *State) applyScheduleRecord(rec []byte) (bool, error) {
	sh, sm, eh, em := int(rec[0]), int(rec[1]), int(rec[2]), int(rec[3])
	if sh > 23 || eh > 23 || sm > 59 || em > 59 {
		return false, fmt.Errorf("%w: schedule times out of range", ErrInvalidFrame)
	}
	flag := rec[4]
	sched := Schedule{
		Enabled:     flag&scheduleEnabledBit != 0,
		Start:       FormatHHMM(sh, sm),
		End:         FormatHHMM(eh, em),
		RunSeconds:  int(binary.BigEndian.Uint16(rec[5:7])),
		StopSeconds: int(binary.BigEndian.Uint16(rec[7:9])),
		DaysMask:    flag & daysMaskBits,
	}
	if s.Schedule != nil && *s.Schedule == sched {
		return false, nil
	}
	s.Schedule = &sched
	return true, nil
}

// applySimple decodes single-property frames. Some firmwares report
// individual updates instead of the big status frame; handling them keeps
// the mirror from staying blank.
func (s *State) applySimple(p []byte) (bool, error) {
	switch p[0] {
	case OpPower:
		if len(p) < 2 {
			return false, fmt.Errorf("%w: short power frame", ErrInvalidFrame)
		}
		return setBool(&s.Power, p[1] != 0), nil

	case OpFan:
		if len(p) < 2 {
			return false, fmt.Errorf("%w: short fan frame", ErrInvalidFrame)
		}
		return setBool(&s.Fan, p[1] != 0), nil

	case OpOilName:
		if len(p) < 2 {
			return false, fmt.Errorf("%w: short oil name frame", ErrInvalidFrame)
		}
		if name := decodeName(p[1:]); name != "" && name != s.OilName {
			s.OilName = name
			return true, nil
		}
		return false, nil

	case OpConsumption:
		raw, err := simpleUint16(p)
		if err != nil {
			return false, err
		}
		return setFloat(&s.ConsumptionMlH, float64(raw)/10.0), nil

	case OpCapacity:
		raw, err := simpleUint16(p)
		if err != nil {
			return false, err
		}
		changed := setInt(&s.CapacityMl, raw)
		s.updateLiquidLevel()
		return changed, nil

	case OpRemaining:
		raw, err := simpleUint16(p)
		if err != nil {
			return false, err
		}
		changed := setInt(&s.RemainingMl, raw)
		s.updateLiquidLevel()
		return changed, nil
	}

	return false, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, p[0])
}

// PayloadHex renders a payload as space-separated hex for diagnostics.
func PayloadHex(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	h := hex.EncodeToString(p)
	var b strings.Builder
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(h[i : i+2])
	}
	return b.String()
}

func simpleUint16(p []byte) (int, error) {
	if len(p) < 3 {
		return 0, fmt.Errorf("%w: short frame for opcode 0x%02X", ErrInvalidFrame, p[0])
	}
	return int(binary.BigEndian.Uint16(p[1:3])), nil
}

// decodeName extracts a NUL-terminated UTF-8 name.
func decodeName(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func boolByte(v bool) byte {
	if v {
		return 0x01
	}
	return 0x00
}

func clampUint16(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func opUint16(op byte, v uint16) []byte {
	payload := []byte{op}
	return binary.BigEndian.AppendUint16(payload, v)
}

func setBool(dst **bool, v bool) bool {
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func setInt(dst **int, v int) bool {
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func setFloat(dst **float64, v float64) bool {
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}
