package hvacsync

import "strings"

// AirflowMode selects which thermostat actions count as active airflow.
type AirflowMode string

const (
	// AirflowCoolingOnly treats only cooling as active airflow.
	AirflowCoolingOnly AirflowMode = "cooling_only"

	// AirflowHeatAndCool treats heating and cooling as active airflow.
	AirflowHeatAndCool AirflowMode = "heat_and_cool"

	// AirflowAny additionally counts fan-only circulation.
	AirflowAny AirflowMode = "any_airflow"
)

// ParseAirflowMode normalizes a configured mode string, accepting the
// spellings different thermostat integrations use. Unknown values fall
// back to cooling-only.
func ParseAirflowMode(s string) AirflowMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heat_cool", "heat+cool", "heat_cool_only", "heat_and_cool":
		return AirflowHeatAndCool
	case "any_airflow", "any", "airflow", "heat_cool_fan":
		return AirflowAny
	default:
		return AirflowCoolingOnly
	}
}

// ThermostatEvent is a thermostat report: its mode-ish state ("cool",
// "heat", "off", ...) and its runtime action ("cooling", "idle", ...).
// The action is what matters; the state only matters when it is "off".
type ThermostatEvent struct {
	State  string `json:"state"`
	Action string `json:"action"`
}

// Active reports whether the event represents airflow under this mode.
//
// A thermostat that is explicitly off never counts, even if a stale
// action string is still attached to the report.
func (m AirflowMode) Active(evt ThermostatEvent) bool {
	if strings.ToLower(strings.TrimSpace(evt.State)) == "off" {
		return false
	}

	action := strings.ToLower(strings.TrimSpace(evt.Action))
	switch m {
	case AirflowHeatAndCool:
		return action == "cooling" || action == "heating"
	case AirflowAny:
		switch action {
		case "cooling", "heating", "fan", "fan_only", "fan-only":
			return true
		}
		return false
	default:
		return action == "cooling"
	}
}
