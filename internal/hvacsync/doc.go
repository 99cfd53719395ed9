// Package hvacsync gates diffusion on thermostat airflow.
//
// When sync is enabled the diffuser's own work schedule becomes the
// eligibility window and power becomes the gate: the engine forces a
// fixed run/stop cadence, locks manual control of power and schedule,
// and toggles power as the thermostat's airflow starts and stops. The
// schedule stays enabled throughout because some firmwares ignore power
// commands while work mode is off.
//
// The user's pre-sync settings are captured as a manual snapshot and
// restored verbatim when sync is disabled.
//
// The engine runs entirely on the hub's event loop and is not safe for
// concurrent use. Timers and persistence are delegated to interfaces so
// their completions re-enter through the same loop.
package hvacsync
