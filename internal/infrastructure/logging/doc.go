// Package logging provides structured logging for the Felshare cloud bridge.
//
// It wraps the standard library's log/slog with configuration-driven level
// and format selection, plus default fields (service, version) attached to
// every record.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("MQTT connected", "device_id", devID)
//
// Before configuration is available, use logging.Default().
package logging
