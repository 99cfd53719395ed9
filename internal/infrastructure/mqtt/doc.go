// Package mqtt wraps paho.mqtt.golang for the vendor's broker.
//
// The broker speaks MQTT over TLS websockets and authenticates the
// session with a cloud login token carried in a Cookie header, alongside
// fixed vendor credentials at the MQTT layer. Auto-reconnect is disabled
// on purpose: reconnect pacing and relogin decisions belong to the
// connection manager, which treats each session as disposable.
package mqtt
