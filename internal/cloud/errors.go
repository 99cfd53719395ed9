package cloud

import "errors"

var (
	// ErrAuthRejected indicates the cloud refused the credentials (HTTP
	// 401/403). Retrying will not help until the user fixes them, so the
	// manager pauses instead of looping.
	ErrAuthRejected = errors.New("cloud: login rejected")

	// ErrRateLimited indicates the cloud throttled the request (HTTP 429).
	ErrRateLimited = errors.New("cloud: rate limited")

	// ErrNoToken indicates a login response that was accepted but carried
	// no session token. Treated as transient; the vendor API does this
	// under load.
	ErrNoToken = errors.New("cloud: login response missing token")

	// ErrBrokerAuth indicates the broker refused the session token during
	// the MQTT handshake. The transport layer wraps its reason codes into
	// this sentinel so the manager knows to discard the token.
	ErrBrokerAuth = errors.New("cloud: broker rejected session token")
)
