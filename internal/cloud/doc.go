// Package cloud owns the vendor account session: HTTP login, token
// lifetime, and the decision logic around reconnecting the broker link.
//
// The vendor is known to ban accounts that hammer the login endpoint, so
// the manager is deliberately conservative: tokens are reused across
// broker reconnects, every retry path is backed off with jitter, a 429
// gets a longer cool-down than a plain network error, and a 401/403
// parks the whole loop rather than retrying bad credentials.
package cloud
