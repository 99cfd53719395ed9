// Package config loads and validates the bridge configuration.
//
// Configuration comes from a YAML file with three layers of precedence:
// built-in defaults, the file itself, then FELSHARE_* environment variables
// for secrets and deployment-specific values.
//
// The throttle section deserves care: the vendor cloud is known to ban
// clients that publish or poll aggressively, so the defaults are
// deliberately conservative and widening them is an operator decision.
package config
