package cloud

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySlack drops a token slightly before its claimed expiry so we do
// not hand the broker a token that dies mid-handshake.
const expirySlack = 30 * time.Second

// TokenExpired reports whether a session token has passed its exp claim.
//
// The token is inspected without signature verification: we are not
// validating it, only deciding whether presenting it to the broker again
// is pointless. Tokens that do not parse as JWTs or carry no exp claim
// are assumed still usable; the broker has the final say.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time.Add(-expirySlack))
}
