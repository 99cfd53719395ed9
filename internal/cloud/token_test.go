package cloud

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	fresh := signedToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})
	if TokenExpired(fresh, now) {
		t.Error("token with an hour left reported expired")
	}

	dead := signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})
	if !TokenExpired(dead, now) {
		t.Error("expired token reported usable")
	}

	// Inside the slack window: treat as expired rather than hand the
	// broker a token about to die.
	dying := signedToken(t, jwt.MapClaims{"exp": now.Add(10 * time.Second).Unix()})
	if !TokenExpired(dying, now) {
		t.Error("token expiring within slack reported usable")
	}
}

func TestTokenWithoutExpIsUsable(t *testing.T) {
	now := time.Now()

	noExp := signedToken(t, jwt.MapClaims{"sub": "user"})
	if TokenExpired(noExp, now) {
		t.Error("token without exp claim reported expired")
	}

	if TokenExpired("not-a-jwt", now) {
		t.Error("opaque token reported expired")
	}
}

func TestBackoffDoubling(t *testing.T) {
	d := doubled(5*time.Second, 30*time.Second)
	if d != 10*time.Second {
		t.Errorf("doubled = %v, want 10s", d)
	}
	if d := doubled(20*time.Second, 30*time.Second); d != 30*time.Second {
		t.Errorf("doubled past ceiling = %v, want 30s", d)
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jittered(10 * time.Second)
		if d < 8*time.Second || d > 12*time.Second {
			t.Fatalf("jittered(10s) = %v, outside +-20%%", d)
		}
	}
}
