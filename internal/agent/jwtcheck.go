package agent

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// checkBearerNotExpired best-effort validates a configured bearer
// token's exp claim when the token happens to be a JWT. Opaque
// (non-JWT) bearer tokens are common too and are left alone:
// ParseUnverified failing just means "not a JWT", not "invalid token".
// Signature verification is deliberately not performed — the agent is
// not the token's audience and holds no key material; this is a
// client-side fail-fast at build time, not authentication.
func checkBearerNotExpired(token string) error {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return &NotConfigured{Reason: "bearer token is expired"}
	}
	return nil
}
