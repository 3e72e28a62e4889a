package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryBuffer is how close to its exp an access token is already treated
// as expired, so a request issued now does not arrive at the server with a
// token that died in transit. The watch package carries its own copy of
// this value so either side can detect expiry without calling the other.
const ExpiryBuffer = 30 * time.Second

// DecodeClaims extracts the claims from an access token without verifying
// the signature. The server is the only party that verifies tokens; local
// decoding exists purely for expiry timing and role lookups.
func DecodeClaims(token string) (*Claims, error) {
	parser := jwt.NewParser()

	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("session: decode token: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("session: unexpected claims type %T", parsed.Claims)
	}

	c := &Claims{Extra: make(map[string]any)}
	if v, ok := mapClaims["sub"].(string); ok {
		c.Subject = v
	}
	if v, ok := mapClaims["email"].(string); ok {
		c.Email = v
	}
	if v, ok := mapClaims["role"].(string); ok {
		c.Role = Role(v)
	}
	if v, ok := mapClaims["exp"].(float64); ok {
		c.ExpiresAt = time.Unix(int64(v), 0)
	}
	if v, ok := mapClaims["iat"].(float64); ok {
		c.IssuedAt = time.Unix(int64(v), 0)
	}

	standard := map[string]bool{
		"sub": true, "email": true, "role": true,
		"exp": true, "iat": true, "iss": true,
		"aud": true, "nbf": true, "jti": true,
	}
	for k, v := range mapClaims {
		if !standard[k] {
			c.Extra[k] = v
		}
	}

	return c, nil
}

// ExpiredAt reports whether the claims are expired at the given instant,
// applying ExpiryBuffer. Claims without exp count as expired.
func (c *Claims) ExpiredAt(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !c.ExpiresAt.After(now.Add(ExpiryBuffer))
}

// TokenExpired reports whether a raw access token should be treated as
// expired right now. Absent or unparsable tokens count as expired.
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	claims, err := DecodeClaims(token)
	if err != nil {
		return true
	}
	return claims.ExpiredAt(now)
}
