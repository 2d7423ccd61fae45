package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMalformedToken = errors.New("malformed token")

// DecodeExpiry reads the exp claim from the token payload. The signature is not checked:
// the server re-validates every token it receives.
func DecodeExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	return exp.Time, nil
}

// IsTokenExpired reports exp <= now. Tokens that cannot be decoded count as expired.
func IsTokenExpired(token string, now time.Time) bool {
	exp, err := DecodeExpiry(token)
	if err != nil {
		return true
	}
	return !exp.After(now)
}

// IsTokenExpiringSoon reports exp < now + minutes.
func IsTokenExpiringSoon(token string, minutes int, now time.Time) bool {
	exp, err := DecodeExpiry(token)
	if err != nil {
		return true
	}
	return exp.Before(now.Add(time.Duration(minutes) * time.Minute))
}
