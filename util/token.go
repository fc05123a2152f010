package util

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// SessionTTL is how long a login session stays valid without a refresh.
const SessionTTL = time.Hour

var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	UserID uint   `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// IssueSessionToken signs a new session token for userID valid until now+ttl.
// Every token gets a fresh jti so two logins in the same second never collide.
func IssueSessionToken(userID uint, email string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expires := now.Add(ttl)
	claims := SessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(GetJWTSecretByte())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("could not sign session token: %w", err)
	}
	return signed, expires, nil
}

// ParseSessionToken checks the signature and expiry of token and returns its claims.
func ParseSessionToken(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return GetJWTSecretByte(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
