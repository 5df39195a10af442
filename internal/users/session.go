package users

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSession = errors.New("invalid session token")

// SessionTTL is how long an issued session token stays valid.
const SessionTTL = 24 * time.Hour

// Claims carries the authenticated user id in the session token.
type Claims struct {
	jwt.RegisteredClaims
	UserID uint64 `json:"uid"`
}

// Sessions mints and verifies HS256 session tokens.
type Sessions struct {
	secret []byte
}

func NewSessions(secret []byte) *Sessions {
	return &Sessions{secret: secret}
}

// Issue returns a signed session token for the user.
func (s *Sessions) Issue(userID uint64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
	})
	return token.SignedString(s.secret)
}

// Verify parses a session token and returns the user id it is bound to.
func (s *Sessions) Verify(tokenString string) (uint64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, ErrInvalidSession
	}
	return claims.UserID, nil
}
