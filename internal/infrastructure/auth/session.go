package auth

import (
	"github.com/golang-jwt/jwt/v4"

	"lorepa/pkg/errors"
)

// Session carries the identity of the signed-in user. It is built once
// at startup and passed explicitly to everything that needs it; no
// component reads identity from ambient state.
type Session struct {
	UserID      string
	DisplayName string
	Token       string
}

// SessionFromToken reads identity claims out of the backend-issued
// access token. The parse is deliberately unverified: verification is
// the backend's job, the client only needs the claims it was given.
func SessionFromToken(token string) (*Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errors.Unauthorized("access token is not a valid JWT", err)
	}

	userID := stringClaim(claims, "user_id")
	if userID == "" {
		userID = stringClaim(claims, "sub")
	}
	if userID == "" {
		return nil, errors.Unauthorized("access token has no user identity", nil)
	}

	name := stringClaim(claims, "display_name")
	if name == "" {
		name = stringClaim(claims, "name")
	}

	return &Session{
		UserID:      userID,
		DisplayName: name,
		Token:       token,
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
