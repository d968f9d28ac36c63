package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload the identity provider issues.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret not configured")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify parses and validates the token and returns the user id.
func (v *Verifier) Verify(token string) (string, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}
	uid := claims.UserID
	if uid == "" {
		// some issuers put the user id in the subject
		uid = claims.Subject
	}
	if uid == "" {
		return "", fmt.Errorf("token has no user id")
	}
	return uid, nil
}
