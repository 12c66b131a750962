package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStateTTL bounds how long an identity provider round trip may take.
const DefaultStateTTL = 10 * time.Minute

// StateClaims travel through the identity provider redirect as the OAuth state.
type StateClaims struct {
	CheckinToken string `json:"ctk"`
	Nonce        string `json:"nonce"`
	jwt.RegisteredClaims
}

// IssueState signs state claims for a check-in token and nonce.
func IssueState(checkinToken, nonce, issuer, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("state signing key required")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	now := time.Now()
	claims := StateClaims{
		CheckinToken: checkinToken,
		Nonce:        nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// ParseState validates a state token and returns its claims.
func ParseState(tokenStr, key, issuer string) (StateClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return StateClaims{}, err
	}
	claims, ok := parsed.Claims.(*StateClaims)
	if !ok || !parsed.Valid {
		return StateClaims{}, errors.New("invalid state")
	}
	if issuer != "" && claims.Issuer != issuer {
		return StateClaims{}, errors.New("issuer mismatch")
	}
	if claims.CheckinToken == "" || claims.Nonce == "" {
		return StateClaims{}, errors.New("incomplete state")
	}
	return *claims, nil
}
