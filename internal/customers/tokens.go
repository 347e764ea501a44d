package customers

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid session token")

// Tokens signs and verifies HS256 session tokens whose subject is the customer id.
type Tokens struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Clock  func() time.Time
}

func (t *Tokens) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

func (t *Tokens) Issue(customerID string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   customerID,
		Issuer:    t.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse returns the customer id carried by a valid, unexpired token.
func (t *Tokens) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	// expiry is checked below against the injected clock
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return t.Secret, nil })
	if err != nil {
		return "", ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(t.now(), true) || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
