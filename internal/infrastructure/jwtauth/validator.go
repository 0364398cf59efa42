package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/swapmeet/swapmeet/internal/domain/party"
)

// Validator authenticates HS256 tokens issued by an external identity provider.
// The subject claim is the party id.
type Validator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewValidator(secret, issuer string) (*Validator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Validator{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

type claims struct {
	Handle string `json:"handle,omitempty"`
	jwt.RegisteredClaims
}

func (v *Validator) Authenticate(_ context.Context, token string) (party.Identity, error) {
	if token == "" {
		return party.Identity{}, fmt.Errorf("%w: missing token", party.ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return party.Identity{}, fmt.Errorf("%w: invalid token", party.ErrUnauthenticated)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return party.Identity{}, fmt.Errorf("%w: token has no subject", party.ErrUnauthenticated)
	}
	return party.Identity{PartyID: c.Subject, Handle: c.Handle}, nil
}

// Issue signs a token for partyID. Used by tooling and tests.
func (v *Validator) Issue(partyID, handle string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Handle: handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   partyID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
