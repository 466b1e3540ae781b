package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrMissingHeader = errors.New("authorization header required")
	ErrHeaderFormat  = errors.New("authorization header must be 'Bearer <token>'")
)

// Claims carries the classroom identity inside an HS256 token.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier implements interfaces.TokenVerifier for HMAC-signed tokens.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify validates the signature, expiry and issuer, then turns the claims
// into an Identity. Every failure wraps interfaces.ErrTokenInvalid.
func (v *Verifier) Verify(tokenString string) (types.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", interfaces.ErrTokenInvalid, err)
	}
	if !token.Valid {
		return types.Identity{}, interfaces.ErrTokenInvalid
	}

	role, err := types.ParseRole(claims.Role)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", interfaces.ErrTokenInvalid, err)
	}
	identity := types.Identity{UserID: claims.UserID, Name: claims.Name, Role: role}
	if err := identity.Validate(); err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", interfaces.ErrTokenInvalid, err)
	}
	return identity, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingHeader
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrHeaderFormat
	}
	return parts[1], nil
}

// Issuer mints tokens for local development and tests.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for identity.
func (i *Issuer) Issue(identity types.Identity) (string, error) {
	if err := identity.Validate(); err != nil {
		return "", err
	}
	now := i.now()
	claims := Claims{
		UserID: identity.UserID,
		Name:   identity.Name,
		Role:   string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}
