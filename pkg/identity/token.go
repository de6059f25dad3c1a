package identity

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature or claim checks.
var ErrInvalidToken = errors.New("invalid principal token")

// Claims is the JWT payload issued by the login collaborator.
type Claims struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenResolver turns bearer tokens into principals. Login itself lives outside
// the core; it only shares the HMAC secret.
type TokenResolver struct {
	secret []byte
	clock  Clock
}

// NewTokenResolver creates a resolver for HS256 tokens signed with secret.
func NewTokenResolver(secret string, clock Clock) *TokenResolver {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenResolver{secret: []byte(secret), clock: clock}
}

// Resolve validates the token and returns the principal it names.
func (r *TokenResolver) Resolve(token string) (Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.clock.Now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.Role.Valid() {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}
	return Principal{UserID: userID, Username: claims.Username, Role: claims.Role}, nil
}

// Issue signs a token for p valid for ttl. Used by tooling and tests.
func (r *TokenResolver) Issue(p Principal, ttl time.Duration) (string, error) {
	now := r.clock.Now()
	claims := Claims{
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
