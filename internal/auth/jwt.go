// Package auth issues and verifies the HS256 bearer tokens used by the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/timmy/docpipe/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identify the principal: Subject is the user id.
type Claims struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID string
	Email  string
	Role   domain.Role
}

// JWTManager signs and validates access tokens.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewJWTManager(secret string, ttl time.Duration, issuer string) *JWTManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if issuer == "" {
		issuer = "docpipe"
	}
	return &JWTManager{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}
}

// Generate returns a signed access token for user.
func (m *JWTManager) Generate(user *domain.User) (string, error) {
	now := m.now()
	claims := &Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Validate parses tokenString and returns the principal it names.
func (m *JWTManager) Validate(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if _, ok := domain.ParseRole(string(claims.Role)); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// ExtractBearer returns the token from an Authorization header value.
func ExtractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
