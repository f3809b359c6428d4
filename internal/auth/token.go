// Package auth issues and verifies the bearer tokens that bind an HTTP
// client to its session context.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// ConfigFromEnv reads JWT_SECRET, JWT_ISSUER and SESSION_TTL_MINUTES.
func ConfigFromEnv() Config {
	iss := os.Getenv("JWT_ISSUER")
	if iss == "" {
		iss = "service-trust"
	}
	ttl := 60 * time.Minute
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Minute
		}
	}
	return Config{Secret: []byte(os.Getenv("JWT_SECRET")), Issuer: iss, TTL: ttl}
}

// Claims is the verified content of a session token.
type Claims struct {
	SessionID string
	Email     string
	ExpiresAt time.Time
}

// TokenService signs HS256 tokens carrying a session id.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(cfg Config) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Minute
	}
	return &TokenService{secret: cfg.Secret, issuer: cfg.Issuer, ttl: cfg.TTL, now: time.Now}, nil
}

// Issue returns a signed token for the session and its expiry.
func (s *TokenService) Issue(sessionID, email string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": email,
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, issuer and expiry.
func (s *TokenService) Parse(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return Claims{}, fmt.Errorf("%w: missing sid", ErrInvalidToken)
	}
	sub, _ := claims.GetSubject()
	out := Claims{SessionID: sid, Email: sub}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len("bearer ") || !strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[len("bearer "):])
	return tok, tok != ""
}
