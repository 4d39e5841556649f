// Package auth implements the bearer credential gate.
//
// A request carries either the static API key or an HS256 signed token in
// "Authorization: Bearer <credential>". The static key is checked first.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/golang-jwt/jwt/v5"
)

// Principals returned for the non-token paths.
const (
	PrincipalAnonymous = "anonymous"
	PrincipalAPIUser   = "api_user"
)

const (
	bearerScheme     = "bearer"
	signingAlgorithm = "HS256"
	defaultTokenTTL  = 24 * time.Hour
)

// Failure details surfaced to clients.
const (
	msgMissingCredential = "authentication required"
	msgExpired           = "token has expired"
	msgInvalid           = "invalid token"
	msgInvalidAPIKey     = "invalid API key"
)

type principalKey struct{}

// Gate validates bearer credentials and issues signed tokens.
type Gate struct {
	enabled bool
	apiKey  []byte
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewGate creates a Gate from the auth configuration.
func NewGate(cfg config.AuthConfig) *Gate {
	ttl := cfg.TokenTTL()
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return &Gate{
		enabled: cfg.Enabled,
		apiKey:  []byte(cfg.APIKey),
		secret:  []byte(cfg.SecretKey),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the gate's time source. Used by tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now

	return g
}

// Enabled reports whether credentials are enforced.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// TokenTTL returns the lifetime of issued tokens.
func (g *Gate) TokenTTL() time.Duration {
	return g.ttl
}

// Authenticate resolves the principal for an Authorization header value.
// Failures wrap core.ErrAuth.
func (g *Gate) Authenticate(header string) (string, error) {
	if !g.enabled {
		return PrincipalAnonymous, nil
	}

	credential, err := bearerCredential(header)
	if err != nil {
		return "", err
	}

	if g.isAPIKey(credential) {
		return PrincipalAPIUser, nil
	}

	return g.validateToken(credential)
}

// RequireAPIKey accepts only the static key, regardless of Enabled. It
// guards token issuance.
func (g *Gate) RequireAPIKey(header string) error {
	credential, err := bearerCredential(header)
	if err != nil {
		return err
	}

	if !g.isAPIKey(credential) {
		return fmt.Errorf("%w: %s", core.ErrAuth, msgInvalidAPIKey)
	}

	return nil
}

// IssueToken signs a token for subject valid for the configured TTL.
func (g *Gate) IssueToken(subject string) (string, error) {
	issued := g.now()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(g.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return token, nil
}

func (g *Gate) isAPIKey(credential string) bool {
	return len(g.apiKey) > 0 && subtle.ConstantTimeCompare([]byte(credential), g.apiKey) == 1
}

func (g *Gate) validateToken(credential string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(
		credential,
		claims,
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", fmt.Errorf("%w: %s", core.ErrAuth, msgExpired)
	case err != nil, !token.Valid, claims.Subject == "":
		return "", fmt.Errorf("%w: %s", core.ErrAuth, msgInvalid)
	}

	return claims.Subject, nil
}

func bearerCredential(header string) (string, error) {
	scheme, credential, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", fmt.Errorf("%w: %s", core.ErrAuth, msgMissingCredential)
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", fmt.Errorf("%w: %s", core.ErrAuth, msgMissingCredential)
	}

	return credential, nil
}

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	principal, ok := ctx.Value(principalKey{}).(string)

	return principal, ok
}
