package rest

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const claimsKey contextKey = 0

// JWTConfig configures JWTMiddleware.
type JWTConfig struct {
	// PublicKey verifies RS256 signatures. Required.
	PublicKey *rsa.PublicKey
	// Issuer, when set, must equal the "iss" claim.
	Issuer string
	// Audience, when set, must appear in the "aud" claim.
	Audience string
	// Logger records rejected requests. Defaults to slog.Default().
	Logger *slog.Logger
}

// ClaimsFromContext returns the claims stored by JWTMiddleware.
func ClaimsFromContext(ctx context.Context) (*jwt.RegisteredClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwt.RegisteredClaims)
	return c, ok
}

// LoadRSAPublicKey reads a PEM-encoded RSA public key (PKCS#1 or PKIX) from
// path.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rest: read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("rest: parse public key %q: %w", path, err)
	}
	return key, nil
}

// JWTMiddleware returns middleware that requires a valid RS256 bearer token.
// Only RS256 is accepted; exp and nbf are enforced when present. On success
// the registered claims are stored in the request context, otherwise the
// response is 401 with a JSON error body.
func JWTMiddleware(cfg JWTConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.PublicKey, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err == nil {
				claims := &jwt.RegisteredClaims{}
				if _, err = parser.ParseWithClaims(raw, claims, keyFunc); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
					return
				}
			}
			logger.Warn("rest: authentication failed",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Any("error", err),
			)
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", errors.New("missing or malformed Authorization header")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
