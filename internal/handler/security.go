package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/qkart/internal/domain/auth"
)

type userIDKey struct{}

// UserIDFromContext returns the authenticated customer id.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// Authenticator verifies customer bearer tokens and admin API keys.
type Authenticator struct {
	jwtSecret []byte
	apikeys   auth.Repository
	pepper    []byte
}

// NewAuthenticator creates an Authenticator. Bearer tokens must be HS256
// signed with jwtSecret; API keys are looked up by their HMAC under pepper.
func NewAuthenticator(jwtSecret []byte, apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		jwtSecret: jwtSecret,
		apikeys:   apikeys,
		pepper:    pepper,
	}
}

// RequireUser rejects requests without a valid bearer token and stores the
// token subject as the customer id.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.verifyBearer(r.Header.Get("Authorization"))
		if err != nil {
			zctx.From(r.Context()).Debug("Bearer rejected", zap.Error(err))
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) verifyBearer(header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.New("missing bearer token")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.Wrap(err, "parse token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// RequireAdmin authenticates the X-API-Key header by computing its
// HMAC-SHA256, looking it up, and comparing the stored hash in constant
// time. The key must carry the admin scope.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := a.verifyAPIKey(r.Context(), r.Header.Get("X-API-Key"))
		if err != nil {
			zctx.From(r.Context()).Debug("API key rejected", zap.Error(err))
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "Valid API key required")
			return
		}
		if !info.HasScope(auth.ScopeAdmin) {
			writeProblem(w, http.StatusForbidden, "forbidden", "API key lacks the admin scope")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) verifyAPIKey(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errors.New("missing api key")
	}
	hexHash := auth.HashKey(a.pepper, key)

	info, err := a.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		return nil, errors.Wrap(err, "find key")
	}

	computed, err := hex.DecodeString(hexHash)
	if err != nil {
		return nil, errors.Wrap(err, "decode computed hash")
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errors.Wrap(err, "decode stored hash")
	}
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, errors.New("hash mismatch")
	}
	return info, nil
}
