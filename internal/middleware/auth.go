package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/comedor-digital/meal_service/pkg/logger"
)

// AdminAuth protects the /admin routes with bearer tokens. Station endpoints
// stay open; only destructive operations sit behind this.
type AdminAuth struct {
	secret []byte
	log    *logger.Logger
}

// NewAdminAuth creates the authenticator. An empty secret disables the admin
// surface entirely rather than leaving it open.
func NewAdminAuth(secret string, log *logger.Logger) *AdminAuth {
	if log == nil {
		log = logger.NewDefault("adminauth")
	}
	return &AdminAuth{secret: []byte(secret), log: log}
}

// Enabled reports whether a secret is configured.
func (a *AdminAuth) Enabled() bool { return len(a.secret) > 0 }

// IssueToken mints a short-lived admin token, used by the ops tooling.
func (a *AdminAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("admin auth is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Wrap rejects requests without a valid bearer token.
func (a *AdminAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			http.Error(w, `{"error":"admin surface disabled"}`, http.StatusForbidden)
			return
		}
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		})
		if err != nil {
			a.log.WithError(err).Warn("admin token rejected")
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
