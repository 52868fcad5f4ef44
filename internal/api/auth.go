package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/replyline/replyline/internal/models"
)

// AdminClaims are the claims carried by admin API bearer tokens.
type AdminClaims struct {
	Subject string `json:"sub_name,omitempty"`
	jwt.RegisteredClaims
}

// SignAdminToken mints a bearer token for the admin API. Exposed for
// provisioning tooling and tests.
func SignAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseAdminToken(secret, tok string) (*AdminClaims, error) {
	t, err := jwt.ParseWithClaims(tok, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*AdminClaims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// requireAuth guards an admin handler with bearer-token authentication.
// With no secret configured the guard is a pass-through.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == "" {
			next(w, r)
			return
		}
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing bearer token"))
			return
		}
		tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if _, err := parseAdminToken(s.jwtSecret, tok); err != nil {
			slog.Warn("Rejected admin API token", "error", err, "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid bearer token"))
			return
		}
		next(w, r)
	}
}
