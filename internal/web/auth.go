package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/blare-bot/blare/internal/config"
)

// adminCookie carries the signed admin session token.
const adminCookie = "admin"

// Auth implements the admin session: a shared password exchanged for an HS256
// JWT in an HttpOnly cookie. An empty password disables admin login and lets
// every request through, for open self-hosted instances.
type Auth struct {
	password string
	secret   []byte
	ttl      time.Duration
}

// NewAuth builds the admin auth from config. Without a signing secret an
// ephemeral one is generated, so logins do not survive a restart.
func NewAuth(cfg config.AdminConfig) *Auth {
	secret := []byte(cfg.SigningSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("web: generate signing secret: " + err.Error())
		}
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = config.DefaultSessionTTL
	}
	return &Auth{password: cfg.Password, secret: secret, ttl: ttl}
}

// Enabled reports whether an admin password is configured.
func (a *Auth) Enabled() bool { return a.password != "" }

// Login exchanges the admin password for a session cookie.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	if !a.Enabled() {
		writeError(w, http.StatusForbidden, "admin login is disabled")
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Password), []byte(a.password)) != 1 {
		slog.Warn("admin login rejected", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		Issuer:    "blare",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not sign session token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     adminCookie,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Info("admin login", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]bool{"admin": true})
}

// Logout clears the session cookie.
func (a *Auth) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"admin": false})
}

// Status reports whether admin login is enabled and whether the caller holds a
// valid session.
func (a *Auth) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"enabled": a.Enabled(),
		"admin":   !a.Enabled() || a.isAdmin(r),
	})
}

// Require guards admin-only handlers. With login disabled it lets everything
// through.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Enabled() && !a.isAdmin(r) {
			writeError(w, http.StatusUnauthorized, "admin session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) isAdmin(r *http.Request) bool {
	c, err := r.Cookie(adminCookie)
	if err != nil || c.Value == "" {
		return false
	}
	token, err := jwt.ParseWithClaims(c.Value, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	return err == nil && token.Valid
}
