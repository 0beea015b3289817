package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blare-bot/blare/internal/config"
)

func newTestAuth(password string) *Auth {
	return NewAuth(config.AdminConfig{
		Password:      password,
		SigningSecret: "test-secret",
		SessionTTL:    time.Hour,
	})
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.srv.auth = newTestAuth("hunter2")
	f.handler = f.srv.Handler()

	rec := f.do(t, "POST", "/api/admin/login", map[string]string{"password": "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("cookie set on failed login")
	}
}

func TestStatusReflectsSession(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, "GET", "/api/admin/status", nil)
	got := decode[map[string]bool](t, rec)
	if !got["enabled"] || got["admin"] {
		t.Errorf("anonymous status = %v", got)
	}

	rec = f.doAdmin(t, "GET", "/api/admin/status", nil)
	got = decode[map[string]bool](t, rec)
	if !got["admin"] {
		t.Errorf("logged-in status = %v", got)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.doAdmin(t, "POST", "/api/admin/logout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == adminCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("admin cookie not cleared")
	}
}

func TestAuthDisabledLetsEverythingThrough(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/categories", map[string]string{"name": "Horns"})
	if rec.Code != http.StatusCreated {
		t.Errorf("create status = %d, want 201 with auth disabled", rec.Code)
	}

	rec = f.do(t, "POST", "/api/admin/login", map[string]string{"password": ""})
	if rec.Code != http.StatusForbidden {
		t.Errorf("login status = %d, want 403 when disabled", rec.Code)
	}

	rec = f.do(t, "GET", "/api/admin/status", nil)
	got := decode[map[string]bool](t, rec)
	if got["enabled"] || !got["admin"] {
		t.Errorf("status = %v", got)
	}
}

func TestRequireRejectsForgedToken(t *testing.T) {
	f := newAdminFixture(t)

	req := httptest.NewRequest("POST", "/api/categories", strings.NewReader(`{"name":"x"}`))
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: "not-a-jwt"})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
