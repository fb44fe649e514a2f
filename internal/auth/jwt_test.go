package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ivr-tester/internal/config"
)

func newManager(t *testing.T, cfg config.AuthConfig) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerify(t *testing.T) {
	m := newManager(t, config.AuthConfig{
		JWTSecret:   "secret",
		JWTIssuer:   "issuer",
		JWTAudience: "aud",
		TokenTTL:    15 * time.Minute,
	})

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "ci-nightly")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "ci-nightly" || claims.Scope != ScopeCalls {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newManager(t, config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Minute})
	now := time.Unix(1700000000, 0)
	tok, err := m.Issue(now, "op")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	a := newManager(t, config.AuthConfig{JWTSecret: "a"})
	b := newManager(t, config.AuthConfig{JWTSecret: "b"})
	tok, err := a.Issue(time.Now(), "op")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok, time.Now()); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	issuer := newManager(t, config.AuthConfig{JWTSecret: "s", JWTAudience: "other"})
	verifier := newManager(t, config.AuthConfig{JWTSecret: "s", JWTAudience: "ivr-tester"})
	tok, _ := issuer.Issue(time.Now(), "op")
	if _, err := verifier.Verify(tok, time.Now()); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRequireOperator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t, config.AuthConfig{JWTSecret: "secret"})

	r := gin.New()
	r.GET("/x", RequireOperator(m), func(c *gin.Context) {
		op, err := Operator(c.Request.Context())
		if err != nil {
			t.Errorf("operator: %v", err)
		}
		c.String(http.StatusOK, op)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer nope")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", w.Code)
	}

	tok, _ := m.Issue(time.Now(), "alice")
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Fatalf("valid token: got %d %q", w.Code, w.Body.String())
	}
}
