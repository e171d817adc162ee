package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func secretRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/internal/sweeps/test", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestSweepSecret(t *testing.T) {
	r := secretRouter(SweepSecret("s3cret"))

	req := httptest.NewRequest(http.MethodPost, "/internal/sweeps/test", nil)
	req.Header.Set("X-Sweep-Secret", "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid secret: status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/sweeps/test", nil)
	req.Header.Set("X-Sweep-Secret", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/sweeps/test", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: status = %d, want 401", w.Code)
	}
}

func TestSweepSecretUnconfiguredDisablesRoutes(t *testing.T) {
	r := secretRouter(SweepSecret(""))
	req := httptest.NewRequest(http.MethodPost, "/internal/sweeps/test", nil)
	req.Header.Set("X-Sweep-Secret", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when no secret is configured", w.Code)
	}
}

func TestServiceSecret(t *testing.T) {
	r := secretRouter(ServiceSecret("bot-secret"))

	req := httptest.NewRequest(http.MethodPost, "/internal/sweeps/test", nil)
	req.Header.Set("X-Service-Secret", "bot-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid secret: status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/sweeps/test", nil)
	req.Header.Set("X-Service-Secret", "nope")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d, want 401", w.Code)
	}
}
