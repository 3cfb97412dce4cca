package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/idchain-labs/sequencer/internal/handler"
)

func newLimitedRouter(readRPS, writeRPS int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handler.RateLimiter(readRPS, writeRPS))
	router.GET("/roots", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/identities", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return router
}

func doFrom(router *gin.Engine, method, path, addr string) int {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_writesTighterThanReads(t *testing.T) {
	router := newLimitedRouter(100, 1)
	const addr = "10.0.0.1:5000"

	// Write burst is 2x the write rate.
	for i := 0; i < 2; i++ {
		if code := doFrom(router, http.MethodPost, "/identities", addr); code != http.StatusCreated {
			t.Fatalf("write %d: got %d", i, code)
		}
	}
	if code := doFrom(router, http.MethodPost, "/identities", addr); code != http.StatusTooManyRequests {
		t.Errorf("write beyond burst: got %d", code)
	}

	// The read budget is untouched by exhausted writes.
	for i := 0; i < 10; i++ {
		if code := doFrom(router, http.MethodGet, "/roots", addr); code != http.StatusOK {
			t.Fatalf("read %d after write exhaustion: got %d", i, code)
		}
	}
}

func TestRateLimiter_perClientIsolation(t *testing.T) {
	router := newLimitedRouter(100, 1)

	for i := 0; i < 2; i++ {
		doFrom(router, http.MethodPost, "/identities", "10.0.0.1:5000")
	}
	if code := doFrom(router, http.MethodPost, "/identities", "10.0.0.1:5000"); code != http.StatusTooManyRequests {
		t.Fatalf("first client beyond burst: got %d", code)
	}

	// A different client starts with a fresh bucket.
	if code := doFrom(router, http.MethodPost, "/identities", "10.0.0.2:5000"); code != http.StatusCreated {
		t.Errorf("second client: got %d", code)
	}
}

func TestRateLimiter_retryAfterHeader(t *testing.T) {
	router := newLimitedRouter(100, 1)
	const addr = "10.0.0.3:5000"

	for i := 0; i < 3; i++ {
		doFrom(router, http.MethodPost, "/identities", addr)
	}
	req := httptest.NewRequest(http.MethodPost, "/identities", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}
