package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestTokenBucketExhaustsAndRefills(t *testing.T) {
	l := NewSimpleTokenBucket(2, 60)
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "1.2.3.4"); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}
	if ok, _ := l.Allow(ctx, "1.2.3.4"); ok {
		t.Fatal("third request allowed")
	}
	if ok, _ := l.Allow(ctx, "5.6.7.8"); !ok {
		t.Fatal("other client limited")
	}

	now = now.Add(2 * time.Second)
	if ok, _ := l.Allow(ctx, "1.2.3.4"); !ok {
		t.Fatal("bucket did not refill")
	}
}

type stubLimiter struct {
	ok  bool
	err error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.ok, s.err }

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		limiter Limiter
		code    int
	}{
		{"allowed", stubLimiter{ok: true}, http.StatusOK},
		{"limited", stubLimiter{ok: false}, http.StatusTooManyRequests},
		{"limiter down", stubLimiter{err: errors.New("redis down")}, http.StatusOK},
	}
	for _, tt := range tests {
		r := gin.New()
		r.GET("/x", RateLimit(tt.limiter), func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != tt.code {
			t.Errorf("%s: status %d, want %d", tt.name, w.Code, tt.code)
		}
	}
}
