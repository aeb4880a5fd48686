package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(rl))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func getFrom(router *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.RemoteAddr = ip + ":12345"
	router.ServeHTTP(w, req)
	return w
}

func TestGetLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)

	first := rl.getLimiter("192.168.1.1")
	if rl.getLimiter("192.168.1.1") != first {
		t.Error("Expected the same limiter for the same IP")
	}
	if rl.getLimiter("192.168.1.2") == first {
		t.Error("Expected a different limiter for another IP")
	}
	if len(rl.visitors) != 2 {
		t.Errorf("Expected 2 visitors, got %d", len(rl.visitors))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		requests int
		limit    rate.Limit
		burst    int
		want     int
	}{
		{"under limit", 5, rate.Limit(10), 10, http.StatusOK},
		{"exactly the burst", 5, rate.Limit(1), 5, http.StatusOK},
		{"over the burst", 6, rate.Limit(1), 5, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := limitedRouter(NewRateLimiter(tt.limit, tt.burst))
			var last *httptest.ResponseRecorder
			for i := 0; i < tt.requests; i++ {
				last = getFrom(router, "192.168.1.100")
			}
			if last.Code != tt.want {
				t.Errorf("Expected final status %d, got %d", tt.want, last.Code)
			}
		})
	}
}

func TestRateLimitMiddlewareRejection(t *testing.T) {
	router := limitedRouter(NewRateLimiter(rate.Limit(1), 1))

	if w := getFrom(router, "10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}
	w := getFrom(router, "10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Rate limit exceeded") {
		t.Errorf("Expected rate limit error message, got: %s", w.Body.String())
	}
	if w := getFrom(router, "10.0.0.2"); w.Code != http.StatusOK {
		t.Errorf("Expected another IP to pass, got %d", w.Code)
	}
}

func TestMaxBytesMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		size    int
		chunked bool
		want    int
	}{
		{"under limit", 512, false, http.StatusOK},
		{"at limit", 1024, false, http.StatusOK},
		{"declared too large", 2048, false, http.StatusRequestEntityTooLarge},
		{"streamed too large", 2048, true, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/test", MaxBytesMiddleware(1024), func(c *gin.Context) {
				if _, err := io.ReadAll(c.Request.Body); err != nil {
					c.Status(http.StatusRequestEntityTooLarge)
					return
				}
				c.Status(http.StatusOK)
			})

			body := strings.Repeat("x", tt.size)
			req, _ := http.NewRequest("POST", "/test", strings.NewReader(body))
			if tt.chunked {
				// unknown length, only the reader limit applies
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestPruneIdleLimiters(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)
	start := time.Now()
	rl.now = func() time.Time { return start }
	rl.getLimiter("192.168.1.1")
	rl.getLimiter("192.168.1.2")

	rl.now = func() time.Time { return start.Add(limiterIdle / 2) }
	rl.getLimiter("192.168.1.2")

	rl.now = func() time.Time { return start.Add(limiterIdle + time.Second) }
	if dropped := rl.prune(); dropped != 1 {
		t.Errorf("Expected 1 idle limiter dropped, got %d", dropped)
	}
	if _, ok := rl.visitors["192.168.1.2"]; !ok {
		t.Error("Expected recently used limiter to be kept")
	}
}

func TestCleanupStopsOnCancel(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Cleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Cleanup to return after cancel")
	}
}
