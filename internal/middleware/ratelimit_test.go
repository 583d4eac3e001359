package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimitAllowsNormalRequests(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(10, 10))
	router.POST("/webhook", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhook", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestRateLimitBlocksExcessiveRequests(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(1, 2))
	router.POST("/webhook", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Send burst+1 requests rapidly, the last should be blocked.
	var lastCode int
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/webhook", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		router.ServeHTTP(w, req)
		lastCode = w.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("expected status %d after burst exceeded, got %d", http.StatusTooManyRequests, lastCode)
	}
}

func TestRateLimitIndependentPerIP(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(1, 1))
	router.POST("/webhook", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// First IP spends its whole burst.
	w1 := httptest.NewRecorder()
	req1, _ := http.NewRequest("POST", "/webhook", nil)
	req1.RemoteAddr = "10.0.0.1:12345"
	router.ServeHTTP(w1, req1)

	if w1.Code != http.StatusOK {
		t.Errorf("IP1 first request: expected %d, got %d", http.StatusOK, w1.Code)
	}

	// A different IP still has its own burst available.
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest("POST", "/webhook", nil)
	req2.RemoteAddr = "10.0.0.2:12345"
	router.ServeHTTP(w2, req2)

	if w2.Code != http.StatusOK {
		t.Errorf("IP2 first request: expected %d, got %d", http.StatusOK, w2.Code)
	}
}
