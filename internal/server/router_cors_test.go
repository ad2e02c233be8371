package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORSMiddlewareAllowsRequestIDHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware())
	router.OPTIONS("/api/posts", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/api/posts", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	request.Header.Set("Access-Control-Request-Headers", requestIDHeader)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}

	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), strings.ToLower(requestIDHeader)) {
		t.Fatalf("expected Access-Control-Allow-Headers to include %s, got %q", requestIDHeader, allowHeaders)
	}

	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allowMethods, http.MethodDelete) {
		t.Fatalf("expected DELETE to be allowed, got %q", allowMethods)
	}
}
