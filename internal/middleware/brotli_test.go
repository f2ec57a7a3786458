package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

func compressionEngine() *gin.Engine {
	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 64}))
	r.GET("/big", CacheControl(time.Minute), func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("question ", 100))
	})
	r.GET("/small", NoStore(), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	r := compressionEngine()

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=0.9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("Content-Encoding = %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "private, max-age=60" {
		t.Errorf("Cache-Control = %q", got)
	}
	body, err := io.ReadAll(brotli.NewReader(w.Body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(body) != strings.Repeat("question ", 100) {
		t.Fatalf("round-tripped body differs (%d bytes)", len(body))
	}
}

func TestBrotliPassesThrough(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
		want   string
	}{
		{"small body", "/small", "br", "ok"},
		{"client without br", "/big", "gzip", strings.Repeat("question ", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept-Encoding", tt.accept)
			w := httptest.NewRecorder()
			compressionEngine().ServeHTTP(w, req)

			if got := w.Header().Get("Content-Encoding"); got != "" {
				t.Fatalf("Content-Encoding = %q", got)
			}
			if w.Body.String() != tt.want {
				t.Fatalf("body = %q", w.Body.String())
			}
		})
	}
}
