package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterRefillsPerInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.allow("ip") || !rl.allow("ip") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("ip") {
		t.Fatal("third request within the interval should be limited")
	}
	if !rl.allow("other") {
		t.Fatal("limits are per client")
	}

	now = now.Add(90 * time.Second)
	if !rl.allow("ip") || !rl.allow("ip") || rl.allow("ip") {
		t.Fatal("one interval should refill exactly rate tokens")
	}

	now = now.Add(10 * time.Minute)
	rl.cleanup()
	if len(rl.visitors) != 0 {
		t.Fatalf("visitors = %d after cleanup", len(rl.visitors))
	}
}

func TestRoleMiddleware(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "s", JWTExpiry: time.Hour}, nil)
	student, _ := auth.GenerateToken(&model.User{ID: "u1", Name: "Alice", Role: model.RoleStudent})
	teacher, _ := auth.GenerateToken(&model.User{ID: "t1", Role: model.RoleTeacher})

	r := gin.New()
	r.GET("/student", RequireStudentJWT(auth), func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.String(http.StatusOK, u.ID+":"+u.Name)
	})
	r.GET("/ws", RequireTeacherWSAuth(auth), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"student ok", "/student", "Bearer " + student, http.StatusOK},
		{"missing token", "/student", "", http.StatusUnauthorized},
		{"garbage token", "/student", "Bearer nope", http.StatusUnauthorized},
		{"teacher on student route", "/student", "Bearer " + teacher, http.StatusForbidden},
		{"teacher ws query", "/ws?token=" + teacher, "", http.StatusOK},
		{"student ws query", "/ws?token=" + student, "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.name == "student ok" && w.Body.String() != "u1:Alice" {
				t.Fatalf("body = %q", w.Body.String())
			}
		})
	}
}
