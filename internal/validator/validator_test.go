package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/model"
)

func bindBody(t *testing.T, body string, dst any) map[string]string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	Setup()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return Bind(c, dst)
}

func TestBindUsesJSONFieldNames(t *testing.T) {
	var req model.LoginRequest
	fields := bindBody(t, `{"email":"not-an-email","password":"123"}`, &req)
	if fields == nil {
		t.Fatal("expected validation errors")
	}
	if _, ok := fields["email"]; !ok {
		t.Errorf("missing email error: %v", fields)
	}
	if msg := fields["password"]; !strings.Contains(msg, "at least 6") {
		t.Errorf("password error = %q", msg)
	}
}

func TestBindNotBlank(t *testing.T) {
	var req model.CreateQuestionRequest
	fields := bindBody(t, `{"type":"SHORT","prompt":"   ","marks":1}`, &req)
	if fields["prompt"] != "prompt must not be blank" {
		t.Fatalf("fields = %v", fields)
	}
}

func TestBindSyntaxError(t *testing.T) {
	var req model.LoginRequest
	fields := bindBody(t, `{"email":`, &req)
	if _, ok := fields["detail"]; !ok {
		t.Fatalf("fields = %v", fields)
	}
}

func TestBindValid(t *testing.T) {
	var req model.LoginRequest
	if fields := bindBody(t, `{"email":"alice@school.id","password":"secret123"}`, &req); fields != nil {
		t.Fatalf("unexpected errors: %v", fields)
	}
	if req.Email != "alice@school.id" {
		t.Fatalf("bound email = %q", req.Email)
	}
}
