package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// RequireStudentJWT validates a student JWT from the Authorization header.
func RequireStudentJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireRole(authService, headerToken, response.ErrStudentAccessOnly, model.RoleStudent)
}

// RequireTeacherJWT validates a teacher or super admin JWT from the
// Authorization header.
func RequireTeacherJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireRole(authService, headerToken, response.ErrTeacherAccessOnly, model.RoleTeacher, model.RoleSuperAdmin)
}

// RequireTeacherWSAuth validates a teacher JWT from the query param ?token=...
// Used for WebSocket upgrade requests.
func RequireTeacherWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return requireRole(authService, queryToken, response.ErrTeacherAccessOnly, model.RoleTeacher, model.RoleSuperAdmin)
}

// RequireAnyJWT validates a JWT of any role.
func RequireAnyJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireRole(authService, headerToken, response.ErrForbidden)
}

// requireRole admits tokens whose role is in roles; no roles admits all.
func requireRole(authService *service.AuthService, extract func(*gin.Context) (string, error), denied response.ErrCode, roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := extract(c)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

// CurrentUser returns the authenticated account as carried by the token.
func CurrentUser(c *gin.Context) (model.User, bool) {
	claims := GetClaims(c)
	if claims == nil {
		return model.User{}, false
	}
	return model.User{
		ID:    claims.UserID(),
		Email: claims.Email,
		Name:  claims.Name,
		Role:  claims.Role,
	}, true
}

func headerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}
	return "", fmt.Errorf("authorization header required")
}

func queryToken(c *gin.Context) (string, error) {
	if tokenStr := c.Query("token"); tokenStr != "" {
		return tokenStr, nil
	}
	return headerToken(c)
}
