package model

import "time"

// Role is the account role issued with a token.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleTeacher    Role = "TEACHER"
	RoleStudent    Role = "STUDENT"
)

// AccountStatus gates login.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
	AccountStatusPending  AccountStatus = "PENDING"
)

// User is an account as stored by the sandbox API.
type User struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	Name         string        `json:"name,omitempty"`
	Role         Role          `json:"role"`
	Status       AccountStatus `json:"status"`
	PasswordHash string        `json:"-"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// LoginResponse carries the access token and the account it belongs to.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
