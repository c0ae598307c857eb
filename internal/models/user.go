package models

import (
	"time"
)

// UserID identifies a document in the users collection.
type UserID string

// DisplayName is a free-text identity such as ParkingSpot.ReportedBy. It is not
// guaranteed to resolve to a user document.
type DisplayName string

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	UserStatusActive      UserStatus = "active"
	UserStatusDeactivated UserStatus = "deactivated"
)

// Toggled returns the status an administrator toggle moves to.
func (s UserStatus) Toggled() UserStatus {
	if s == UserStatusActive {
		return UserStatusDeactivated
	}
	return UserStatusActive
}

func (s UserStatus) Valid() bool {
	return s == UserStatusActive || s == UserStatusDeactivated
}

type User struct {
	ID                UserID     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Role              UserRole   `json:"role"`
	Status            UserStatus `json:"status"`
	ParkingSpotsCount int        `json:"parking_spots"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
	DeactivatedAt     *time.Time `json:"deactivated_at,omitempty"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Principal is the authenticated administrator behind a session.
type Principal struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Principal `json:"user"`
}
