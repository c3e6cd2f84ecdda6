package models

import (
	"time"
)

// AuthorizationState is a single-use CSRF token binding an authorization redirect to the
// request that initiated it. Validation consumes the row; expired rows are deleted lazily
// on lookup.
type AuthorizationState struct {
	State     string  `gorm:"primaryKey;size:128"`
	OwnerID   *string // Host-application user id to associate after authorization
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"not null"`
}

func (AuthorizationState) TableName() string {
	return "oauth_states"
}

// Expired reports whether the state token's TTL has passed
func (s *AuthorizationState) Expired(now time.Time) bool {
	return NormalizeUTC(s.ExpiresAt).Before(now)
}
