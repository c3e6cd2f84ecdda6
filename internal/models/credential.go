package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkedAccount is a snapshot of remote ad account metadata captured at issuance or
// refresh time. It is an advisory cache, never authoritative.
type LinkedAccount struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AccountID  string `json:"account_id,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Status     int    `json:"status,omitempty"`
	BusinessID string `json:"business_id,omitempty"`
}

// Credential stores one encrypted Marketing API access token per external identity.
// At most one row exists per ExternalUserID; saves for an existing identity update in
// place. Rows are never deleted by normal operation, only revoked.
type Credential struct {
	ID              string  `gorm:"primaryKey;size:36"`
	OwnerID         *string `gorm:"index"` // Host-application user id, if it has a user system
	ExternalUserID  string  `gorm:"uniqueIndex;size:64;not null"`
	EncryptedToken  string  `gorm:"type:text;not null"`
	ExpiresAt       *time.Time      // nil means the token does not expire
	GrantedScopes   []string        `gorm:"serializer:json"`
	LinkedAccounts  []LinkedAccount `gorm:"serializer:json"`
	Revoked         bool            `gorm:"not null;default:false"`
	LastRefreshedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Credential) TableName() string {
	return "oauth_credentials"
}

// BeforeCreate assigns a UUID primary key when none is set
func (c *Credential) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// Expired reports whether the credential's expiry has passed. A nil expiry means the
// token does not expire and is always valid.
func (c *Credential) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return NormalizeUTC(*c.ExpiresAt).Before(now)
}

// NormalizeUTC converts a stored timestamp to UTC. Drivers hand back wall-clock values
// whose location depends on the DSN, so every comparison site goes through here.
func NormalizeUTC(t time.Time) time.Time {
	return t.UTC()
}
