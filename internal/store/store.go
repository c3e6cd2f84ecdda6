// Package store is the only component that touches durable storage. It persists
// encrypted credentials and short-lived CSRF state tokens over gorm.
package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adsuite/oauthvault/internal/cipher"
	"github.com/adsuite/oauthvault/internal/models"
)

// stateBytes gives 256 bits of randomness per CSRF state token
const stateBytes = 32

// CredentialStore provides CRUD over Credential and AuthorizationState rows. Tokens are
// encrypted before they reach a row and decrypted fresh on every read; no plaintext is
// cached in memory.
type CredentialStore struct {
	db       *gorm.DB
	cipher   *cipher.TokenCipher
	stateTTL time.Duration
}

// NewCredentialStore wires the store to its database handle and token cipher
func NewCredentialStore(db *gorm.DB, c *cipher.TokenCipher, stateTTL time.Duration) *CredentialStore {
	return &CredentialStore{db: db, cipher: c, stateTTL: stateTTL}
}

// SaveCredential encrypts plaintextToken and upserts the row keyed by externalUserID.
// The update path replaces token, expiry, scopes and accounts and clears the revoked
// flag; the unique index serializes concurrent saves for the same identity, so exactly
// one row exists per externalUserID after this call. A ttlSeconds of zero or less means
// the token does not expire.
func (s *CredentialStore) SaveCredential(
	ownerID *string,
	externalUserID string,
	plaintextToken string,
	ttlSeconds int64,
	scopes []string,
	accounts []models.LinkedAccount,
) (*models.Credential, error) {
	encrypted, err := s.cipher.Encrypt(plaintextToken)
	if err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	var expiresAt *time.Time
	if ttlSeconds > 0 {
		t := time.Now().UTC().Add(time.Duration(ttlSeconds) * time.Second)
		expiresAt = &t
	}

	cred := &models.Credential{
		OwnerID:        ownerID,
		ExternalUserID: externalUserID,
		EncryptedToken: encrypted,
		ExpiresAt:      expiresAt,
		GrantedScopes:  scopes,
		LinkedAccounts: accounts,
		Revoked:        false,
	}

	err = s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"encrypted_token", "expires_at", "granted_scopes", "linked_accounts", "revoked", "updated_at",
		}),
	}).Create(cred).Error
	if err != nil {
		return nil, storageErr("save credential", err)
	}

	// Re-read so the caller sees the surviving row (the upsert path keeps the
	// existing id and created_at, not the ones generated above).
	var saved models.Credential
	if err := s.db.Where("external_user_id = ?", externalUserID).First(&saved).Error; err != nil {
		return nil, storageErr("save credential: reload", err)
	}

	log.WithField("external_user_id", externalUserID).Info("Saved credential")
	return &saved, nil
}

// GetCredential returns the newest non-revoked credential matching the filter.
// externalUserID takes precedence over ownerID; with neither set, the newest
// non-revoked row overall is returned. Absence is a normal result: (nil, nil).
func (s *CredentialStore) GetCredential(ownerID, externalUserID *string) (*models.Credential, error) {
	query := s.db.Where("revoked = ?", false)

	switch {
	case externalUserID != nil && *externalUserID != "":
		query = query.Where("external_user_id = ?", *externalUserID)
	case ownerID != nil && *ownerID != "":
		query = query.Where("owner_id = ?", *ownerID)
	}

	var cred models.Credential
	err := query.Order("created_at DESC").First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get credential", err)
	}
	return &cred, nil
}

// GetPlaintextToken resolves the newest usable token for the filter and decrypts it.
// An expired or missing credential yields ("", false, nil), not an error. Decryption
// failure surfaces as cipher.ErrDecryption so key rotation is never mistaken for
// "no token".
func (s *CredentialStore) GetPlaintextToken(ownerID, externalUserID *string) (string, bool, error) {
	cred, err := s.GetCredential(ownerID, externalUserID)
	if err != nil {
		return "", false, err
	}
	if cred == nil {
		log.Debug("No active credential found")
		return "", false, nil
	}

	if cred.Expired(time.Now().UTC()) {
		log.WithField("external_user_id", cred.ExternalUserID).Warn("Stored token is expired")
		return "", false, nil
	}

	plaintext, err := s.cipher.Decrypt(cred.EncryptedToken)
	if err != nil {
		return "", false, err
	}
	return plaintext, true, nil
}

// DecryptCredential decrypts a credential's stored ciphertext. Exposed so the renewal
// path can re-exchange a token without the plaintext ever living outside a call stack.
func (s *CredentialStore) DecryptCredential(cred *models.Credential) (string, error) {
	return s.cipher.Decrypt(cred.EncryptedToken)
}

// Revoke marks the credential for externalUserID as revoked. Idempotent; reports
// whether a row was found.
func (s *CredentialStore) Revoke(externalUserID string) (bool, error) {
	res := s.db.Model(&models.Credential{}).
		Where("external_user_id = ?", externalUserID).
		Updates(map[string]any{"revoked": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, storageErr("revoke", res.Error)
	}
	if res.RowsAffected > 0 {
		log.WithField("external_user_id", externalUserID).Info("Revoked credential")
	}
	return res.RowsAffected > 0, nil
}

// ListDueForRefresh returns non-revoked credentials whose expiry falls inside
// (now, now + windowDays]. Already-expired rows are excluded: they are refresh
// failures, and the read path simply stops returning them.
func (s *CredentialStore) ListDueForRefresh(windowDays int) ([]models.Credential, error) {
	now := time.Now().UTC()
	horizon := now.Add(time.Duration(windowDays) * 24 * time.Hour)

	var due []models.Credential
	err := s.db.
		Where("revoked = ?", false).
		Where("expires_at > ? AND expires_at <= ?", now, horizon).
		Find(&due).Error
	if err != nil {
		return nil, storageErr("list due for refresh", err)
	}
	return due, nil
}

// UpdateAfterRenewal replaces the credential's ciphertext and expiry and stamps
// lastRefreshedAt, in one write
func (s *CredentialStore) UpdateAfterRenewal(id string, plaintextToken string, ttlSeconds int64) error {
	encrypted, err := s.cipher.Encrypt(plaintextToken)
	if err != nil {
		return fmt.Errorf("update after renewal: %w", err)
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if ttlSeconds > 0 {
		t := now.Add(time.Duration(ttlSeconds) * time.Second)
		expiresAt = &t
	}

	res := s.db.Model(&models.Credential{}).Where("id = ?", id).Updates(map[string]any{
		"encrypted_token":   encrypted,
		"expires_at":        expiresAt,
		"last_refreshed_at": now,
		"updated_at":        now,
	})
	if res.Error != nil {
		return storageErr("update after renewal", res.Error)
	}
	if res.RowsAffected == 0 {
		return storageErr("update after renewal", gorm.ErrRecordNotFound)
	}
	return nil
}

// UpdateAccounts replaces the advisory linked-account snapshot for a credential
func (s *CredentialStore) UpdateAccounts(id string, accounts []models.LinkedAccount) error {
	res := s.db.Model(&models.Credential{}).Where("id = ?", id).Updates(map[string]any{
		"linked_accounts": accounts,
		"updated_at":      time.Now().UTC(),
	})
	if res.Error != nil {
		return storageErr("update accounts", res.Error)
	}
	return nil
}

// ListCredentials returns every credential row, including revoked ones, newest first.
// Used by the admin surface; tokens stay encrypted.
func (s *CredentialStore) ListCredentials() ([]models.Credential, error) {
	var creds []models.Credential
	if err := s.db.Order("created_at DESC").Find(&creds).Error; err != nil {
		return nil, storageErr("list credentials", err)
	}
	return creds, nil
}

// GenerateState inserts a fresh single-use CSRF token with the configured TTL and
// returns its value. The value carries 256 bits from crypto/rand.
func (s *CredentialStore) GenerateState(ownerID *string) (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	row := &models.AuthorizationState{
		State:     state,
		OwnerID:   ownerID,
		ExpiresAt: time.Now().UTC().Add(s.stateTTL),
	}
	if err := s.db.Create(row).Error; err != nil {
		return "", storageErr("generate state", err)
	}

	log.Debug("Generated authorization state")
	return state, nil
}

// ValidateAndConsumeState looks up a state token and deletes it in a single
// DELETE ... RETURNING statement, so of two concurrent validations of the same value
// exactly one wins. Expired rows are deleted too, but report invalid.
func (s *CredentialStore) ValidateAndConsumeState(state string) (*string, bool, error) {
	var row models.AuthorizationState
	res := s.db.Clauses(clause.Returning{}).Where("state = ?", state).Delete(&row)
	if res.Error != nil {
		return nil, false, storageErr("consume state", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Warn("Unknown or already-consumed state token")
		return nil, false, nil
	}
	if row.Expired(time.Now().UTC()) {
		log.Warn("Expired state token")
		return nil, false, nil
	}
	return row.OwnerID, true, nil
}

// ClearAll is the administrative bulk wipe: it deletes every credential and every
// pending state row, and returns the number of credentials removed.
func (s *CredentialStore) ClearAll() (int64, error) {
	var count int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Credential{}).Count(&count).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&models.AuthorizationState{}).Error
	})
	if err != nil {
		return 0, storageErr("clear all", err)
	}

	log.WithField("credentials", count).Info("Cleared all stored credentials")
	return count, nil
}
