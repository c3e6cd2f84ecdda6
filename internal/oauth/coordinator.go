// Package oauth orchestrates the authorization handshakes against the Meta OAuth dialog:
// CSRF state issuance and validation, code and implicit completions, long-lived token
// upgrades, renewal and revocation. It never persists a partial credential; a failed
// attempt leaves no rows behind.
package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/adsuite/oauthvault/internal/config"
	"github.com/adsuite/oauthvault/internal/models"
	"github.com/adsuite/oauthvault/internal/provider"
	"github.com/adsuite/oauthvault/internal/store"
)

// defaultLongLivedTTL is applied when the long-lived exchange omits expires_in.
// Long-lived Meta tokens last about 60 days.
const defaultLongLivedTTL int64 = 60 * 24 * 60 * 60

// Coordinator drives every authorization attempt through its state machine: state
// validation, exchanges, identity fetch, advisory account fetch, persist. Constructed
// once at process start and shared; it holds no per-attempt state.
type Coordinator struct {
	cfg   *config.Config
	store *store.CredentialStore
	graph provider.GraphAPI
}

// NewCoordinator wires the coordinator to its config, store and provider capability
func NewCoordinator(cfg *config.Config, s *store.CredentialStore, graph provider.GraphAPI) *Coordinator {
	return &Coordinator{cfg: cfg, store: s, graph: graph}
}

// BeginAuthorization issues a CSRF state token and builds the provider's authorization
// dialog URL with the configured scopes and redirect target embedded.
func (c *Coordinator) BeginAuthorization(ownerID *string) (string, error) {
	if !c.cfg.OAuthConfigured() {
		return "", ErrNotConfigured
	}

	state, err := c.store.GenerateState(ownerID)
	if err != nil {
		return "", err
	}

	params := url.Values{
		"client_id":     {c.cfg.AppID},
		"redirect_uri":  {c.cfg.RedirectURI},
		"scope":         {strings.Join(c.cfg.OAuthScopes, ",")},
		"response_type": {"token"},
		"state":         {state},
	}

	return fmt.Sprintf("https://www.facebook.com/%s/dialog/oauth?%s", c.cfg.APIVersion, params.Encode()), nil
}

// CompleteAuthorizationCode runs the authorization-code handshake: validate and consume
// the state, trade the code for a short-lived token, upgrade it to a long-lived one,
// resolve the identity, snapshot accounts (advisory) and persist. Every step but the
// account fetch is mandatory.
func (c *Coordinator) CompleteAuthorizationCode(ctx context.Context, code, state string) (*models.Credential, error) {
	if !c.cfg.OAuthConfigured() {
		return nil, ErrNotConfigured
	}

	ownerID, valid, err := c.store.ValidateAndConsumeState(state)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrInvalidState
	}

	short, err := c.graph.ExchangeCodeForToken(ctx, code)
	if err != nil {
		return nil, &ExchangeError{Step: "code", Err: err}
	}

	long, err := c.graph.ExchangeShortForLongToken(ctx, short.AccessToken)
	if err != nil {
		return nil, &ExchangeError{Step: "long-lived", Err: err}
	}

	identity, err := c.graph.FetchIdentity(ctx, long.AccessToken)
	if err != nil {
		return nil, &IdentityFetchError{Err: err}
	}

	accounts := c.fetchAccountsAdvisory(ctx, long.AccessToken, identity.ExternalUserID)

	cred, err := c.store.SaveCredential(ownerID, identity.ExternalUserID, long.AccessToken, long.TTLSeconds, c.cfg.OAuthScopes, accounts)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"external_user_id": identity.ExternalUserID,
		"accounts":         len(accounts),
	}).Info("Authorization code flow completed")
	return cred, nil
}

// CompleteImplicitToken runs the implicit handshake for a token that arrived client-side.
// There is no code to exchange and the state is not cryptographically meaningful here, so
// the flow goes straight to the identity fetch. The long-lived upgrade is best-effort:
// when it fails, the original token and its declared TTL are kept.
func (c *Coordinator) CompleteImplicitToken(ctx context.Context, token string, declaredTTL int64) (*models.Credential, error) {
	return c.completeImplicit(ctx, token, declaredTTL, nil)
}

// CompleteImplicitTokenForOwner is CompleteImplicitToken with a host-application owner
// attached to the resulting credential.
func (c *Coordinator) CompleteImplicitTokenForOwner(ctx context.Context, token string, declaredTTL int64, ownerID *string) (*models.Credential, error) {
	return c.completeImplicit(ctx, token, declaredTTL, ownerID)
}

func (c *Coordinator) completeImplicit(ctx context.Context, token string, declaredTTL int64, ownerID *string) (*models.Credential, error) {
	if !c.cfg.OAuthConfigured() {
		return nil, ErrNotConfigured
	}

	identity, err := c.graph.FetchIdentity(ctx, token)
	if err != nil {
		return nil, &IdentityFetchError{Err: err}
	}

	finalToken, ttl := token, declaredTTL
	if long, err := c.graph.ExchangeShortForLongToken(ctx, token); err != nil {
		log.WithError(err).Warn("Long-lived upgrade failed, keeping implicit token as-is")
	} else {
		finalToken, ttl = long.AccessToken, long.TTLSeconds
	}

	accounts := c.fetchAccountsAdvisory(ctx, finalToken, identity.ExternalUserID)

	cred, err := c.store.SaveCredential(ownerID, identity.ExternalUserID, finalToken, ttl, c.cfg.OAuthScopes, accounts)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"external_user_id": identity.ExternalUserID,
		"accounts":         len(accounts),
	}).Info("Implicit token flow completed")
	return cred, nil
}

// RenewCredential decrypts the stored token, re-exchanges it for a fresh long-lived one
// and re-persists ciphertext, expiry and lastRefreshedAt in one write. Any failure
// leaves the row untouched.
func (c *Coordinator) RenewCredential(ctx context.Context, cred *models.Credential) error {
	plaintext, err := c.store.DecryptCredential(cred)
	if err != nil {
		return err
	}

	grant, err := c.graph.ExchangeShortForLongToken(ctx, plaintext)
	if err != nil {
		return &ExchangeError{Step: "renewal", Err: err}
	}

	ttl := grant.TTLSeconds
	if ttl <= 0 {
		ttl = defaultLongLivedTTL
	}

	if err := c.store.UpdateAfterRenewal(cred.ID, grant.AccessToken, ttl); err != nil {
		return err
	}

	log.WithField("external_user_id", cred.ExternalUserID).Info("Renewed credential")
	return nil
}

// RefreshAccounts re-fetches the linked account snapshot for a stored credential and
// persists it. Returns the number of accounts in the new snapshot.
func (c *Coordinator) RefreshAccounts(ctx context.Context, ownerID, externalUserID *string) (int, error) {
	cred, err := c.store.GetCredential(ownerID, externalUserID)
	if err != nil {
		return 0, err
	}
	if cred == nil {
		return 0, nil
	}

	plaintext, err := c.store.DecryptCredential(cred)
	if err != nil {
		return 0, err
	}

	accounts, err := c.graph.FetchLinkedAccounts(ctx, plaintext)
	if err != nil {
		return 0, &ExchangeError{Step: "accounts", Err: err}
	}

	if err := c.store.UpdateAccounts(cred.ID, accounts); err != nil {
		return 0, err
	}
	return len(accounts), nil
}

// Revoke marks the credential for externalUserID as revoked
func (c *Coordinator) Revoke(externalUserID string) (bool, error) {
	return c.store.Revoke(externalUserID)
}

// fetchAccountsAdvisory snapshots linked accounts without letting a failure abort the
// flow; the snapshot is advisory and the credential is complete without it.
func (c *Coordinator) fetchAccountsAdvisory(ctx context.Context, token, externalUserID string) []models.LinkedAccount {
	accounts, err := c.graph.FetchLinkedAccounts(ctx, token)
	if err != nil {
		log.WithFields(log.Fields{
			"external_user_id": externalUserID,
		}).WithError(err).Warn("Linked account fetch failed, continuing without a snapshot")
		return nil
	}
	return accounts
}
