// Package resolver is the read path the rest of the application consumes: it turns an
// optional caller identity into the single usable plaintext token.
package resolver

import (
	log "github.com/sirupsen/logrus"

	"github.com/adsuite/oauthvault/internal/config"
	"github.com/adsuite/oauthvault/internal/store"
)

// TokenResolver applies source precedence: an explicit caller-supplied token wins, then
// the credential store, then the statically configured fallback token. Having no token
// at all is a normal empty result, never an error; callers render their own message.
type TokenResolver struct {
	cfg   *config.Config
	store *store.CredentialStore
}

// NewTokenResolver wires the resolver to the store and the process configuration
func NewTokenResolver(cfg *config.Config, s *store.CredentialStore) *TokenResolver {
	return &TokenResolver{cfg: cfg, store: s}
}

// Resolve returns the usable plaintext token for the given identity, or ("", false) when
// none of the three sources has one. Storage and decryption failures still surface as
// errors; they are not the same thing as absence.
func (r *TokenResolver) Resolve(explicitToken string, ownerID, externalUserID *string) (string, bool, error) {
	if explicitToken != "" {
		return explicitToken, true, nil
	}

	token, ok, err := r.store.GetPlaintextToken(ownerID, externalUserID)
	if err != nil {
		return "", false, err
	}
	if ok {
		return token, true, nil
	}

	if r.cfg.FallbackToken != "" {
		log.Debug("Using configured fallback access token")
		return r.cfg.FallbackToken, true, nil
	}

	return "", false, nil
}
