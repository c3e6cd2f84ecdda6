// Package provider exposes the narrow slice of the Meta Graph API that the credential
// lifecycle needs: code and token exchanges, identity lookup and ad account listing.
// Everything else about the Marketing API (pagination, rate limits, bulk reads) belongs
// to the tool layer, not here.
package provider

import (
	"context"
	"fmt"

	"github.com/adsuite/oauthvault/internal/models"
)

// TokenGrant is what the provider hands back from a token exchange
type TokenGrant struct {
	AccessToken string
	TTLSeconds  int64
}

// Identity is the remote user behind a token
type Identity struct {
	ExternalUserID string
	DisplayName    string
}

// GraphAPI is the remote-provider capability consumed by the OAuth coordinator. Every
// call blocks on the network with a short bounded timeout and may fail with a
// *ProviderError.
type GraphAPI interface {
	ExchangeCodeForToken(ctx context.Context, code string) (TokenGrant, error)
	ExchangeShortForLongToken(ctx context.Context, token string) (TokenGrant, error)
	FetchIdentity(ctx context.Context, token string) (Identity, error)
	FetchLinkedAccounts(ctx context.Context, token string) ([]models.LinkedAccount, error)
}

// ProviderError carries the message the remote provider reported, or the transport
// failure that kept us from reaching it
type ProviderError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
