package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/adsuite/oauthvault/internal/models"
)

// exchangeTimeout bounds every provider round trip. Token exchanges are small requests;
// the long timeouts appropriate for bulk insight queries do not apply here.
const exchangeTimeout = 10 * time.Second

// GraphClient talks to graph.facebook.com. It implements GraphAPI.
type GraphClient struct {
	appID      string
	appSecret  string
	redirect   string
	baseURL    string
	httpClient *http.Client
}

// NewGraphClient builds a client pinned to one API version
func NewGraphClient(appID, appSecret, redirectURI, apiVersion string) *GraphClient {
	return &GraphClient{
		appID:     appID,
		appSecret: appSecret,
		redirect:  redirectURI,
		baseURL:   "https://graph.facebook.com/" + apiVersion,
		httpClient: &http.Client{
			Timeout: exchangeTimeout,
		},
	}
}

// graphError is the error envelope the Graph API returns alongside HTTP errors
type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeCodeForToken trades an authorization code for a short-lived token
func (c *GraphClient) ExchangeCodeForToken(ctx context.Context, code string) (TokenGrant, error) {
	params := url.Values{
		"client_id":     {c.appID},
		"client_secret": {c.appSecret},
		"redirect_uri":  {c.redirect},
		"code":          {code},
	}

	var resp tokenResponse
	if err := c.get(ctx, "exchange code", "/oauth/access_token", params, &resp); err != nil {
		return TokenGrant{}, err
	}
	return TokenGrant{AccessToken: resp.AccessToken, TTLSeconds: resp.ExpiresIn}, nil
}

// ExchangeShortForLongToken upgrades a short-lived token to a long-lived one. The same
// exchange also renews a still-valid long-lived token.
func (c *GraphClient) ExchangeShortForLongToken(ctx context.Context, token string) (TokenGrant, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.appID},
		"client_secret":     {c.appSecret},
		"fb_exchange_token": {token},
	}

	var resp tokenResponse
	if err := c.get(ctx, "exchange long-lived token", "/oauth/access_token", params, &resp); err != nil {
		return TokenGrant{}, err
	}
	return TokenGrant{AccessToken: resp.AccessToken, TTLSeconds: resp.ExpiresIn}, nil
}

// FetchIdentity resolves the user a token belongs to
func (c *GraphClient) FetchIdentity(ctx context.Context, token string) (Identity, error) {
	params := url.Values{
		"access_token": {token},
		"fields":       {"id,name"},
	}

	var resp struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, "fetch identity", "/me", params, &resp); err != nil {
		return Identity{}, err
	}
	return Identity{ExternalUserID: resp.ID, DisplayName: resp.Name}, nil
}

type accountPayload struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		AccountID     string `json:"account_id"`
		Currency      string `json:"currency"`
		AccountStatus int    `json:"account_status"`
	} `json:"data"`
}

// FetchLinkedAccounts lists the ad accounts a token can reach. The business-scoped
// listing is tried first because it reaches accounts the direct listing misses; the
// direct /me/adaccounts listing is the fallback when the richer source yields nothing.
// The two sources are alternatives, never merged.
func (c *GraphClient) FetchLinkedAccounts(ctx context.Context, token string) ([]models.LinkedAccount, error) {
	accounts := c.fetchBusinessAccounts(ctx, token)
	if len(accounts) > 0 {
		return accounts, nil
	}

	params := url.Values{
		"access_token": {token},
		"fields":       {"id,name,account_id,currency,account_status"},
	}
	var resp accountPayload
	if err := c.get(ctx, "fetch ad accounts", "/me/adaccounts", params, &resp); err != nil {
		return nil, err
	}

	for _, a := range resp.Data {
		accounts = append(accounts, models.LinkedAccount{
			ID:        a.ID,
			Name:      a.Name,
			AccountID: a.AccountID,
			Currency:  a.Currency,
			Status:    a.AccountStatus,
		})
	}
	return accounts, nil
}

// fetchBusinessAccounts walks /me/businesses and each business's owned ad accounts.
// Requires business_management; any failure just means an empty result here, the caller
// falls back to the direct listing.
func (c *GraphClient) fetchBusinessAccounts(ctx context.Context, token string) []models.LinkedAccount {
	params := url.Values{
		"access_token": {token},
		"fields":       {"id,name"},
	}
	var businesses struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := c.get(ctx, "fetch businesses", "/me/businesses", params, &businesses); err != nil {
		log.WithError(err).Debug("Business listing unavailable, will fall back to direct ad account listing")
		return nil
	}

	var accounts []models.LinkedAccount
	for _, business := range businesses.Data {
		params := url.Values{
			"access_token": {token},
			"fields":       {"id,name,account_id,currency,account_status"},
		}
		var resp accountPayload
		if err := c.get(ctx, "fetch owned ad accounts", "/"+business.ID+"/owned_ad_accounts", params, &resp); err != nil {
			// A business without ad accounts is normal, keep going
			log.WithField("business_id", business.ID).WithError(err).Debug("Skipping business without reachable ad accounts")
			continue
		}
		for _, a := range resp.Data {
			accounts = append(accounts, models.LinkedAccount{
				ID:         a.ID,
				Name:       a.Name,
				AccountID:  a.AccountID,
				Currency:   a.Currency,
				Status:     a.AccountStatus,
				BusinessID: business.ID,
			})
		}
	}
	return accounts
}

// get performs one Graph API GET and decodes the JSON response into out. Provider-
// reported errors and transport failures both come back as *ProviderError.
func (c *GraphClient) get(ctx context.Context, op, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}

	if resp.StatusCode >= 400 {
		var ge graphError
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			return &ProviderError{Op: op, Message: ge.Error.Message}
		}
		return &ProviderError{Op: op, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	// Some Graph endpoints report errors inside a 200 response
	var ge graphError
	if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		return &ProviderError{Op: op, Message: ge.Error.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	return nil
}
