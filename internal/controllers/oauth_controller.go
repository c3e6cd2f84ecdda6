package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/adsuite/oauthvault/internal/models"
	"github.com/adsuite/oauthvault/internal/oauth"
)

// OAuthController exposes the redirect-based login entry point and the two completion
// paths (authorization-code callback and implicit-token POST).
type OAuthController struct {
	coordinator *oauth.Coordinator
}

func NewOAuthController(coordinator *oauth.Coordinator) *OAuthController {
	return &OAuthController{coordinator: coordinator}
}

// Login begins an authorization attempt and redirects the browser to the provider's
// dialog. An optional user_id query parameter associates the resulting credential with
// a host-application user.
func (oc *OAuthController) Login(c *gin.Context) {
	ownerID := optionalQuery(c, "user_id")

	authURL, err := oc.coordinator.BeginAuthorization(ownerID)
	if err != nil {
		respondFlowError(c, err)
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

// Callback handles the provider redirect. A code+state pair runs the authorization-code
// flow server-side. Without a code, the token is in the URL fragment, which never
// reaches the server, so a small relay page is served that re-posts the fragment to
// the token endpoint.
func (oc *OAuthController) Callback(c *gin.Context) {
	if errCode := c.Query("error"); errCode != "" {
		log.WithFields(log.Fields{
			"error":  errCode,
			"reason": c.Query("error_reason"),
		}).Warn("Provider reported an authorization error")
		c.JSON(http.StatusBadRequest, models.NewAPIError(models.ErrBadRequest,
			"Authorization was denied or cancelled. Visit the login endpoint to try again."))
		return
	}

	code := c.Query("code")
	if code == "" {
		// Implicit flow: the token travels in the fragment, client-side only
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fragmentRelayPage))
		return
	}

	cred, err := oc.coordinator.CompleteAuthorizationCode(c.Request.Context(), code, c.Query("state"))
	if err != nil {
		respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "connected",
		"external_user_id": cred.ExternalUserID,
		"accounts":         len(cred.LinkedAccounts),
	})
}

// ProcessToken accepts the implicit-flow token relayed from the callback page
func (oc *OAuthController) ProcessToken(c *gin.Context) {
	var req struct {
		AccessToken string  `json:"access_token" binding:"required"`
		ExpiresIn   int64   `json:"expires_in"`
		UserID      *string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewAPIError(models.ErrBadRequest, "access_token is required"))
		return
	}

	cred, err := oc.coordinator.CompleteImplicitTokenForOwner(c.Request.Context(), req.AccessToken, req.ExpiresIn, req.UserID)
	if err != nil {
		respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "connected",
		"external_user_id": cred.ExternalUserID,
		"accounts":         len(cred.LinkedAccounts),
	})
}

// respondFlowError maps coordinator errors onto HTTP responses with enough detail to
// render a retry prompt. Token material never appears in a payload.
func respondFlowError(c *gin.Context, err error) {
	var exchangeErr *oauth.ExchangeError
	var identityErr *oauth.IdentityFetchError

	switch {
	case errors.Is(err, oauth.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, models.NewAPIError(models.ErrOAuthNotConfigured,
			"OAuth is not configured on this server"))
	case errors.Is(err, oauth.ErrInvalidState):
		c.JSON(http.StatusBadRequest, models.NewAPIError(models.ErrInvalidState,
			"The authorization session is invalid or has expired. Visit the login endpoint to start over."))
	case errors.As(err, &exchangeErr):
		log.WithError(err).Error("Token exchange failed")
		c.JSON(http.StatusBadGateway, models.NewAPIError(models.ErrExchangeFailed,
			"The token exchange with the provider failed. Please try authorizing again."))
	case errors.As(err, &identityErr):
		log.WithError(err).Error("Identity fetch failed")
		c.JSON(http.StatusBadGateway, models.NewAPIError(models.ErrIdentityFailed,
			"Could not resolve the authorized user. Please try authorizing again."))
	default:
		log.WithError(err).Error("Authorization attempt failed")
		c.JSON(http.StatusInternalServerError, models.NewAPIError(models.ErrInternalServer,
			"Authorization failed. Please try again."))
	}
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

// fragmentRelayPage re-posts the implicit-flow fragment parameters to the token
// endpoint; the fragment is only visible to the browser.
const fragmentRelayPage = `<!DOCTYPE html>
<html>
<head><title>Completing authorization…</title></head>
<body>
<p>Completing authorization…</p>
<script>
(function () {
  var params = new URLSearchParams(window.location.hash.substring(1));
  var token = params.get("access_token");
  if (!token) {
    document.body.innerText = "No access token found in callback. Please try again.";
    return;
  }
  fetch("/auth/token", {
    method: "POST",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify({
      access_token: token,
      expires_in: parseInt(params.get("expires_in") || "0", 10)
    })
  }).then(function (resp) {
    document.body.innerText = resp.ok
      ? "Authorization complete. You can close this window."
      : "Authorization failed. Please try again.";
  }).catch(function () {
    document.body.innerText = "Authorization failed. Please try again.";
  });
})();
</script>
</body>
</html>`
