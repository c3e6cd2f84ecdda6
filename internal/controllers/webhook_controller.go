package controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/adsuite/oauthvault/internal/models"
	"github.com/adsuite/oauthvault/internal/oauth"
)

// WebhookController handles the provider's deauthorization callback: when a user
// removes the app, the stored credential must be revoked.
type WebhookController struct {
	coordinator *oauth.Coordinator
	appSecret   string
}

func NewWebhookController(coordinator *oauth.Coordinator, appSecret string) *WebhookController {
	return &WebhookController{coordinator: coordinator, appSecret: appSecret}
}

// deauthPayload is the decoded signed_request body
type deauthPayload struct {
	UserID    string `json:"user_id"`
	Algorithm string `json:"algorithm"`
	IssuedAt  int64  `json:"issued_at"`
}

// Deauthorize verifies the signed_request form field and revokes the named user's
// credential. Signature verification uses a constant-time comparison.
func (wc *WebhookController) Deauthorize(c *gin.Context) {
	signedRequest := c.PostForm("signed_request")
	if signedRequest == "" {
		c.JSON(http.StatusBadRequest, models.NewAPIError(models.ErrBadRequest, "Missing signed_request"))
		return
	}

	payload, err := wc.verifySignedRequest(signedRequest)
	if err != nil {
		log.WithError(err).Warn("Rejected deauthorization webhook")
		c.JSON(http.StatusBadRequest, models.NewAPIError(models.ErrInvalidSignature, "Invalid signed_request"))
		return
	}

	if payload.UserID == "" {
		c.JSON(http.StatusBadRequest, models.NewAPIError(models.ErrBadRequest, "signed_request carries no user_id"))
		return
	}

	found, err := wc.coordinator.Revoke(payload.UserID)
	if err != nil {
		log.WithError(err).Error("Deauthorization revoke failed")
		c.JSON(http.StatusInternalServerError, models.NewAPIError(models.ErrInternalServer, "Revocation failed"))
		return
	}

	log.WithFields(log.Fields{
		"external_user_id": payload.UserID,
		"found":            found,
	}).Info("Processed deauthorization webhook")
	c.JSON(http.StatusOK, gin.H{"status": "deauthorized"})
}

// verifySignedRequest splits sig.payload, checks the HMAC-SHA256 signature over the
// payload segment with the app secret, and decodes the payload.
func (wc *WebhookController) verifySignedRequest(signedRequest string) (*deauthPayload, error) {
	parts := strings.SplitN(signedRequest, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed signed_request")
	}

	sig, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[0], "="))
	if err != nil {
		return nil, fmt.Errorf("undecodable signature: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(wc.appSecret))
	mac.Write([]byte(parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("signature mismatch")
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("undecodable payload: %w", err)
	}

	var payload deauthPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unparseable payload: %w", err)
	}
	if payload.Algorithm != "" && !strings.EqualFold(payload.Algorithm, "HMAC-SHA256") {
		return nil, fmt.Errorf("unsupported algorithm: %s", payload.Algorithm)
	}
	return &payload, nil
}
