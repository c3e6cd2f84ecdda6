package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/adsuite/oauthvault/internal/models"
	"github.com/adsuite/oauthvault/internal/oauth"
	"github.com/adsuite/oauthvault/internal/resolver"
	"github.com/adsuite/oauthvault/internal/store"
)

// AdminController exposes the administrative surface: connection listing, token status,
// explicit logout, account snapshot refresh and the bulk wipe. Responses never contain
// token material, encrypted or otherwise.
type AdminController struct {
	store       *store.CredentialStore
	coordinator *oauth.Coordinator
	resolver    *resolver.TokenResolver
}

func NewAdminController(s *store.CredentialStore, coordinator *oauth.Coordinator, r *resolver.TokenResolver) *AdminController {
	return &AdminController{store: s, coordinator: coordinator, resolver: r}
}

// connectionView is the redacted per-credential listing entry
type connectionView struct {
	ID              string                 `json:"id"`
	OwnerID         *string                `json:"owner_id,omitempty"`
	ExternalUserID  string                 `json:"external_user_id"`
	GrantedScopes   []string               `json:"granted_scopes"`
	LinkedAccounts  []models.LinkedAccount `json:"linked_accounts"`
	Revoked         bool                   `json:"revoked"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
	LastRefreshedAt *time.Time             `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Connections lists every stored credential, redacted
func (ac *AdminController) Connections(c *gin.Context) {
	creds, err := ac.store.ListCredentials()
	if err != nil {
		log.WithError(err).Error("Connection listing failed")
		c.JSON(http.StatusInternalServerError, models.NewAPIError(models.ErrInternalServer, "Could not list connections"))
		return
	}

	views := make([]connectionView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, connectionView{
			ID:              cred.ID,
			OwnerID:         cred.OwnerID,
			ExternalUserID:  cred.ExternalUserID,
			GrantedScopes:   cred.GrantedScopes,
			LinkedAccounts:  cred.LinkedAccounts,
			Revoked:         cred.Revoked,
			ExpiresAt:       cred.ExpiresAt,
			LastRefreshedAt: cred.LastRefreshedAt,
			CreatedAt:       cred.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"connections": views})
}

// TokenStatus reports whether a usable token resolves for the given identity. The
// token itself never leaves the process.
func (ac *AdminController) TokenStatus(c *gin.Context) {
	ownerID := optionalQuery(c, "user_id")
	externalUserID := optionalQuery(c, "external_user_id")

	_, ok, err := ac.resolver.Resolve("", ownerID, externalUserID)
	if err != nil {
		log.WithError(err).Error("Token resolution failed")
		c.JSON(http.StatusInternalServerError, models.NewAPIError(models.ErrInternalServer, "Token resolution failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"available": ok})
}

// Logout revokes the credential for an external user id
func (ac *AdminController) Logout(c *gin.Context) {
	var req struct {
		ExternalUserID string `json:"external_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewAPIError(models.ErrBadRequest, "external_user_id is required"))
		return
	}

	found, err := ac.coordinator.Revoke(req.ExternalUserID)
	if err != nil {
		log.WithError(err).Error("Logout revoke failed")
		c.JSON(http.StatusInternalServerError, models.NewAPIError(models.ErrInternalServer, "Revocation failed"))
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, models.NewAPIError(models.ErrNotFound, "No credential for that user"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// RefreshAccounts re-fetches the linked account snapshot for a stored credential
func (ac *AdminController) RefreshAccounts(c *gin.Context) {
	ownerID := optionalQuery(c, "user_id")
	externalUserID := optionalQuery(c, "external_user_id")

	count, err := ac.coordinator.RefreshAccounts(c.Request.Context(), ownerID, externalUserID)
	if err != nil {
		respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "refreshed", "accounts": count})
}

// Clear wipes every credential and pending state row. Administrative and destructive;
// it sits behind the admin JWT like everything else here.
func (ac *AdminController) Clear(c *gin.Context) {
	count, err := ac.store.ClearAll()
	if err != nil {
		log.WithError(err).Error("Bulk clear failed")
		c.JSON(http.StatusInternalServerError, models.NewAPIError(models.ErrInternalServer, "Clear failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cleared", "credentials_removed": count})
}
