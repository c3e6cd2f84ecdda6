package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/adsuite/oauthvault/internal/cipher"
	"github.com/adsuite/oauthvault/internal/config"
	"github.com/adsuite/oauthvault/internal/middleware"
	"github.com/adsuite/oauthvault/internal/models"
	"github.com/adsuite/oauthvault/internal/oauth"
	"github.com/adsuite/oauthvault/internal/provider"
	"github.com/adsuite/oauthvault/internal/resolver"
	"github.com/adsuite/oauthvault/internal/store"
)

const testAppSecret = "app-secret"

// stubGraph is a scriptable GraphAPI double for handler tests
type stubGraph struct {
	codeGrant provider.TokenGrant
	codeErr   error
	longGrant provider.TokenGrant
	longErr   error
	identity  provider.Identity
	accounts  []models.LinkedAccount
}

func (s *stubGraph) ExchangeCodeForToken(ctx context.Context, code string) (provider.TokenGrant, error) {
	return s.codeGrant, s.codeErr
}

func (s *stubGraph) ExchangeShortForLongToken(ctx context.Context, token string) (provider.TokenGrant, error) {
	return s.longGrant, s.longErr
}

func (s *stubGraph) FetchIdentity(ctx context.Context, token string) (provider.Identity, error) {
	return s.identity, nil
}

func (s *stubGraph) FetchLinkedAccounts(ctx context.Context, token string) ([]models.LinkedAccount, error) {
	return s.accounts, nil
}

type testApp struct {
	router *gin.Engine
	store  *store.CredentialStore
	db     *gorm.DB
}

func setupApp(t *testing.T, graph provider.GraphAPI) *testApp {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Credential{}, &models.AuthorizationState{}))

	cfg := &config.Config{
		AppID:             "app-id",
		AppSecret:         testAppSecret,
		APIVersion:        "v24.0",
		RedirectURI:       "http://localhost:8000/auth/callback",
		OAuthScopes:       []string{"business_management"},
		OAuthEnabled:      true,
		RefreshWindowDays: 10,
		StateTTL:          10 * time.Minute,
		AdminJWTSecret:    "admin-jwt-secret-32-characters!!",
	}

	c, err := cipher.New("test-encryption-secret")
	require.NoError(t, err)
	credStore := store.NewCredentialStore(db, c, cfg.StateTTL)
	coordinator := oauth.NewCoordinator(cfg, credStore, graph)
	tokenResolver := resolver.NewTokenResolver(cfg, credStore)

	oauthController := NewOAuthController(coordinator)
	webhookController := NewWebhookController(coordinator, cfg.AppSecret)
	adminController := NewAdminController(credStore, coordinator, tokenResolver)

	router := gin.New()
	router.GET("/auth/login", oauthController.Login)
	router.GET("/auth/callback", oauthController.Callback)
	router.POST("/auth/token", oauthController.ProcessToken)
	router.POST("/webhooks/meta/deauth", webhookController.Deauthorize)
	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuth([]byte(cfg.AdminJWTSecret)))
	{
		admin.GET("/connections", adminController.Connections)
		admin.GET("/token/status", adminController.TokenStatus)
		admin.POST("/logout", adminController.Logout)
		admin.POST("/clear", adminController.Clear)
	}

	return &testApp{router: router, store: credStore, db: db}
}

func adminToken(t *testing.T, secret, role string) string {
	claims := jwt.MapClaims{
		"sub":  "ops",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func signedRequest(t *testing.T, secret string, payload map[string]any) string {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	encodedPayload := base64.RawURLEncoding.EncodeToString(raw)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encodedPayload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return sig + "." + encodedPayload
}

func TestLoginRedirectsToDialog(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	req := httptest.NewRequest("GET", "/auth/login", nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.Contains(t, location, "facebook.com")
	assert.Contains(t, location, "state=")
}

func TestCallbackCompletesCodeFlow(t *testing.T) {
	graph := &stubGraph{
		codeGrant: provider.TokenGrant{AccessToken: "X", TTLSeconds: 3600},
		longGrant: provider.TokenGrant{AccessToken: "X-long", TTLSeconds: 5184000},
		identity:  provider.Identity{ExternalUserID: "42"},
	}
	app := setupApp(t, graph)

	// Begin to get a valid state out of the redirect URL
	req := httptest.NewRequest("GET", "/auth/login", nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)
	parsed, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	req = httptest.NewRequest("GET", "/auth/callback?code=abc&state="+url.QueryEscape(state), nil)
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp["external_user_id"])

	token, ok, err := app.store.GetPlaintextToken(nil, ptr("42"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "X-long", token)
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	req := httptest.NewRequest("GET", "/auth/callback?code=x&state=never-issued", nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), models.ErrInvalidState)
}

func TestCallbackWithoutCodeServesRelayPage(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	req := httptest.NewRequest("GET", "/auth/callback", nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/auth/token")
}

func TestProcessTokenRunsImplicitFlow(t *testing.T) {
	graph := &stubGraph{
		longGrant: provider.TokenGrant{AccessToken: "long-lived", TTLSeconds: 5184000},
		identity:  provider.Identity{ExternalUserID: "77"},
	}
	app := setupApp(t, graph)

	body, _ := json.Marshal(map[string]any{"access_token": "implicit", "expires_in": 3600})
	req := httptest.NewRequest("POST", "/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	token, ok, err := app.store.GetPlaintextToken(nil, ptr("77"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "long-lived", token)
}

func TestProcessTokenRequiresAccessToken(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	req := httptest.NewRequest("POST", "/auth/token", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeauthWebhookRevokesCredential(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	_, err := app.store.SaveCredential(nil, "42", "token", 3600, nil, nil)
	require.NoError(t, err)

	sr := signedRequest(t, testAppSecret, map[string]any{
		"user_id":   "42",
		"algorithm": "HMAC-SHA256",
	})
	form := url.Values{"signed_request": {sr}}
	req := httptest.NewRequest("POST", "/webhooks/meta/deauth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	_, ok, err := app.store.GetPlaintextToken(nil, ptr("42"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeauthWebhookRejectsBadSignature(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	_, err := app.store.SaveCredential(nil, "42", "token", 3600, nil, nil)
	require.NoError(t, err)

	sr := signedRequest(t, "wrong-secret", map[string]any{"user_id": "42"})
	form := url.Values{"signed_request": {sr}}
	req := httptest.NewRequest("POST", "/webhooks/meta/deauth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Credential stays live
	_, ok, err := app.store.GetPlaintextToken(nil, ptr("42"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeauthWebhookRequiresSignedRequest(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	req := httptest.NewRequest("POST", "/webhooks/meta/deauth", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminEndpointsRequireJWT(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	req := httptest.NewRequest("GET", "/admin/connections", nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A valid token with the wrong role is forbidden
	req = httptest.NewRequest("GET", "/admin/connections", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-jwt-secret-32-characters!!", "user"))
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminConnectionsRedactsTokens(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	_, err := app.store.SaveCredential(nil, "42", "super-secret-token", 3600,
		[]string{"business_management"}, []models.LinkedAccount{{ID: "act_1", Name: "Main"}})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/admin/connections", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-jwt-secret-32-characters!!", "admin"))
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"external_user_id":"42"`)
	assert.NotContains(t, w.Body.String(), "super-secret-token")
	assert.NotContains(t, w.Body.String(), "encrypted")
}

func TestAdminLogoutRevokes(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	_, err := app.store.SaveCredential(nil, "42", "token", 3600, nil, nil)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"external_user_id": "42"})
	req := httptest.NewRequest("POST", "/admin/logout", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-jwt-secret-32-characters!!", "admin"))
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	_, ok, err := app.store.GetPlaintextToken(nil, ptr("42"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminClearWipesEverything(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	_, err := app.store.SaveCredential(nil, "42", "token", 3600, nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/admin/clear", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-jwt-secret-32-characters!!", "admin"))
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"credentials_removed":1`)

	var count int64
	app.db.Model(&models.Credential{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestAdminTokenStatus(t *testing.T) {
	app := setupApp(t, &stubGraph{})

	req := httptest.NewRequest("GET", "/admin/token/status", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-jwt-secret-32-characters!!", "admin"))
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"available":false`)

	_, err := app.store.SaveCredential(nil, "42", "token", 3600, nil, nil)
	require.NoError(t, err)

	req = httptest.NewRequest("GET", "/admin/token/status", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-jwt-secret-32-characters!!", "admin"))
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"available":true`)
}

func ptr(s string) *string { return &s }
