package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/adsuite/oauthvault/internal/cipher"
	"github.com/adsuite/oauthvault/internal/config"
	"github.com/adsuite/oauthvault/internal/controllers"
	"github.com/adsuite/oauthvault/internal/database"
	"github.com/adsuite/oauthvault/internal/middleware"
	"github.com/adsuite/oauthvault/internal/oauth"
	"github.com/adsuite/oauthvault/internal/provider"
	"github.com/adsuite/oauthvault/internal/refresh"
	"github.com/adsuite/oauthvault/internal/resolver"
	"github.com/adsuite/oauthvault/internal/store"
)

func main() {
	// Load environment variables
	loadDotenvFile()

	// Initialize logger
	setUpLogger()

	// Load configuration
	configuration := loadConfig()

	// Initialize database connection
	db := setupDatabase(configuration)

	// Construct the credential lifecycle components, leaves first
	tokenCipher, err := cipher.New(configuration.EncryptionSecret)
	checkPanicErr(err)

	credentialStore := store.NewCredentialStore(db, tokenCipher, configuration.StateTTL)
	graphClient := provider.NewGraphClient(configuration.AppID, configuration.AppSecret,
		configuration.RedirectURI, configuration.APIVersion)
	coordinator := oauth.NewCoordinator(configuration, credentialStore, graphClient)
	tokenResolver := resolver.NewTokenResolver(configuration, credentialStore)

	// Background renewal loop
	scheduler := refresh.NewScheduler(configuration, credentialStore, coordinator)
	scheduler.Start()

	// Initialize Gin router
	router := setupRouter(configuration, credentialStore, coordinator, tokenResolver)

	server := &http.Server{
		Addr:    fmt.Sprintf("%v:%d", configuration.Host, configuration.Port),
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s:%d", configuration.Host, configuration.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	// Block until asked to shut down, then stop the scheduler and drain the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}

// checkPanicErr checks if an error occurred and panics if it did
func checkPanicErr(err error) {
	if err != nil {
		panic(err)
	}
}

// loadDotenvFile loads environment variables from a .env file
// If the file is not found, it will log a warning and use system environment variables
func loadDotenvFile() {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found, using system environment variables")
	}
}

// setUpLogger initializes the logger with a JSON formatter and sets the log level based on the environment
func setUpLogger() {
	log.SetFormatter(&log.JSONFormatter{})
	environment := config.GetEnvWithDefault("APP_ENV", "development")
	switch environment {
	case "development":
		log.SetLevel(log.DebugLevel)
	case "production":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// loadConfig loads the application configuration from environment variables
// It returns a Config struct or panics if there is an error
func loadConfig() *config.Config {
	conf, err := config.LoadConfig()
	checkPanicErr(err)
	if !conf.OAuthConfigured() {
		log.Warn("OAuth integration is not configured; flows and refresh are disabled")
	}
	return conf
}

// setupDatabase initializes the database connection and migrates the credential tables
func setupDatabase(conf *config.Config) *gorm.DB {
	db, err := database.InitDatabase(database.FromConfig(conf))
	checkPanicErr(err)
	checkPanicErr(database.Migrate(db))
	return db
}

// setupRouter initializes the Gin router and sets up the routes
// It returns the configured router
func setupRouter(conf *config.Config, credentialStore *store.CredentialStore, coordinator *oauth.Coordinator, tokenResolver *resolver.TokenResolver) *gin.Engine {
	router := gin.Default()

	oauthController := controllers.NewOAuthController(coordinator)
	webhookController := controllers.NewWebhookController(coordinator, conf.AppSecret)
	adminController := controllers.NewAdminController(credentialStore, coordinator, tokenResolver)

	// Health check endpoint
	router.GET("/health", healthCheckHandler)

	// OAuth flow endpoints
	auth := router.Group("/auth")
	{
		auth.GET("/login", oauthController.Login)
		auth.GET("/callback", oauthController.Callback)
		auth.POST("/token", oauthController.ProcessToken)
	}

	// Provider webhooks
	router.POST("/webhooks/meta/deauth", webhookController.Deauthorize)

	// Administrative endpoints (requires admin JWT)
	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuth([]byte(conf.AdminJWTSecret)))
	{
		admin.GET("/connections", adminController.Connections)
		admin.GET("/token/status", adminController.TokenStatus)
		admin.POST("/logout", adminController.Logout)
		admin.POST("/accounts/refresh", adminController.RefreshAccounts)
		admin.POST("/clear", adminController.Clear)
	}

	return router
}

// healthCheckHandler handles the health check endpoint
func healthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "oauthvault",
	})
}
