package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Create a new instance of the logger
// Configure it to log at the desired level
// and format it as JSON for structured logging
var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	environment := GetEnvWithDefault("APP_ENV", "development")
	switch environment {
	case "development":
		log.SetLevel(logrus.DebugLevel)
	case "production":
		log.SetLevel(logrus.ErrorLevel)
	default:
		// Default to info level for other environments
		log.SetLevel(logrus.InfoLevel)
	}
}

// Config used for the application configuration, loading the input from environment variables
type Config struct {
	// Web server configuration
	Port int    `json:"port"`
	Host string `json:"host"`

	// Database configuration
	DBDriver   string `json:"db_driver"`
	DBPath     string `json:"db_path"`
	DBHost     string `json:"db_host"`
	DBPort     string `json:"db_port"`
	DBName     string `json:"db_name"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBSSLMode  string `json:"db_ssl_mode"`

	// Meta OAuth app configuration
	AppID         string   `json:"app_id"`
	AppSecret     string   `json:"app_secret"`
	APIVersion    string   `json:"api_version"`
	RedirectURI   string   `json:"redirect_uri"`
	OAuthScopes   []string `json:"oauth_scopes"`
	OAuthEnabled  bool     `json:"oauth_enabled"`
	FallbackToken string   `json:"fallback_token"`

	// Token lifecycle configuration
	EncryptionSecret  string        `json:"encryption_secret"`
	RefreshWindowDays int           `json:"refresh_window_days"`
	StateTTL          time.Duration `json:"state_ttl"`
	RefreshInterval   time.Duration `json:"refresh_interval"`

	// Security Configuration
	AdminJWTSecret string `json:"admin_jwt_secret"`

	// Logging configuration
	LogLevel string `json:"log_level"`
}

// defaultScopes matches the scope set the Marketing API integration is reviewed for.
const defaultScopes = "business_management,public_profile,pages_show_list,pages_read_engagement"

// String returns a string representation of Config with sensitive data masked
func (c *Config) String() string {
	return fmt.Sprintf("Config{Port: %d, Host: %s, DBDriver: %s, DBName: %s, DBUser: %s, DBPassword: [REDACTED], "+
		"AppID: %s, AppSecret: [REDACTED], APIVersion: %s, RedirectURI: %s, OAuthScopes: %v, OAuthEnabled: %t, "+
		"FallbackToken: [REDACTED], EncryptionSecret: [REDACTED], RefreshWindowDays: %d, StateTTL: %s, RefreshInterval: %s, "+
		"AdminJWTSecret: [REDACTED], LogLevel: %s}",
		c.Port, c.Host, c.DBDriver, c.DBName, c.DBUser,
		c.AppID, c.APIVersion, c.RedirectURI, c.OAuthScopes, c.OAuthEnabled,
		c.RefreshWindowDays, c.StateTTL, c.RefreshInterval, c.LogLevel)
}

// OAuthConfigured reports whether the Meta OAuth integration is usable: the flows and the
// refresh scheduler are no-ops without an app id, an app secret and a redirect URI.
func (c *Config) OAuthConfigured() bool {
	return c.OAuthEnabled &&
		c.AppID != "" && c.AppID != "PLEASE_SET" &&
		c.AppSecret != "" && c.AppSecret != "PLEASE_SET" &&
		c.RedirectURI != ""
}

// LoadConfig read the proper configuration from environment variables and returns a Config struct
// It also validates formats like RedirectURI
// Returns an error if any required environment variable is invalid
func LoadConfig() (*Config, error) {
	log.Info("Loading configuration from environment variables")
	port, err := strconv.Atoi(GetEnvWithDefault("APP_PORT", "8000"))
	if err != nil {
		return nil, err
	}

	redirectURI := GetEnvWithDefault("META_REDIRECT_URI", "")
	if redirectURI != "" {
		if _, err := url.ParseRequestURI(redirectURI); err != nil {
			return nil, fmt.Errorf("invalid META_REDIRECT_URI format: %s", redirectURI)
		}
	}

	config := &Config{
		Port: port,
		Host: GetEnvWithDefault("APP_HOST", "0.0.0.0"),

		DBDriver:   GetEnvWithDefault("DB_DRIVER", "sqlite"),
		DBPath:     GetEnvWithDefault("DB_PATH", "oauth.db"),
		DBHost:     GetEnvWithDefault("DB_HOST", "localhost"),
		DBPort:     GetEnvWithDefault("DB_PORT", "5432"),
		DBName:     GetEnvWithDefault("DB_NAME", "oauthvault"),
		DBUser:     GetEnvWithDefault("DB_USER", "user"),
		DBPassword: GetEnvWithDefault("DB_PASSWORD", "password"),
		DBSSLMode:  GetEnvWithDefault("DB_SSL_MODE", "disable"),

		AppID:         GetEnvWithDefault("META_APP_ID", ""),
		AppSecret:     GetEnvWithDefault("META_APP_SECRET", ""),
		APIVersion:    GetEnvWithDefault("META_API_VERSION", "v24.0"),
		RedirectURI:   redirectURI,
		OAuthScopes:   splitScopes(GetEnvWithDefault("META_OAUTH_SCOPES", defaultScopes)),
		OAuthEnabled:  GetEnvAsType("META_OAUTH_ENABLED", true),
		FallbackToken: GetEnvWithDefault("META_ACCESS_TOKEN", ""),

		EncryptionSecret:  GetEnvWithDefault("TOKEN_ENCRYPTION_KEY", "dev-key-change-in-production"),
		RefreshWindowDays: GetEnvAsType("TOKEN_REFRESH_WINDOW_DAYS", 10),
		StateTTL:          time.Duration(GetEnvAsType("OAUTH_STATE_TTL_MINUTES", 10)) * time.Minute,
		RefreshInterval:   time.Hour,

		AdminJWTSecret: GetEnvWithDefault("ADMIN_JWT_SECRET", "secret"),
		LogLevel:       GetEnvWithDefault("LOG_LEVEL", "info"),
	}
	log.Infof("Configuration loaded: %s", config.String())
	return config, nil
}

// splitScopes parses the comma-separated scope list, preserving order
func splitScopes(raw string) []string {
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// Helper to get environment with default values
func GetEnvWithDefault(key, defaultValue string) string {
	log.Tracef("Getting environment variable: %s", key)
	value := os.Getenv(key)
	if value == "" {
		log.Warnf("Environment variable %s not set, using default value", key)
		return defaultValue
	}
	return value
}

// GetEnvAsType retrieves an environment variable and converts it to the specified type
// using generic type handling.
func GetEnvAsType[T any](key string, defaultValue T) T {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result T
	switch any(result).(type) {
	case int:
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return any(intValue).(T)
	case string:
		return any(value).(T)
	case bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return any(boolValue).(T)
	default:
		return defaultValue // Fallback for unsupported types
	}
}
