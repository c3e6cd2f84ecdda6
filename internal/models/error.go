package models

// APIError represents a standardized error response for the HTTP surface
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error code constants
const (
	// General errors
	ErrBadRequest     = "BAD_REQUEST"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrNotFound       = "NOT_FOUND"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"

	// OAuth flow errors
	ErrOAuthNotConfigured = "OAUTH_NOT_CONFIGURED"
	ErrInvalidState       = "INVALID_STATE"
	ErrExchangeFailed     = "EXCHANGE_FAILED"
	ErrIdentityFailed     = "IDENTITY_FETCH_FAILED"

	// Webhook errors
	ErrInvalidSignature = "INVALID_SIGNATURE"
)

// NewAPIError creates a new API error with the given code and message
func NewAPIError(code, message string, details ...map[string]interface{}) APIError {
	err := APIError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}
