package utils

import "time"

// Token and session time constants
const (
	// AccessTokenTTL is the time-to-live for operator access tokens (24 hours)
	AccessTokenTTL = 24 * time.Hour

	// RefreshTokenTTL is the time-to-live for operator refresh tokens (7 days)
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Dispatch constants
const (
	// DefaultVerificationDelaySeconds is used when a job does not carry its own check delay
	DefaultVerificationDelaySeconds = 30

	// DefaultMaxItemsPerJob caps the number of addresses accepted by a single start
	DefaultMaxItemsPerJob = 5000

	// OAuthTokenRefreshSkew is subtracted from provider expiry before a cached token is considered stale
	OAuthTokenRefreshSkew = 60 * time.Second

	// EmailPlaceholder is substituted with the item address in templated form fields
	EmailPlaceholder = "{{email}}"
)
