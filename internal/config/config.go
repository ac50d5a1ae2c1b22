package config

import "time"

type Config interface {
	EnvConfig
	UpstreamConfig
	OAuthConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetPublicURL() string
}

// UpstreamConfig describes the Norman OAuth client identity and API endpoints
// this server uses when talking to Norman itself.
type UpstreamConfig interface {
	GetUpstreamClientID() string
	GetUpstreamClientSecret() string
	GetAPIBaseURL() string
	GetAPITimeout() time.Duration
}

type OAuthConfig interface {
	GetSupportedScopes() []string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetAuthCodeExpiry() time.Duration
	GetStateExpiry() time.Duration
}

type mainConfig struct {
	EnvVars
	Upstream
	OAuth
}

func New() Config {
	return mainConfig{}
}
