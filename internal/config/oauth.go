package config

import "time"

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// GetSupportedScopes returns the two scopes Norman grants. All clients are
// forced onto these so that downstream API operations remain grantable.
func (OAuth) GetSupportedScopes() []string {
	return []string{"read", "write"}
}

func (OAuth) GetAccessTokenExpiry() time.Duration {
	return 24 * time.Hour
}

func (OAuth) GetRefreshTokenExpiry() time.Duration {
	return 30 * 24 * time.Hour
}

func (OAuth) GetAuthCodeExpiry() time.Duration {
	return 10 * time.Minute
}

func (OAuth) GetStateExpiry() time.Duration {
	return 15 * time.Minute
}
