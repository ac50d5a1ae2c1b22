package config

import (
	"strconv"
	"strings"
	"time"
)

const (
	upstreamClientIDVar     = "NORMAN_OAUTH_CLIENT_ID"
	upstreamClientSecretVar = "NORMAN_OAUTH_CLIENT_SECRET"
	apiTimeoutVar           = "NORMAN_API_TIMEOUT"

	productionAPIBaseURL = "https://api.norman.finance"
	sandboxAPIBaseURL    = "https://sandbox.norman.finance"
)

type Upstream struct{}

var _ UpstreamConfig = Upstream{}

func (Upstream) GetUpstreamClientID() string {
	return GetEnv(upstreamClientIDVar, "")
}

// GetUpstreamClientSecret is optional; public upstream clients rely on PKCE.
func (Upstream) GetUpstreamClientSecret() string {
	return GetEnv(upstreamClientSecretVar, "")
}

func (Upstream) GetAPIBaseURL() string {
	if strings.EqualFold(GetEnv(environmentVar, productionValue), productionValue) {
		return productionAPIBaseURL
	}
	return sandboxAPIBaseURL
}

func (Upstream) GetAPITimeout() time.Duration {
	seconds, err := strconv.Atoi(GetEnv(apiTimeoutVar, "200"))
	if err != nil || seconds <= 0 {
		seconds = 200
	}
	return time.Duration(seconds) * time.Second
}
