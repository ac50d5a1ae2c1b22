package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	portEnvVar      = "PORT"
	appNameVar      = "APP_NAME"
	publicURLVar    = "NORMAN_MCP_PUBLIC_URL"
	environmentVar  = "NORMAN_ENVIRONMENT"
	productionValue = "production"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "3001")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Norman MCP")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetPublicURL returns the externally reachable base URL of this server.
// It is used to construct the fixed OAuth callback URI that Norman
// redirects back to.
func (EnvVars) GetPublicURL() string {
	return strings.TrimSuffix(GetEnv(publicURLVar, "http://localhost:3001"), "/")
}

// GetEnv reads an environment variable, returning defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
