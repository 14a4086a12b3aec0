package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "VIDPUB_CONFIG"
	EnvClientID     = "VIDPUB_CLIENT_ID"
	EnvClientSecret = "VIDPUB_CLIENT_SECRET"
	EnvTokenFile    = "VIDPUB_TOKEN_FILE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // VIDPUB_CONFIG: override config file path
	ClientID     string // VIDPUB_CLIENT_ID: OAuth client id
	ClientSecret string // VIDPUB_CLIENT_SECRET: OAuth client secret
	TokenFile    string // VIDPUB_TOKEN_FILE: token file location
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		TokenFile:    os.Getenv(EnvTokenFile),
	}
}
