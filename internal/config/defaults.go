package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultSafetyMargin     = "60s"
	defaultLoginTimeout     = "300s"
	defaultPollInterval     = "2s"
	defaultMaxFileSize      = "500MiB"
	defaultChunkSize        = "8MiB"
	defaultMaxChunkAttempts = 3
	defaultRetryBaseBackoff = "1s"
	defaultRequestTimeout   = "5m"
	defaultBandwidthLimit   = "0"
	defaultPrivacy          = "private"
	defaultCategory         = "22"
	defaultUploadURL        = "https://www.googleapis.com/upload/youtube/v3/videos"
	defaultAPIURL           = "https://youtube.googleapis.com/"
	defaultListen           = "127.0.0.1:5000"
	defaultShutdownTimeout  = "30s"
	defaultProgressTTL      = "1h"
	defaultMetadataTimeout  = "60s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
)

// Scope constants for the YouTube Data API. Upload alone cannot read the
// channel or edit playlists, so the default grants both.
const (
	ScopeUpload  = "https://www.googleapis.com/auth/youtube.upload"
	ScopeYouTube = "https://www.googleapis.com/auth/youtube"
)

// defaultAllowedTypes lists the accepted video container extensions.
var defaultAllowedTypes = []string{"mp4", "avi", "mov", "wmv", "flv", "webm", "mkv"}

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Auth:     defaultAuthConfig(),
		Upload:   defaultUploadConfig(),
		Platform: defaultPlatformConfig(),
		Server:   defaultServerConfig(),
		Metadata: MetadataConfig{Timeout: defaultMetadataTimeout},
		Logging:  LoggingConfig{LogLevel: defaultLogLevel, LogFormat: defaultLogFormat},
	}
}

func defaultAuthConfig() AuthConfig {
	return AuthConfig{
		Scopes:       []string{ScopeUpload, ScopeYouTube},
		SafetyMargin: defaultSafetyMargin,
		LoginTimeout: defaultLoginTimeout,
		PollInterval: defaultPollInterval,
	}
}

func defaultUploadConfig() UploadConfig {
	return UploadConfig{
		MaxFileSize:      defaultMaxFileSize,
		ChunkSize:        defaultChunkSize,
		MaxChunkAttempts: defaultMaxChunkAttempts,
		RetryBaseBackoff: defaultRetryBaseBackoff,
		RequestTimeout:   defaultRequestTimeout,
		BandwidthLimit:   defaultBandwidthLimit,
		DefaultPrivacy:   defaultPrivacy,
		DefaultCategory:  defaultCategory,
		AllowedTypes:     append([]string(nil), defaultAllowedTypes...),
	}
}

func defaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		UploadURL: defaultUploadURL,
		APIURL:    defaultAPIURL,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:          defaultListen,
		ShutdownTimeout: defaultShutdownTimeout,
		ProgressTTL:     defaultProgressTTL,
	}
}
