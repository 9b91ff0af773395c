// Package config enumerates every relay server configuration key and loads
// it from flags and environment variables: envString/envInt/envBool helpers
// feeding a flag.FlagSet, with no config-file parser pulled in.
package config

import (
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is every server-side setting the relay server accepts.
type Config struct {
	ServerHost string
	ServerPort int

	StorageDatabasePath        string
	StorageFilesPath           string
	StorageMaxMessageAgeHours  int
	StorageMaxFileAgeHours     int
	StorageCleanupIntervalMins int

	TLSCertPath string
	TLSKeyPath  string

	TURNEnabled        bool
	TURNURLs           []string
	TURNUsername       string
	TURNCredential     string
	TURNCredentialType string
	TURNTTLSeconds     int

	AdminMasterKey string

	LimitsMaxFileSizeMB              int
	LimitsMaxMessageSizeKB           int
	LimitsMaxPendingMessages         int
	LimitsRateLimitMessagesPerMinute int

	MetricsListen string

	// AllowedOrigins/AllowNoOrigin gate the browser-origin allow-list for the
	// /ws upgrade path (see realtime/ws.NewOriginChecker).
	AllowedOrigins []string
	AllowNoOrigin  bool
}

// MaxMessageAge returns StorageMaxMessageAgeHours as a time.Duration.
func (c Config) MaxMessageAge() time.Duration {
	return time.Duration(c.StorageMaxMessageAgeHours) * time.Hour
}

// MaxFileAge returns StorageMaxFileAgeHours as a time.Duration.
func (c Config) MaxFileAge() time.Duration {
	return time.Duration(c.StorageMaxFileAgeHours) * time.Hour
}

// CleanupInterval returns StorageCleanupIntervalMins as a time.Duration.
func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.StorageCleanupIntervalMins) * time.Minute
}

// TURNTTL returns TURNTTLSeconds as a time.Duration.
func (c Config) TURNTTL() time.Duration {
	return time.Duration(c.TURNTTLSeconds) * time.Second
}

// Default returns the baseline configuration before flags/env are applied.
func Default() Config {
	return Config{
		ServerHost:                       "0.0.0.0",
		ServerPort:                       8080,
		StorageDatabasePath:              "./data/relay.db",
		StorageFilesPath:                 "./data/files",
		StorageMaxMessageAgeHours:        24 * 30,
		StorageMaxFileAgeHours:           24 * 7,
		StorageCleanupIntervalMins:       15,
		TURNCredentialType:               "hmac-sha1",
		TURNTTLSeconds:                   3600,
		LimitsMaxFileSizeMB:              100,
		LimitsMaxMessageSizeKB:           256,
		LimitsMaxPendingMessages:         1000,
		LimitsRateLimitMessagesPerMinute: 60,
	}
}

// Load parses args (flags override environment variables, which override
// Default) and returns the resolved Config.
func Load(args []string, stderr io.Writer) (Config, error) {
	cfg := Default()

	cfg.ServerHost = envString("RELAY_SERVER_HOST", cfg.ServerHost)
	cfg.ServerPort = envInt("RELAY_SERVER_PORT", cfg.ServerPort)
	cfg.StorageDatabasePath = envString("RELAY_STORAGE_DATABASE_PATH", cfg.StorageDatabasePath)
	cfg.StorageFilesPath = envString("RELAY_STORAGE_FILES_PATH", cfg.StorageFilesPath)
	cfg.StorageMaxMessageAgeHours = envInt("RELAY_STORAGE_MAX_MESSAGE_AGE_HOURS", cfg.StorageMaxMessageAgeHours)
	cfg.StorageMaxFileAgeHours = envInt("RELAY_STORAGE_MAX_FILE_AGE_HOURS", cfg.StorageMaxFileAgeHours)
	cfg.StorageCleanupIntervalMins = envInt("RELAY_STORAGE_CLEANUP_INTERVAL_MINUTES", cfg.StorageCleanupIntervalMins)
	cfg.TLSCertPath = envString("RELAY_TLS_CERT_PATH", cfg.TLSCertPath)
	cfg.TLSKeyPath = envString("RELAY_TLS_KEY_PATH", cfg.TLSKeyPath)
	cfg.TURNEnabled = envBool("RELAY_TURN_ENABLED", cfg.TURNEnabled)
	cfg.TURNUsername = envString("RELAY_TURN_USERNAME", cfg.TURNUsername)
	cfg.TURNCredential = envString("RELAY_TURN_CREDENTIAL", cfg.TURNCredential)
	cfg.TURNCredentialType = envString("RELAY_TURN_CREDENTIAL_TYPE", cfg.TURNCredentialType)
	cfg.TURNTTLSeconds = envInt("RELAY_TURN_TTL_SECONDS", cfg.TURNTTLSeconds)
	cfg.TURNURLs = splitCSVEnv("RELAY_TURN_URLS")
	cfg.AdminMasterKey = envString("RELAY_ADMIN_MASTER_KEY", cfg.AdminMasterKey)
	cfg.LimitsMaxFileSizeMB = envInt("RELAY_LIMITS_MAX_FILE_SIZE_MB", cfg.LimitsMaxFileSizeMB)
	cfg.LimitsMaxMessageSizeKB = envInt("RELAY_LIMITS_MAX_MESSAGE_SIZE_KB", cfg.LimitsMaxMessageSizeKB)
	cfg.LimitsMaxPendingMessages = envInt("RELAY_LIMITS_MAX_PENDING_MESSAGES", cfg.LimitsMaxPendingMessages)
	cfg.LimitsRateLimitMessagesPerMinute = envInt("RELAY_LIMITS_RATE_LIMIT_MESSAGES_PER_MINUTE", cfg.LimitsRateLimitMessagesPerMinute)
	cfg.MetricsListen = envString("RELAY_METRICS_LISTEN", cfg.MetricsListen)
	cfg.AllowedOrigins = splitCSVEnv("RELAY_ALLOW_ORIGIN")
	cfg.AllowNoOrigin = envBool("RELAY_ALLOW_NO_ORIGIN", cfg.AllowNoOrigin)

	var turnURLsFlag stringSliceFlag
	var allowOriginFlag stringSliceFlag
	fs := flag.NewFlagSet("relay-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.ServerHost, "server-host", cfg.ServerHost, "listen host (env: RELAY_SERVER_HOST)")
	fs.IntVar(&cfg.ServerPort, "server-port", cfg.ServerPort, "listen port (env: RELAY_SERVER_PORT)")
	fs.StringVar(&cfg.StorageDatabasePath, "database-path", cfg.StorageDatabasePath, "pebble database directory (env: RELAY_STORAGE_DATABASE_PATH)")
	fs.StringVar(&cfg.StorageFilesPath, "files-path", cfg.StorageFilesPath, "file blob directory (env: RELAY_STORAGE_FILES_PATH)")
	fs.IntVar(&cfg.StorageMaxMessageAgeHours, "max-message-age-hours", cfg.StorageMaxMessageAgeHours, "pending message TTL in hours (env: RELAY_STORAGE_MAX_MESSAGE_AGE_HOURS)")
	fs.IntVar(&cfg.StorageMaxFileAgeHours, "max-file-age-hours", cfg.StorageMaxFileAgeHours, "file TTL in hours (env: RELAY_STORAGE_MAX_FILE_AGE_HOURS)")
	fs.IntVar(&cfg.StorageCleanupIntervalMins, "cleanup-interval-minutes", cfg.StorageCleanupIntervalMins, "reaper sweep interval in minutes (env: RELAY_STORAGE_CLEANUP_INTERVAL_MINUTES)")
	fs.StringVar(&cfg.TLSCertPath, "tls-cert-path", cfg.TLSCertPath, "enable TLS with this certificate file (env: RELAY_TLS_CERT_PATH)")
	fs.StringVar(&cfg.TLSKeyPath, "tls-key-path", cfg.TLSKeyPath, "enable TLS with this private key file (env: RELAY_TLS_KEY_PATH)")
	fs.BoolVar(&cfg.TURNEnabled, "turn-enabled", cfg.TURNEnabled, "TURN enabled flag (stored; the TURN credentials endpoint does not check it) (env: RELAY_TURN_ENABLED)")
	fs.StringVar(&cfg.TURNUsername, "turn-username", cfg.TURNUsername, "TURN config username (env: RELAY_TURN_USERNAME)")
	fs.StringVar(&cfg.TURNCredential, "turn-credential", cfg.TURNCredential, "TURN config credential/secret (env: RELAY_TURN_CREDENTIAL)")
	fs.IntVar(&cfg.TURNTTLSeconds, "turn-ttl-seconds", cfg.TURNTTLSeconds, "TURN credential TTL in seconds (env: RELAY_TURN_TTL_SECONDS)")
	fs.Var(&turnURLsFlag, "turn-url", "TURN server URL (repeatable; env: RELAY_TURN_URLS, comma-separated)")
	fs.StringVar(&cfg.AdminMasterKey, "admin-master-key", cfg.AdminMasterKey, "admin API master key (required for admin endpoints) (env: RELAY_ADMIN_MASTER_KEY)")
	fs.IntVar(&cfg.LimitsMaxFileSizeMB, "max-file-size-mb", cfg.LimitsMaxFileSizeMB, "max upload size in MB (env: RELAY_LIMITS_MAX_FILE_SIZE_MB)")
	fs.IntVar(&cfg.LimitsMaxMessageSizeKB, "max-message-size-kb", cfg.LimitsMaxMessageSizeKB, "max message size in KB (reserved, not enforced) (env: RELAY_LIMITS_MAX_MESSAGE_SIZE_KB)")
	fs.IntVar(&cfg.LimitsMaxPendingMessages, "max-pending-messages", cfg.LimitsMaxPendingMessages, "max pending messages per recipient (reserved, not enforced) (env: RELAY_LIMITS_MAX_PENDING_MESSAGES)")
	fs.IntVar(&cfg.LimitsRateLimitMessagesPerMinute, "rate-limit-messages-per-minute", cfg.LimitsRateLimitMessagesPerMinute, "per-device message rate limit (reserved, not enforced) (env: RELAY_LIMITS_RATE_LIMIT_MESSAGES_PER_MINUTE)")
	fs.StringVar(&cfg.MetricsListen, "metrics-listen", cfg.MetricsListen, "listen address for the /metrics endpoint (empty disables) (env: RELAY_METRICS_LISTEN)")
	fs.Var(&allowOriginFlag, "allow-origin", "allowed websocket Origin value (repeatable; env: RELAY_ALLOW_ORIGIN, comma-separated)")
	fs.BoolVar(&cfg.AllowNoOrigin, "allow-no-origin", cfg.AllowNoOrigin, "allow websocket upgrades without an Origin header (env: RELAY_ALLOW_NO_ORIGIN)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if len(turnURLsFlag) > 0 {
		cfg.TURNURLs = turnURLsFlag
	}
	if len(allowOriginFlag) > 0 {
		cfg.AllowedOrigins = allowOriginFlag
	}
	return cfg, nil
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitCSVEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
