package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer string // Required: issuer shown in authenticator apps

	StoreBackend string // Optional: metadata store backend (sqlite, memory) (default: sqlite)
	DatabaseFile string // Optional: path to SQLite database file (default: ./strongbox.db)
	PepperFile   string // Optional: path to file containing pepper for password hashing (default: ./pepper)

	BlobBackend string // Optional: ciphertext store backend (fs, s3, memory) (default: fs)
	BlobRoot    string // Optional: root directory for the fs blob backend (default: ./blobs)
	S3Endpoint  string // S3 endpoint (s3 backend only)
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key
	S3Bucket    string // S3 bucket name
	S3Prefix    string // Optional: key prefix inside the bucket
	S3UseSSL    bool   // Optional: use TLS to the S3 endpoint (default: true)

	KMSBackend   string // Optional: key-wrap backend (local, transit) (default: local)
	VaultAddress string // Vault address (transit backend only)
	VaultToken   string // Vault token
	TransitKey   string // Optional: transit key name (default: strongbox)
	TransitMount string // Optional: transit engine mount (default: transit)
	KMSRetries   int    // Optional: wrap/unwrap attempts before giving up (default: 3)

	AuditFile string // Optional: path to append-only audit log (default: ./audit.log)

	RPID        string   // Optional: WebAuthn relying party id (default: localhost)
	RPOrigins   []string // Optional: allowed WebAuthn origins (default: https://<RPID>)
	RequireCert bool     // Optional: demand a client certificate identity on gated operations

	SessionTTL           time.Duration // Optional: session lifetime (default: 8h)
	ChallengeTTL         time.Duration // Optional: step-up challenge lifetime (default: 5m)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer: getEnvOrDefault("VAULT_ISSUER", "strongbox"),

		StoreBackend: getEnvOrDefault("VAULT_STORE_BACKEND", "sqlite"),
		DatabaseFile: getEnvOrDefault("VAULT_DATABASE_FILE", "strongbox.db"),
		PepperFile:   getEnvOrDefault("VAULT_PEPPER_FILE", "pepper"),

		BlobBackend: getEnvOrDefault("VAULT_BLOB_BACKEND", "fs"),
		BlobRoot:    getEnvOrDefault("VAULT_BLOB_ROOT", "blobs"),
		S3Endpoint:  os.Getenv("VAULT_S3_ENDPOINT"),
		S3AccessKey: os.Getenv("VAULT_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("VAULT_S3_SECRET_KEY"),
		S3Bucket:    os.Getenv("VAULT_S3_BUCKET"),
		S3Prefix:    os.Getenv("VAULT_S3_PREFIX"),
		S3UseSSL:    getEnvBoolOrDefault("VAULT_S3_USE_SSL", true),

		KMSBackend:   getEnvOrDefault("VAULT_KMS_BACKEND", "local"),
		VaultAddress: os.Getenv("VAULT_TRANSIT_ADDRESS"),
		VaultToken:   os.Getenv("VAULT_TRANSIT_TOKEN"),
		TransitKey:   getEnvOrDefault("VAULT_TRANSIT_KEY", "strongbox"),
		TransitMount: getEnvOrDefault("VAULT_TRANSIT_MOUNT", "transit"),
		KMSRetries:   getEnvIntOrDefault("VAULT_KMS_RETRIES", 3),

		AuditFile: getEnvOrDefault("VAULT_AUDIT_FILE", "audit.log"),

		RPID:        getEnvOrDefault("VAULT_RP_ID", "localhost"),
		RequireCert: getEnvBoolOrDefault("VAULT_REQUIRE_CLIENT_CERT", false),

		SessionTTL:           getEnvDurationOrDefault("VAULT_SESSION_TTL", 8*time.Hour),
		ChallengeTTL:         getEnvDurationOrDefault("VAULT_CHALLENGE_TTL", 5*time.Minute),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
	}

	if origins := os.Getenv("VAULT_RP_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.RPOrigins = append(cfg.RPOrigins, o)
			}
		}
	} else {
		cfg.RPOrigins = []string{"https://" + cfg.RPID}
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
