package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Gateway  GatewayConfig
	Webhook  WebhookConfig
	Recon    ReconConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	SeedDummyUsers  bool
}

// GatewayConfig holds the external payment gateway client settings.
// The retry policy is explicit so tests can make it deterministic.
type GatewayConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// WebhookConfig holds inbound webhook processing settings.
type WebhookConfig struct {
	SigningSecret  string
	HandlerTimeout time.Duration
	DedupeCacheTTL time.Duration
	BillingFile    string
}

// ReconConfig holds reconciliation settings.
type ReconConfig struct {
	Epsilon         string // decimal string, e.g. "0.01"
	StalePendingAge time.Duration
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}
