/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"billing-ledger-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	gatewayTimeout, err := getEnvDuration("GATEWAY_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	gatewayInitialBackoff, err := getEnvDuration("GATEWAY_INITIAL_BACKOFF", 250*time.Millisecond)
	if err != nil {
		return nil, err
	}

	gatewayMaxBackoff, err := getEnvDuration("GATEWAY_MAX_BACKOFF", 5*time.Second)
	if err != nil {
		return nil, err
	}

	handlerTimeout, err := getEnvDuration("WEBHOOK_HANDLER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	dedupeCacheTTL, err := getEnvDuration("WEBHOOK_DEDUPE_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	stalePendingAge, err := getEnvDuration("RECON_STALE_PENDING_AGE", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "billing.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			SeedDummyUsers:  getEnvBool("SEED_DUMMY_USERS", false),
		},
		Gateway: models.GatewayConfig{
			BaseURL:        getEnvString("GATEWAY_BASE_URL", "https://api.gateway.example.com"),
			APIKey:         os.Getenv("GATEWAY_API_KEY"),
			RequestTimeout: gatewayTimeout,
			MaxAttempts:    getEnvInt("GATEWAY_MAX_ATTEMPTS", 3),
			InitialBackoff: gatewayInitialBackoff,
			MaxBackoff:     gatewayMaxBackoff,
		},
		Webhook: models.WebhookConfig{
			SigningSecret:  os.Getenv("WEBHOOK_SIGNING_SECRET"),
			HandlerTimeout: handlerTimeout,
			DedupeCacheTTL: dedupeCacheTTL,
			BillingFile:    getEnvString("BILLING_FILE", "billing.yaml"),
		},
		Recon: models.ReconConfig{
			Epsilon:         getEnvString("RECON_EPSILON", "0.01"),
			StalePendingAge: stalePendingAge,
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8080"),
			ShutdownTimeout: shutdownTimeout,
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
