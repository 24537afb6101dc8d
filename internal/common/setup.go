package common

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"billing-ledger-go/internal/api"
	"billing-ledger-go/internal/cache"
	"billing-ledger-go/internal/commission"
	"billing-ledger-go/internal/database"
	"billing-ledger-go/internal/gateway"
	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/notify"
	"billing-ledger-go/internal/recon"
	"billing-ledger-go/internal/webhook"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService      *database.Service
	GatewayService *gateway.Service
	Processor      *webhook.Processor
	Api            *api.Service
	Commissions    *commission.Engine
	Recon          *recon.Engine
	Dedupe         *cache.TTLStore
	Billing        *models.BillingConfig
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Loading billing file", zap.String("path", cfg.Webhook.BillingFile))
	billing, err := LoadBillingConfig(cfg.Webhook.BillingFile)
	if err != nil {
		dbService.Close()
		return nil, err
	}
	if err := SeedPlans(ctx, dbService, billing); err != nil {
		dbService.Close()
		return nil, err
	}

	epsilon, err := decimal.NewFromString(cfg.Recon.Epsilon)
	if err != nil {
		dbService.Close()
		return nil, fmt.Errorf("invalid RECON_EPSILON %q: %w", cfg.Recon.Epsilon, err)
	}

	gatewayService, err := gateway.NewService(cfg.Gateway)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	dedupe := cache.NewTTLStore(cfg.Webhook.DedupeCacheTTL)
	dedupe.StartCleanup(15 * time.Minute)

	processor, err := webhook.NewProcessor(webhook.ProcessorParams{
		Store:         dbService,
		Dedupe:        dedupe,
		Notifier:      notify.LogSink{},
		Billing:       billing,
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.HandlerTimeout,
		Epsilon:       epsilon,
	})
	if err != nil {
		dbService.Close()
		return nil, err
	}

	commissions := commission.NewEngine(dbService, notify.LogSink{})
	reconEngine := recon.NewEngine(dbService, gatewayService, epsilon, cfg.Recon.StalePendingAge)
	apiService := api.NewService(dbService, gatewayService, commissions, reconEngine, billing)

	return &Services{
		DbService:      dbService,
		GatewayService: gatewayService,
		Processor:      processor,
		Api:            apiService,
		Commissions:    commissions,
		Recon:          reconEngine,
		Dedupe:         dedupe,
		Billing:        billing,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service without the
// gateway client. Useful for read-only operations like querying balances.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.Dedupe != nil {
		cs.Dedupe.Stop()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
