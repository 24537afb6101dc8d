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

package main

import (
	"context"
	"flag"
	"fmt"

	"billing-ledger-go/internal/common"
	"billing-ledger-go/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	userName := flag.String("name", "", "Optional: create a user with this name")
	userEmail := flag.String("email", "", "Email for the created user (required with -name)")
	referrerId := flag.String("referrer", "", "Optional affiliate id that referred the created user")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	// Opening the database creates the schema.
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	billing, err := common.LoadBillingConfig(cfg.Webhook.BillingFile)
	if err != nil {
		zap.L().Fatal("Failed to load billing file", zap.Error(err))
	}
	if err := common.SeedPlans(ctx, dbService, billing); err != nil {
		zap.L().Fatal("Failed to seed plans", zap.Error(err))
	}
	zap.L().Info("Plan catalog seeded", zap.Int("plans", len(billing.Plans)))

	if *userName != "" {
		if *userEmail == "" {
			zap.L().Fatal("-email is required when creating a user with -name")
		}
		user, err := dbService.CreateUser(ctx, uuid.New().String(), *userName, *userEmail, *referrerId)
		if err != nil {
			zap.L().Fatal("Failed to create user", zap.Error(err))
		}
		fmt.Printf("Created user %s (%s) id=%s\n", user.Name, user.Email, user.Id)
	}

	common.PrintHeader("Setup Complete", common.DefaultWidth)
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	fmt.Printf("Plans:      %d\n", len(billing.Plans))
	fmt.Printf("Currencies: %v\n", billing.Currencies)
	common.PrintFooter("Ready", common.DefaultWidth)
}
