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
	"billing-ledger-go/internal/database"
	"billing-ledger-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	totalBalances     int
	usersWithBalances int
}

func formatTransactionId(txId string) string {
	if txId == "" {
		return "none"
	}
	if len(txId) > 8 {
		return txId[:8] + "..."
	}
	return txId
}

func printBalance(balance models.AccountBalance, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	lastTx := formatTransactionId(balance.LastTransactionId)

	fmt.Printf("%s %-8s: %20s (v%d, last_tx: %s, updated: %s)\n",
		symbol,
		balance.Currency,
		balance.Balance.String(),
		balance.Version,
		lastTx,
		balance.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printUserHeader(user common.UserInfo, balanceCount int) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s\n", user.Id)
	fmt.Printf("│  Currencies: %d\n", balanceCount)
	common.PrintBoxSeparator(78)
}

func processUser(ctx context.Context, user common.UserInfo, dbService *database.Service) (int, error) {
	balances, err := dbService.GetAllBalances(ctx, user.Id)
	if err != nil {
		return 0, fmt.Errorf("failed to get balances: %w", err)
	}

	if len(balances) == 0 {
		return 0, nil
	}

	printUserHeader(user, len(balances))
	for i, balance := range balances {
		printBalance(balance, i == len(balances)-1)
	}
	return len(balances), nil
}

func main() {
	emailFilter := flag.String("email", "", "Optional email to show balances for a single user")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	users, err := common.InitializeUsers(ctx, dbService, *emailFilter, logger)
	if err != nil {
		zap.L().Fatal("Failed to load users", zap.Error(err))
	}

	common.PrintHeader("Prepaid Balances", common.DefaultWidth)

	stats := balanceStats{totalUsers: len(users)}
	for _, user := range users {
		count, err := processUser(ctx, user, dbService)
		if err != nil {
			zap.L().Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.Error(err))
			continue
		}
		if count > 0 {
			stats.usersWithBalances++
			stats.totalBalances += count
		}
	}

	common.PrintFooter(fmt.Sprintf("Users: %d | With balances: %d | Balance rows: %d",
		stats.totalUsers, stats.usersWithBalances, stats.totalBalances), common.DefaultWidth)
}
