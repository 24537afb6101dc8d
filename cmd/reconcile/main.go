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
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing-ledger-go/internal/common"
	"billing-ledger-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	window := flag.Duration("window", 24*time.Hour, "How far back to scan for unmatched payments")
	paymentId := flag.String("payment", "", "Reconcile a single payment id instead of running a batch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl+C stops the batch between records; the summary so far still prints.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		zap.L().Info("Interrupt received, stopping reconciliation")
		cancel()
	}()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *paymentId != "" {
		record, err := services.Recon.ReconcilePayment(ctx, *paymentId)
		if err != nil {
			zap.L().Fatal("Reconciliation failed", zap.String("payment_id", *paymentId), zap.Error(err))
		}
		common.PrintHeader("Reconciliation Result", common.DefaultWidth)
		fmt.Printf("Payment:  %s\n", record.PaymentId)
		fmt.Printf("Status:   %s\n", record.Status)
		fmt.Printf("Internal: %s\n", record.InternalAmount.String())
		fmt.Printf("Gateway:  %s\n", record.GatewayAmount.String())
		if record.Notes != "" {
			fmt.Printf("Notes:    %s\n", record.Notes)
		}
		common.PrintFooter("Done", common.DefaultWidth)
		return
	}

	to := time.Now().UTC()
	summary, err := services.Recon.BatchReconcile(ctx, to.Add(-*window), to)
	if err != nil && ctx.Err() == nil {
		zap.L().Fatal("Batch reconciliation failed", zap.Error(err))
	}

	common.PrintHeader("Batch Reconciliation Summary", common.DefaultWidth)
	fmt.Printf("Window:          %s\n", window.String())
	fmt.Printf("Scanned:         %d\n", summary.Scanned)
	fmt.Printf("Matched:         %d\n", summary.Matched)
	fmt.Printf("Discrepancies:   %d\n", summary.Discrepancies)
	fmt.Printf("Total diff:      %s\n", summary.TotalAmountDiff.String())
	fmt.Printf("Stale pending:   %d\n", summary.StalePending)
	common.PrintFooter("Done", common.DefaultWidth)
}
