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

package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"billing-ledger-go/internal/api"
	"billing-ledger-go/internal/metrics"
	"billing-ledger-go/internal/store"
	"billing-ledger-go/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the billing HTTP surface: webhook intake, user-facing payment
// and balance endpoints, and the admin/ops group.
type Server struct {
	api       *api.Service
	processor *webhook.Processor
	store     store.Store
	router    *gin.Engine
	httpSrv   *http.Server
}

func NewServer(apiService *api.Service, processor *webhook.Processor, st store.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		api:       apiService,
		processor: processor,
		store:     st,
		router:    router,
	}

	router.Use(s.observe)

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/gateway", s.handleWebhook)

	v1 := router.Group("/v1")
	{
		v1.POST("/payments/prepaid", s.handleCreatePrepaid)
		v1.GET("/payments/:id", s.handleGetPayment)
		v1.POST("/subscriptions", s.handleCreateSubscription)
		v1.POST("/subscriptions/:id/cancel", s.handleCancelSubscription)
		v1.GET("/users/:id/balance", s.handleGetBalance)
		v1.GET("/users/:id/balances", s.handleGetAllBalances)
		v1.GET("/users/:id/transactions", s.handleListTransactions)
		v1.GET("/affiliates/:id/commissions", s.handleListCommissions)
	}

	admin := router.Group("/v1/admin")
	{
		admin.POST("/payments/:id/confirm", s.handleConfirmPayment)
		admin.POST("/debits", s.handleDebit)
		admin.POST("/payouts", s.handlePayout)
		admin.POST("/reconciliation/run", s.handleRunReconciliation)
		admin.POST("/reconciliation/payments/:id", s.handleReconcilePayment)
		admin.GET("/reconciliation/discrepancies", s.handleListDiscrepancies)
		admin.POST("/reconciliation/discrepancies/:id/resolve", s.handleResolveDiscrepancy)
	}

	return s
}

// Start runs the server until the context is cancelled, then drains with
// the given shutdown timeout.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	zap.L().Info("Shutting down HTTP server")
	return s.httpSrv.Shutdown(shutdownCtx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) observe(c *gin.Context) {
	c.Next()
	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	metrics.HttpRequestsTotal.WithLabelValues(
		c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
