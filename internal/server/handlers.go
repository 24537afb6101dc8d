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
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"billing-ledger-go/internal/api"
	"billing-ledger-go/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// handleWebhook accepts one raw gateway delivery. Non-2xx responses tell
// the gateway to redeliver, so only handler failures return 500; signature
// and shape rejections are final.
func (s *Server) handleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return
	}

	err = s.processor.Receive(c.Request.Context(), payload, c.GetHeader("X-Gateway-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, store.ErrSignatureVerification):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed, retry later"})
	}
}

type prepaidRequest struct {
	UserId   string `json:"user_id" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Method   string `json:"method"`
}

func (s *Server) handleCreatePrepaid(c *gin.Context) {
	var req prepaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	result, err := s.api.CreatePrepaidPayment(c.Request.Context(), api.PrepaidPaymentParams{
		UserId:   req.UserId,
		Amount:   amount,
		Currency: req.Currency,
		Method:   req.Method,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment_id":    result.Payment.Id,
		"status":        result.Payment.Status,
		"gateway_ref":   result.Payment.GatewayRef,
		"client_secret": result.Intent.ClientSecret,
	})
}

type subscribeRequest struct {
	UserId string `json:"user_id" binding:"required"`
	PlanId string `json:"plan_id" binding:"required"`
	Method string `json:"method"`
}

func (s *Server) handleCreateSubscription(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.api.CreateSubscriptionPayment(c.Request.Context(), api.SubscriptionPaymentParams{
		UserId: req.UserId,
		PlanId: req.PlanId,
		Method: req.Method,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := gin.H{
		"payment_id":      result.Payment.Id,
		"subscription_id": result.Subscription.Id,
		"status":          result.Subscription.Status,
	}
	if result.Commission != nil {
		resp["commission_id"] = result.Commission.Id
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleCancelSubscription(c *gin.Context) {
	if err := s.api.CancelSubscription(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancel_requested": true})
}

func (s *Server) handleGetPayment(c *gin.Context) {
	payment, err := s.api.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) handleGetBalance(c *gin.Context) {
	currency := c.Query("currency")
	if currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency query parameter is required"})
		return
	}
	balance, err := s.api.GetBalance(c.Request.Context(), c.Param("id"), currency)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  c.Param("id"),
		"currency": currency,
		"balance":  balance.String(),
	})
}

func (s *Server) handleGetAllBalances(c *gin.Context) {
	balances, err := s.api.GetAllBalances(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (s *Server) handleListTransactions(c *gin.Context) {
	limit, offset := pagination(c)
	transactions, err := s.api.ListTransactions(c.Request.Context(),
		c.Param("id"), c.Query("currency"), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (s *Server) handleListCommissions(c *gin.Context) {
	commissions, err := s.api.ListCommissions(c.Request.Context(), c.Param("id"), c.Query("status"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commissions": commissions})
}

type confirmRequest struct {
	AdminId string `json:"admin_id"`
}

func (s *Server) handleConfirmPayment(c *gin.Context) {
	var req confirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	tx, err := s.api.ConfirmPrepaidPayment(c.Request.Context(), c.Param("id"), req.AdminId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id":    tx.Id,
		"resulting_balance": tx.ResultingBalance.String(),
	})
}

type debitRequest struct {
	UserId        string `json:"user_id" binding:"required"`
	Currency      string `json:"currency" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	ReferenceId   string `json:"reference_id"`
	AdminId       string `json:"admin_id"`
	AllowNegative bool   `json:"allow_negative"`
	Reason        string `json:"reason"`
}

func (s *Server) handleDebit(c *gin.Context) {
	var req debitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	tx, err := s.api.DebitBalance(c.Request.Context(), api.DebitParams{
		UserId:        req.UserId,
		Currency:      req.Currency,
		Amount:        amount,
		ReferenceId:   req.ReferenceId,
		AdminId:       req.AdminId,
		AllowNegative: req.AllowNegative,
		Reason:        req.Reason,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id":    tx.Id,
		"resulting_balance": tx.ResultingBalance.String(),
	})
}

type payoutRequest struct {
	AffiliateId   string   `json:"affiliate_id" binding:"required"`
	CommissionIds []string `json:"commission_ids" binding:"required"`
	Method        string   `json:"method"`
	ProcessedBy   string   `json:"processed_by"`
}

func (s *Server) handlePayout(c *gin.Context) {
	var req payoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payout, err := s.api.ProcessPayout(c.Request.Context(), store.PayoutParams{
		AffiliateId:   req.AffiliateId,
		CommissionIds: req.CommissionIds,
		Method:        req.Method,
		ProcessedBy:   req.ProcessedBy,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payout_id": payout.Id,
		"amount":    payout.Amount.String(),
	})
}

func (s *Server) handleRunReconciliation(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window duration"})
			return
		}
		window = parsed
	}

	summary, err := s.api.RunReconciliation(c.Request.Context(), window)
	if err != nil {
		zap.L().Error("Batch reconciliation failed", zap.Error(err))
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scanned":           summary.Scanned,
		"matched":           summary.Matched,
		"discrepancies":     summary.Discrepancies,
		"total_amount_diff": summary.TotalAmountDiff.String(),
		"stale_pending":     summary.StalePending,
	})
}

func (s *Server) handleReconcilePayment(c *gin.Context) {
	record, err := s.api.ReconcilePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleListDiscrepancies(c *gin.Context) {
	limit, offset := pagination(c)
	records, err := s.api.ListDiscrepancies(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discrepancies": records})
}

type resolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	Notes      string `json:"notes" binding:"required"`
	AdminId    string `json:"admin_id"`
}

func (s *Server) handleResolveDiscrepancy(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.api.ResolveDiscrepancy(c.Request.Context(),
		c.Param("id"), req.Resolution, req.Notes, req.AdminId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// writeError maps the store's error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrGateway):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		zap.L().Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
