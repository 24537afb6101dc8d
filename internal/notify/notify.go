package notify

import "go.uber.org/zap"

// Sink receives fire-and-forget notifications. Failures are the sink's
// problem; callers never block or fail on notification delivery.
type Sink interface {
	PayoutProcessed(affiliateId, payoutId, amount string)
	PaymentFailed(userId, paymentId, reason string)
}

// LogSink is the default sink: structured log lines a downstream shipper
// can fan out to email/chat.
type LogSink struct{}

var _ Sink = LogSink{}

func (LogSink) PayoutProcessed(affiliateId, payoutId, amount string) {
	zap.L().Info("NOTIFY payout processed",
		zap.String("affiliate_id", affiliateId),
		zap.String("payout_id", payoutId),
		zap.String("amount", amount))
}

func (LogSink) PaymentFailed(userId, paymentId, reason string) {
	zap.L().Info("NOTIFY payment failed",
		zap.String("user_id", userId),
		zap.String("payment_id", paymentId),
		zap.String("reason", reason))
}
