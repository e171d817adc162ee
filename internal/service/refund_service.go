package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/metrics"
	"lumora/internal/models"
	"lumora/pkg/payment"
)

// RefundService reverses a completed payment: provider refund first, then the
// local bookkeeping, then commission cancellation. A provider failure leaves
// the payment untouched.
type RefundService struct {
	payments  PaymentStore
	earnings  EarningStore
	users     UserStore
	providers map[string]payment.Provider
	notifier  *TelegramNotifier
	events    *EventPublisher
	log       *zap.Logger
}

func NewRefundService(
	payments PaymentStore,
	earnings EarningStore,
	users UserStore,
	providers map[string]payment.Provider,
	notifier *TelegramNotifier,
	events *EventPublisher,
	log *zap.Logger,
) *RefundService {
	return &RefundService{
		payments:  payments,
		earnings:  earnings,
		users:     users,
		providers: providers,
		notifier:  notifier,
		events:    events,
		log:       log,
	}
}

type RefundOutcome struct {
	Payment     *models.Payment `json:"payment"`
	AmountCents int64           `json:"amount_cents"`
	Full        bool            `json:"full"`
	ProviderRef string          `json:"provider_ref"`
}

// Refund refunds amountCents of the payment (0 = everything not yet refunded)
// for the given reason. Partial refunds may repeat until the original amount
// is exhausted; each updates the cumulative refund fields, and only the final
// one moves status to REFUNDED.
func (s *RefundService) Refund(ctx context.Context, paymentID uint, amountCents int64, reason, source string) (*RefundOutcome, error) {
	if reason == "" {
		return nil, domain.NewError(domain.KindValidation, "refund reason is required")
	}
	p, err := s.payments.GetByID(paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, err
		}
		return nil, domain.WrapError(domain.KindProviderTransient, "payment lookup failed", err)
	}
	if p.Status != domain.PaymentCompleted {
		s.log.Warn("refund rejected: payment not completed",
			zap.Uint("payment_id", p.ID),
			zap.String("status", p.Status),
			zap.String("source", source))
		return nil, domain.NewError(domain.KindInvariant, "only completed payments can be refunded")
	}
	remaining := p.AmountCents - p.RefundCents
	if amountCents == 0 {
		amountCents = remaining
	}
	if amountCents <= 0 || amountCents > remaining {
		return nil, domain.NewError(domain.KindValidation, "refund amount exceeds refundable balance")
	}

	provider, ok := s.providers[p.Rail]
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "no provider for rail "+p.Rail)
	}
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := provider.Refund(callCtx, payment.RefundRequest{
		Ref:           refundRef(p),
		AmountCents:   amountCents,
		OriginalCents: p.AmountCents,
	})
	if err != nil {
		if errors.Is(err, payment.ErrPartialRefundUnsupported) {
			return nil, domain.NewError(domain.KindValidation, "this rail refunds in full only")
		}
		// Provider failed: nothing local changes, the caller sees the error.
		s.log.Error("provider refund failed",
			zap.Uint("payment_id", p.ID),
			zap.String("rail", p.Rail),
			zap.Int64("amount_cents", amountCents),
			zap.Error(err))
		return nil, domain.WrapError(domain.KindProviderTransient, "provider refund failed", err)
	}

	full := p.RefundCents+amountCents == p.AmountCents
	applied, err := s.payments.ApplyRefund(p.ID, amountCents, reason, full)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race with a concurrent refund of the same payment.
		return nil, domain.NewError(domain.KindInvariant, "payment changed while refunding")
	}

	// Reversed revenue pays no commission. CONFIRMED earnings were already
	// paid out and stay untouched.
	if cancelled, err := s.earnings.CancelByPaymentID(p.ID, domain.EarningCancelReasonRefund); err != nil {
		s.log.Error("earning cancel failed", zap.Uint("payment_id", p.ID), zap.Error(err))
	} else if cancelled {
		s.log.Info("referral earning cancelled", zap.Uint("payment_id", p.ID), zap.String("reason", domain.EarningCancelReasonRefund))
	}

	newStatus := domain.PaymentCompleted
	if full {
		newStatus = domain.PaymentRefunded
		metrics.RecordPaymentTransition(p.Rail, domain.PaymentRefunded, source)
	}
	s.log.Info("payment refunded",
		zap.Uint("payment_id", p.ID),
		zap.String("prior_status", domain.PaymentCompleted),
		zap.String("new_status", newStatus),
		zap.Int64("amount_cents", amountCents),
		zap.Bool("full", full),
		zap.String("source", source))

	s.events.Publish(ctx, PaymentEvent{
		Type:      EventPaymentRefunded,
		PaymentID: p.ID,
		UserID:    p.UserID,
		Amount:    amountCents,
	})
	if user, err := s.users.GetByID(p.UserID); err == nil {
		s.notifier.PaymentRefunded(user.TelegramID, amountCents, full)
	}

	updated, err := s.payments.GetByID(p.ID)
	if err != nil {
		updated = p
	}
	return &RefundOutcome{
		Payment:     updated,
		AmountCents: amountCents,
		Full:        full,
		ProviderRef: result.ProviderRef,
	}, nil
}

// refundRef picks the reference the rail needs to reverse a charge: the
// provider-side charge id for cards, the reference captured at confirmation
// for Stars and TON.
func refundRef(p *models.Payment) string {
	if p.RefundRef != "" {
		return p.RefundRef
	}
	return p.ExternalID
}
