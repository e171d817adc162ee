package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/metrics"
)

// WebhookIngest applies at most one state transition per delivered event.
// Handlers authenticate the payload first; ingest owns the lookup, the
// idempotent claim, and dispatch. Redelivery of a confirmation for an already
// completed payment acks without re-running any side effect.
type WebhookIngest struct {
	payments   PaymentStore
	dispatcher *Dispatcher
	log        *zap.Logger
}

func NewWebhookIngest(payments PaymentStore, dispatcher *Dispatcher, log *zap.Logger) *WebhookIngest {
	return &WebhookIngest{payments: payments, dispatcher: dispatcher, log: log}
}

// classifyLookup keeps "we have never seen this reference" distinct from "the
// store failed". The former answers 404 with zero mutation; the latter must
// surface as transient so the provider redelivers instead of dropping the
// event.
func classifyLookup(err error) error {
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return err
	}
	return domain.WrapError(domain.KindProviderTransient, "payment lookup failed", err)
}

// Confirm handles a provider "paid" event for our reference. refundRef, when
// the rail supplies one, is stored on the claim for later reversals.
func (s *WebhookIngest) Confirm(ctx context.Context, providerRef, refundRef string) error {
	p, err := s.payments.GetByProviderRef(providerRef)
	if err != nil {
		return classifyLookup(err)
	}
	switch p.Status {
	case domain.PaymentCompleted, domain.PaymentRefunded:
		s.log.Info("webhook redelivery ignored",
			zap.Uint("payment_id", p.ID),
			zap.String("status", p.Status))
		return nil
	case domain.PaymentExpired:
		// Provider says paid after we wrote it off; never regress a terminal
		// state automatically, but make the conflict loud.
		s.log.Error("confirmation for expired payment",
			zap.Uint("payment_id", p.ID),
			zap.String("provider_ref", providerRef))
		return domain.NewError(domain.KindInvariant, "payment already expired")
	}
	claimed, err := s.payments.MarkCompleted(p.ID, refundRef, domain.PaymentPending, domain.PaymentProcessing)
	if err != nil {
		return domain.WrapError(domain.KindProviderTransient, "completion claim failed", err)
	}
	if !claimed {
		// A concurrent delivery or sweep won; converged on the same state.
		return nil
	}
	s.dispatcher.Dispatch(ctx, p, domain.SourceWebhook)
	return nil
}

// Reject handles a provider terminal-negative event: expire the payment if it
// is still open, no-op otherwise.
func (s *WebhookIngest) Reject(ctx context.Context, providerRef, providerStatus string) error {
	p, err := s.payments.GetByProviderRef(providerRef)
	if err != nil {
		return classifyLookup(err)
	}
	if !p.IsOpen() {
		return nil
	}
	claimed, err := s.payments.MarkExpired(p.ID, domain.PaymentPending, domain.PaymentProcessing)
	if err != nil {
		return domain.WrapError(domain.KindProviderTransient, "expiry claim failed", err)
	}
	if claimed {
		metrics.RecordPaymentTransition(p.Rail, domain.PaymentExpired, domain.SourceWebhook)
		s.log.Info("payment expired by provider event",
			zap.Uint("payment_id", p.ID),
			zap.String("prior_status", p.Status),
			zap.String("new_status", domain.PaymentExpired),
			zap.String("provider_status", providerStatus),
			zap.String("source", domain.SourceWebhook))
	}
	return nil
}
