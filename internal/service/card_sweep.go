package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/metrics"
	"lumora/pkg/payment"
)

// CardSweep reconciles card payments stuck in PENDING past the provider
// webhook window. The provider is re-queried before finalizing anything: a
// confirmed charge is promoted (recovering payments a lost webhook stranded),
// a declined one is expired, and a query error falls back to expiring
// conservatively when configured to.
type CardSweep struct {
	payments      PaymentStore
	provider      payment.Provider
	dispatcher    *Dispatcher
	pendingMaxAge time.Duration
	expireOnError bool
	budgetLimit   time.Duration
	batchSize     int
	log           *zap.Logger
}

func NewCardSweep(
	payments PaymentStore,
	provider payment.Provider,
	dispatcher *Dispatcher,
	pendingMaxAge time.Duration,
	expireOnError bool,
	budgetLimit time.Duration,
	batchSize int,
	log *zap.Logger,
) *CardSweep {
	return &CardSweep{
		payments:      payments,
		provider:      provider,
		dispatcher:    dispatcher,
		pendingMaxAge: pendingMaxAge,
		expireOnError: expireOnError,
		budgetLimit:   budgetLimit,
		batchSize:     batchSize,
		log:           log,
	}
}

func (s *CardSweep) Run(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{}
	cutoff := time.Now().Add(-s.pendingMaxAge)
	candidates, err := s.payments.ListStalePending(domain.RailCard, cutoff, s.batchSize)
	if err != nil {
		return nil, err
	}
	b := startBudget(s.budgetLimit)
	for i := range candidates {
		p := &candidates[i]
		if b.exceeded() {
			res.Deferred = len(candidates) - i
			break
		}
		res.Checked++

		callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		status, err := s.provider.QueryStatus(callCtx, p.ExternalID)
		cancel()

		switch {
		case err != nil:
			if !s.expireOnError {
				res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "provider query failed"})
				continue
			}
			// Conservative fallback: a payment we cannot verify is written off.
			claimed, cerr := s.payments.MarkExpired(p.ID, domain.PaymentPending)
			if cerr != nil || !claimed {
				res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "claim lost"})
				continue
			}
			metrics.RecordPaymentTransition(domain.RailCard, domain.PaymentExpired, domain.SourceSweep)
			s.log.Warn("payment expired on provider query error",
				zap.Uint("payment_id", p.ID),
				zap.String("prior_status", domain.PaymentPending),
				zap.String("new_status", domain.PaymentExpired),
				zap.String("source", domain.SourceSweep),
				zap.Error(err))
			res.Expired++
			res.add(SweepItem{PaymentID: p.ID, Action: actionExpired, Detail: "query error fallback"})

		case status == payment.StatusConfirmed:
			// Lost webhook: the provider says paid, promote and dispatch.
			claimed, cerr := s.payments.MarkCompleted(p.ID, "", domain.PaymentPending)
			if cerr != nil || !claimed {
				res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "claim lost"})
				continue
			}
			s.dispatcher.Dispatch(ctx, p, domain.SourceSweep)
			res.Promoted++
			res.add(SweepItem{PaymentID: p.ID, Action: actionPromoted})

		case status.Terminal():
			claimed, cerr := s.payments.MarkExpired(p.ID, domain.PaymentPending)
			if cerr != nil || !claimed {
				res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "claim lost"})
				continue
			}
			metrics.RecordPaymentTransition(domain.RailCard, domain.PaymentExpired, domain.SourceSweep)
			s.log.Info("payment expired",
				zap.Uint("payment_id", p.ID),
				zap.String("prior_status", domain.PaymentPending),
				zap.String("new_status", domain.PaymentExpired),
				zap.String("provider_status", string(status)),
				zap.String("source", domain.SourceSweep))
			res.Expired++
			res.add(SweepItem{PaymentID: p.ID, Action: actionExpired, Detail: string(status)})

		default:
			// Still pending provider-side; age alone never finalizes it.
			res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "still pending"})
		}
	}
	return res, nil
}
