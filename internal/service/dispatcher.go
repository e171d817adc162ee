package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/metrics"
	"lumora/internal/models"
)

// Store interfaces are consumer-side views of the repositories so sweeps and
// dispatch logic can be tested against fakes.

type PaymentStore interface {
	GetByID(id uint) (*models.Payment, error)
	GetByProviderRef(ref string) (*models.Payment, error)
	ListStalePending(rail string, cutoff time.Time, limit int) ([]models.Payment, error)
	ListOpenByRail(rail string, limit int) ([]models.Payment, error)
	MarkCompleted(id uint, refundRef string, from ...string) (bool, error)
	MarkExpired(id uint, from ...string) (bool, error)
	AttachChainMatch(id uint, txHash, refundRef string, confirmations int) (bool, error)
	UpdateConfirmations(id uint, confirmations int) error
	TxHashExists(txHash string) (bool, error)
	ApplyRefund(id uint, amountCents int64, reason string, full bool) (bool, error)
	ConsumeEntitlement(id uint) (bool, error)
}

type EarningStore interface {
	Create(e *models.ReferralEarning) error
	GetByPaymentID(paymentID uint) (*models.ReferralEarning, error)
	CancelByPaymentID(paymentID uint, reason string) (bool, error)
}

type ReferralStore interface {
	GetByReferredUserID(userID uint) (*models.Referral, error)
}

type JobStore interface {
	Create(j *models.GenerationJob) error
	ListStuck(runningCutoff, queuedCutoff time.Time, limit int) ([]models.GenerationJob, error)
	MarkFailed(id uint, reason string) (bool, error)
}

type UserStore interface {
	GetByID(id uint) (*models.User, error)
	SetBusy(userID, jobID uint) (bool, error)
	ClearBusy(userID, jobID uint) error
}

// Dispatcher fires the downstream effects of a payment's first transition into
// COMPLETED: entitlement grant, referral commission, notification, events.
//
// Callers must invoke Dispatch only after winning the MarkCompleted claim, so
// under normal operation it runs once per payment. Every effect inside is
// additionally idempotent (earning keyed by payment id, entitlement one-way)
// so a crash-and-retry or a duplicated call cannot double-apply anything.
type Dispatcher struct {
	payments  PaymentStore
	earnings  EarningStore
	referrals ReferralStore
	jobs      JobStore
	users     UserStore
	notifier  *TelegramNotifier
	events    *EventPublisher
	log       *zap.Logger
}

func NewDispatcher(
	payments PaymentStore,
	earnings EarningStore,
	referrals ReferralStore,
	jobs JobStore,
	users UserStore,
	notifier *TelegramNotifier,
	events *EventPublisher,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		payments:  payments,
		earnings:  earnings,
		referrals: referrals,
		jobs:      jobs,
		users:     users,
		notifier:  notifier,
		events:    events,
		log:       log,
	}
}

type checkoutMeta struct {
	Style string `json:"style,omitempty"`
}

// Dispatch runs the post-completion effects for payment p. source is the
// triggering path (webhook, sweep, chain_monitor) for the transition log.
func (d *Dispatcher) Dispatch(ctx context.Context, p *models.Payment, source string) {
	d.log.Info("payment completed",
		zap.Uint("payment_id", p.ID),
		zap.String("prior_status", p.Status),
		zap.String("new_status", domain.PaymentCompleted),
		zap.String("rail", p.Rail),
		zap.String("source", source))
	metrics.RecordPaymentTransition(p.Rail, domain.PaymentCompleted, source)

	d.events.Publish(ctx, PaymentEvent{
		Type:      EventEntitlementGranted,
		PaymentID: p.ID,
		UserID:    p.UserID,
		Tier:      p.Tier,
		Units:     p.Units,
		Amount:    p.AmountCents,
	})

	d.creditReferrer(p)
	d.autoStartJob(ctx, p)

	if user, err := d.users.GetByID(p.UserID); err == nil {
		d.notifier.PaymentConfirmed(user.TelegramID, p.Tier, p.Units)
	}
}

// creditReferrer inserts at most one CREDITED earning for this payment. The
// existence check keeps a retried dispatch from inserting twice; the unique
// index on payment_id backstops a concurrent race.
func (d *Dispatcher) creditReferrer(p *models.Payment) {
	ref, err := d.referrals.GetByReferredUserID(p.UserID)
	if err != nil {
		d.log.Error("referral lookup failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		return
	}
	if ref == nil {
		return
	}
	existing, err := d.earnings.GetByPaymentID(p.ID)
	if err != nil {
		d.log.Error("earning lookup failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		return
	}
	if existing != nil {
		return
	}
	rate := ref.CommissionRate
	if rate <= 0 {
		rate = domain.ReferralCommissionRate
	}
	commission := int64(float64(p.AmountCents) * rate)
	if commission <= 0 {
		return
	}
	now := time.Now()
	paymentID := p.ID
	err = d.earnings.Create(&models.ReferralEarning{
		PaymentID:      &paymentID,
		ReferrerID:     ref.ReferrerID,
		ReferredUserID: p.UserID,
		AmountCents:    commission,
		Currency:       p.Currency,
		Status:         domain.EarningCredited,
		CreditedAt:     &now,
	})
	if err != nil {
		// Unique index on payment_id: a concurrent dispatch already inserted.
		d.log.Warn("earning insert skipped", zap.Uint("payment_id", p.ID), zap.Error(err))
		return
	}
	d.log.Info("referral commission credited",
		zap.Uint("payment_id", p.ID),
		zap.Uint("referrer_id", ref.ReferrerID),
		zap.Int64("amount_cents", commission))
}

// autoStartJob queues a generation job right away when the payer chose a style
// at checkout, consuming the entitlement in the same flow. Without a style the
// pack stays consumable via the generations endpoint.
func (d *Dispatcher) autoStartJob(ctx context.Context, p *models.Payment) {
	var meta checkoutMeta
	if p.Metadata != "" {
		_ = json.Unmarshal([]byte(p.Metadata), &meta)
	}
	if meta.Style == "" {
		return
	}
	claimed, err := d.payments.ConsumeEntitlement(p.ID)
	if err != nil || !claimed {
		return
	}
	job := &models.GenerationJob{
		UserID:    p.UserID,
		PaymentID: p.ID,
		Style:     meta.Style,
		Units:     p.Units,
		Status:    domain.JobQueued,
	}
	if err := d.jobs.Create(job); err != nil {
		d.log.Error("auto job create failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		return
	}
	if ok, _ := d.users.SetBusy(p.UserID, job.ID); !ok {
		d.log.Warn("user already busy, job queued anyway",
			zap.Uint("user_id", p.UserID), zap.Uint("job_id", job.ID))
	}
	d.events.Publish(ctx, PaymentEvent{
		Type:      EventJobCreated,
		PaymentID: p.ID,
		UserID:    p.UserID,
		JobID:     job.ID,
		Units:     p.Units,
	})
}
