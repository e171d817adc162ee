package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"lumora/internal/domain"
	"lumora/internal/models"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetByID(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByProviderRef(ref string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Where("provider_ref = ?", ref).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ListByUser(userID uint, limit, offset int) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

// ListFiltered pages through all payments, optionally narrowed by rail and
// status. Admin listing only.
func (r *PaymentRepository) ListFiltered(rail, status string, limit, offset int) ([]models.Payment, error) {
	q := r.db.Model(&models.Payment{})
	if rail != "" {
		q = q.Where("rail = ?", rail)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []models.Payment
	err := q.Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

// ListStalePending returns PENDING payments on a rail created before cutoff,
// oldest first, capped at limit. Sweep candidates only; each row is still
// claimed individually before any transition.
func (r *PaymentRepository) ListStalePending(rail string, cutoff time.Time, limit int) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.Where("rail = ? AND status = ? AND created_at < ?", rail, domain.PaymentPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// ListOpenByRail returns PENDING and PROCESSING payments for the chain monitor.
func (r *PaymentRepository) ListOpenByRail(rail string, limit int) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.Where("rail = ? AND status IN ?", rail, []string{domain.PaymentPending, domain.PaymentProcessing}).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// MarkCompleted claims the one transition into COMPLETED: a single conditional
// update that flips status and completed_at together, only while the current
// status is still one of from. Zero rows affected means another invocation won
// the claim and the caller must not dispatch side effects.
func (r *PaymentRepository) MarkCompleted(id uint, refundRef string, from ...string) (bool, error) {
	now := time.Now()
	updates := map[string]any{
		"status":       domain.PaymentCompleted,
		"completed_at": now,
		"updated_at":   now,
	}
	if refundRef != "" {
		updates["refund_ref"] = refundRef
	}
	res := r.db.Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// MarkExpired finalizes a payment that never completed. Conditional on the
// pre-state so it can never regress a COMPLETED payment.
func (r *PaymentRepository) MarkExpired(id uint, from ...string) (bool, error) {
	res := r.db.Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     domain.PaymentExpired,
			"updated_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// AttachChainMatch records the matched transaction on a TON payment and moves
// it PENDING → PROCESSING in the same conditional update. The unique index on
// tx_hash makes the first payment to record a given transaction the only one:
// a duplicate insert surfaces as an error here, never as a double match.
func (r *PaymentRepository) AttachChainMatch(id uint, txHash, refundRef string, confirmations int) (bool, error) {
	res := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ? AND tx_hash IS NULL", id, domain.PaymentPending).
		Updates(map[string]any{
			"status":        domain.PaymentProcessing,
			"tx_hash":       txHash,
			"refund_ref":    refundRef,
			"confirmations": confirmations,
			"updated_at":    time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *PaymentRepository) UpdateConfirmations(id uint, confirmations int) error {
	return r.db.Model(&models.Payment{}).
		Where("id = ?", id).
		UpdateColumn("confirmations", confirmations).Error
}

// TxHashExists reports whether any payment already claimed this transaction.
func (r *PaymentRepository) TxHashExists(txHash string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Payment{}).Where("tx_hash = ?", txHash).Count(&count).Error
	return count > 0, err
}

// ApplyRefund records a (possibly partial) refund. Conditional on COMPLETED
// and on the cumulative refund not exceeding the original amount; full refunds
// also move status to REFUNDED in the same update.
func (r *PaymentRepository) ApplyRefund(id uint, amountCents int64, reason string, full bool) (bool, error) {
	now := time.Now()
	status := domain.RefundPartial
	updates := map[string]any{
		"refund_cents":  gorm.Expr("refund_cents + ?", amountCents),
		"refund_reason": reason,
		"refunded_at":   now,
		"updated_at":    now,
	}
	if full {
		status = domain.RefundFull
		updates["status"] = domain.PaymentRefunded
	}
	updates["refund_status"] = status
	res := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ? AND refund_cents + ? <= amount_cents", id, domain.PaymentCompleted, amountCents).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// ConsumeEntitlement flips the one-way entitlement flag. Succeeds exactly once
// per payment, and only after the payment completed.
func (r *PaymentRepository) ConsumeEntitlement(id uint) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ? AND entitlement_used = ?", id, domain.PaymentCompleted, false).
		Updates(map[string]any{
			"entitlement_used":    true,
			"entitlement_used_at": now,
			"updated_at":          now,
		})
	return res.RowsAffected == 1, res.Error
}
