package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"lumora/internal/domain"
	"lumora/internal/models"
)

type EarningRepository struct {
	db *gorm.DB
}

func NewEarningRepository(db *gorm.DB) *EarningRepository {
	return &EarningRepository{db: db}
}

func (r *EarningRepository) Create(e *models.ReferralEarning) error {
	return r.db.Create(e).Error
}

// GetByPaymentID returns the earning for a payment, or nil when none exists.
// The dispatcher checks this before inserting; the unique index on payment_id
// backstops the race between two concurrent dispatches.
func (r *EarningRepository) GetByPaymentID(paymentID uint) (*models.ReferralEarning, error) {
	var e models.ReferralEarning
	err := r.db.Where("payment_id = ?", paymentID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CancelByPaymentID cancels the payment's earning if it is still PENDING or
// CREDITED. CONFIRMED rows (already paid out) are immutable and untouched.
// Returns whether a row was cancelled.
func (r *EarningRepository) CancelByPaymentID(paymentID uint, reason string) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.ReferralEarning{}).
		Where("payment_id = ? AND status IN ?", paymentID, []string{domain.EarningPending, domain.EarningCredited}).
		Updates(map[string]any{
			"status":        domain.EarningCancelled,
			"cancel_reason": reason,
			"cancelled_at":  now,
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *EarningRepository) ListByReferrer(referrerID uint, limit, offset int) ([]models.ReferralEarning, error) {
	var list []models.ReferralEarning
	err := r.db.Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

// CreditedTotal sums the referrer's earnings that are credited but not yet
// paid out.
func (r *EarningRepository) CreditedTotal(referrerID uint) (int64, error) {
	var total int64
	err := r.db.Model(&models.ReferralEarning{}).
		Where("referrer_id = ? AND status = ?", referrerID, domain.EarningCredited).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}
