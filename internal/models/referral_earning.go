package models

import "time"

// ReferralEarning is commission owed to a referrer for one completed payment.
// The unique index on PaymentID enforces at most one earning per payment, which
// is what makes the dispatcher safe to retry. PaymentID goes nil only if the
// payment row is ever detached for archival.
//
// Status moves PENDING/CREDITED → CONFIRMED (paid out, immutable thereafter)
// or PENDING/CREDITED → CANCELLED (refund reversed the revenue).
type ReferralEarning struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PaymentID      *uint      `gorm:"uniqueIndex" json:"payment_id"`
	ReferrerID     uint       `gorm:"not null;index" json:"referrer_id"`
	ReferredUserID uint       `gorm:"not null;index" json:"referred_user_id"`
	AmountCents    int64      `gorm:"not null" json:"amount_cents"`
	Currency       string     `gorm:"size:3;default:'USD'" json:"currency"`
	Status         string     `gorm:"size:20;not null;index" json:"status"`
	CancelReason   string     `gorm:"size:64" json:"cancel_reason"`
	CreditedAt     *time.Time `json:"credited_at"`
	CancelledAt    *time.Time `json:"cancelled_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (ReferralEarning) TableName() string { return "referral_earnings" }
